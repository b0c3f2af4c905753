// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import "fmt"

// NetworkIdFeature selects which optional attribute a [NetworkId] carries.
type NetworkIdFeature int

const (
	// FeatureInternal addresses an in-process peer by name.
	FeatureInternal NetworkIdFeature = iota

	// FeatureBind addresses a local listening port.
	FeatureBind

	// FeatureConnect addresses a remote host:port pair.
	FeatureConnect
)

// String implements [fmt.Stringer].
func (f NetworkIdFeature) String() string {
	switch f {
	case FeatureInternal:
		return "internal"
	case FeatureBind:
		return "bind"
	case FeatureConnect:
		return "connect"
	default:
		return "unknown"
	}
}

// NetworkId is an immutable value addressing a peer, a bind point, or an
// in-process name. It carries a human description plus exactly one of
// three features: [FeatureInternal], [FeatureBind], or [FeatureConnect].
//
// Equality and hashing are defined by description alone (see [NetworkId.Equal]
// and use as a map key): within one manager's registry the description
// uniquely identifies a peer, but the library does not itself enforce this —
// callers must pick distinct descriptions.
type NetworkId struct {
	description string
	feature     NetworkIdFeature
	name        string
	port        int
	addr        string
}

// NewInternalId returns a [NetworkId] with [FeatureInternal] addressing an
// in-process peer by name. The description defaults to name.
func NewInternalId(name string) NetworkId {
	return NetworkId{description: name, feature: FeatureInternal, name: name}
}

// NewBindId returns a [NetworkId] with [FeatureBind] addressing a local
// listening port. The description defaults to "bind:<port>".
func NewBindId(port int) NetworkId {
	return NetworkId{description: fmt.Sprintf("bind:%d", port), feature: FeatureBind, port: port}
}

// NewConnectId returns a [NetworkId] with [FeatureConnect] addressing a
// remote address. The description defaults to "connect:<addr>".
func NewConnectId(addr string) NetworkId {
	return NetworkId{description: fmt.Sprintf("connect:%s", addr), feature: FeatureConnect, addr: addr}
}

// Description returns the id's description string, the sole basis for
// equality and for use as a map key.
func (id NetworkId) Description() string {
	return id.description
}

// Feature returns which of [FeatureInternal], [FeatureBind], or
// [FeatureConnect] this id carries.
func (id NetworkId) Feature() NetworkIdFeature {
	return id.feature
}

// Name returns the in-process peer name. Only meaningful when
// [NetworkId.Feature] is [FeatureInternal].
func (id NetworkId) Name() string {
	return id.name
}

// Port returns the local listening port. Only meaningful when
// [NetworkId.Feature] is [FeatureBind].
func (id NetworkId) Port() int {
	return id.port
}

// Addr returns the remote host:port pair. Only meaningful when
// [NetworkId.Feature] is [FeatureConnect].
func (id NetworkId) Addr() string {
	return id.addr
}

// WithDescription returns a copy of id with a replaced description, leaving
// the feature and its payload unchanged.
func (id NetworkId) WithDescription(description string) NetworkId {
	id.description = description
	return id
}

// Equal reports whether id and other share the same description.
func (id NetworkId) Equal(other NetworkId) bool {
	return id.description == other.description
}

// String implements [fmt.Stringer].
func (id NetworkId) String() string {
	return id.description
}
