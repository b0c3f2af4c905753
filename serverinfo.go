// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"encoding/binary"
	"net"
)

// recordServerInfoRequest is the magic of an extended-deployment
// connectionless probe (§4.A note, §9): a single unsolicited 4-byte UDP
// datagram asking whether a server is listening, answered without
// materializing a connection. This library treats it as out of core
// scope (§1) and implements only the minimal reply [Config.AllowDetection]
// describes.
const recordServerInfoRequest int32 = 0xFEDCBA06

// recordServerInfoReply is written back verbatim as the detection ack.
const recordServerInfoReply int32 = 0xFEDCBA07

// maybeReplyServerInfo answers an unsolicited probe from an address with no
// registered peer. It reports whether data was a probe it handled, so the
// caller can skip treating the datagram as a LOGIN attempt.
func (s *ServerManager) maybeReplyServerInfo(data []byte, addr *net.UDPAddr) bool {
	if !s.cfg.AllowDetection || len(data) != 4 {
		return false
	}
	if int32(binary.BigEndian.Uint32(data)) != recordServerInfoRequest {
		return false
	}

	var reply [4]byte
	binary.BigEndian.PutUint32(reply[:], uint32(recordServerInfoReply))
	_, _ = s.udpConn.WriteToUDP(reply[:], addr)
	return true
}
