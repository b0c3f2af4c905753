// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
)

// ErrNegativeLength is returned by [*ByteAccumulator.Feed] when a PACKET
// record declares a negative length (§4.A point 3); this is the one
// protocol error that is fatal to the stream, since there is no way to
// know where the (absent) payload ends.
var ErrNegativeLength = errors.New("netmux: negative packet length")

type accumulatorPhase int

const (
	phaseSearchType accumulatorPhase = iota
	phasePacketID
	phasePacketLength
	phasePacketData
	phaseCheckUUID
	phaseCheckReplyUUID
)

// ByteAccumulator incrementally reassembles the six record kinds (the five
// of §4.A plus CONNECTED)
// from an arbitrarily fragmented byte feed. It is owned by exactly one
// connection and fed by exactly one reader goroutine; it performs no
// internal locking (§4.A "Thread-safety").
//
// On every byte fed, at most one phase transition occurs and at most one
// fully assembled record is emitted, matching the accumulator invariant
// in §3.
type ByteAccumulator struct {
	mapping PacketIdMappingProvider
	logger  SLogger
	spanID  string
	coders  *CoderPool

	phase accumulatorPhase

	i32buf [4]byte
	i32n   int

	payload     []byte
	payloadNeed int

	pendingKind     RecordKind
	pendingPacketID int32
}

// NewByteAccumulator returns a [*ByteAccumulator] ready to feed. mapping
// resolves PACKET record packet_ids to factories; logger receives warnings
// for unknown magic and unmapped ids, tagged with spanID (the owning
// connection's [NewSpanID] result).
func NewByteAccumulator(mapping PacketIdMappingProvider, logger SLogger, spanID string) *ByteAccumulator {
	return &ByteAccumulator{
		mapping: mapping,
		logger:  logger,
		spanID:  spanID,
		phase:   phaseSearchType,
	}
}

// SetCoderPool attaches pool, offloading each PACKET record's [Packet.ReadData]
// call onto it (§4.D). Called once by [NewConnection] after construction;
// a nil or disabled pool makes decoding run inline exactly as before.
func (a *ByteAccumulator) SetCoderPool(pool *CoderPool) {
	a.coders = pool
}

// Feed consumes data and returns every record fully assembled as a result,
// in wire order. A PACKET record whose packet_id has no mapping is
// dropped (logged, not returned) rather than closing the connection.
//
// Feed returns [ErrNegativeLength] if a PACKET declares a negative length;
// the caller should treat this as a fatal protocol error for the
// connection (§4.A point 3, §7).
func (a *ByteAccumulator) Feed(data []byte) ([]Record, error) {
	var out []Record
	for _, b := range data {
		rec, err := a.feedByte(b)
		if err != nil {
			return out, err
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (a *ByteAccumulator) feedByte(b byte) (*Record, error) {
	switch a.phase {
	case phaseSearchType:
		return a.feedI32Byte(b, a.dispatchType)

	case phasePacketID:
		return a.feedI32Byte(b, a.dispatchPacketID)

	case phasePacketLength:
		return a.feedI32Byte(b, a.dispatchPacketLength)

	case phasePacketData:
		a.payload = append(a.payload, b)
		if len(a.payload) < a.payloadNeed {
			return nil, nil
		}
		return a.emitPacket()

	case phaseCheckUUID:
		return a.feedI32Byte(b, func(v int32) (*Record, error) {
			a.resetPhase()
			return &Record{Kind: RecordCheck, UUID: v}, nil
		})

	case phaseCheckReplyUUID:
		return a.feedI32Byte(b, func(v int32) (*Record, error) {
			a.resetPhase()
			return &Record{Kind: RecordCheckReply, UUID: v}, nil
		})

	default:
		panic("netmux: accumulator: unreachable phase")
	}
}

// feedI32Byte buffers b into the 4-byte integer window; once full it
// decodes a big-endian signed i32 and invokes onComplete, resetting the
// window for the next integer read regardless of which phase comes next.
func (a *ByteAccumulator) feedI32Byte(b byte, onComplete func(int32) (*Record, error)) (*Record, error) {
	a.i32buf[a.i32n] = b
	a.i32n++
	if a.i32n < 4 {
		return nil, nil
	}
	v := int32(binary.BigEndian.Uint32(a.i32buf[:]))
	a.i32n = 0
	return onComplete(v)
}

func (a *ByteAccumulator) dispatchType(v int32) (*Record, error) {
	kind := RecordKind(v)
	switch kind {
	case RecordPacket:
		a.phase = phasePacketID
		return nil, nil

	case RecordCheck:
		a.phase = phaseCheckUUID
		return nil, nil

	case RecordCheckReply:
		a.phase = phaseCheckReplyUUID
		return nil, nil

	case RecordLogin, RecordLogout, RecordConnected:
		a.resetPhase()
		return &Record{Kind: kind}, nil

	default:
		// Unknown magic: no declared payload follows, so the stream
		// stays aligned on the next 4-byte word without any special
		// resync logic (§4.A, §9).
		a.logger.Info("unknownRecordMagic",
			slog.String("spanID", a.spanID),
			slog.String("magic", kind.String()),
		)
		a.resetPhase()
		return nil, nil
	}
}

func (a *ByteAccumulator) dispatchPacketID(v int32) (*Record, error) {
	a.pendingPacketID = v
	a.phase = phasePacketLength
	return nil, nil
}

func (a *ByteAccumulator) dispatchPacketLength(v int32) (*Record, error) {
	if v < 0 {
		a.resetPhase()
		return nil, ErrNegativeLength
	}
	if v == 0 {
		return a.emitPacket()
	}
	a.pendingKind = RecordPacket
	a.payloadNeed = int(v)
	a.payload = make([]byte, 0, v)
	a.phase = phasePacketData
	return nil, nil
}

func (a *ByteAccumulator) emitPacket() (*Record, error) {
	rec := &Record{
		Kind:       RecordPacket,
		PacketID:   a.pendingPacketID,
		PacketBody: a.payload,
	}
	a.resetPhase()

	factory, ok := a.mapping.Lookup(rec.PacketID)
	if !ok {
		a.logger.Info("unmappedPacketID",
			slog.String("spanID", a.spanID),
			slog.Int("packetID", int(rec.PacketID)),
		)
		return nil, nil
	}

	pkt := factory()
	if err := a.decode(pkt, rec.PacketBody); err != nil {
		a.logger.Info("packetDecodeError",
			slog.String("spanID", a.spanID),
			slog.Int("packetID", int(rec.PacketID)),
			slog.Any("err", err),
		)
		return nil, nil
	}
	rec.DecodedPacket = pkt
	return rec, nil
}

// decode runs pkt.ReadData against body, offloading onto the attached
// [*CoderPool] when one is set (§4.D). The accumulator's own Feed call
// blocks until decoding completes either way, since every caller needs the
// resulting [Record] before it can keep feeding the next bytes.
func (a *ByteAccumulator) decode(pkt Packet, body []byte) error {
	if a.coders == nil {
		return pkt.ReadData(bytes.NewReader(body))
	}

	ctx := context.Background()
	if a.coders.IsValidCoderThread(ctx) {
		// Either the pool is disabled, or a Packet.ReadData implementation
		// is recursively decoding a nested packet from within its own
		// pool-worker task; submitting again here could queue behind work
		// that is waiting on us, so decode inline instead (§4.D usage rule).
		return pkt.ReadData(bytes.NewReader(body))
	}

	var decodeErr error
	done := make(chan struct{})
	submitErr := a.coders.Submit(ctx, func(context.Context) {
		decodeErr = pkt.ReadData(bytes.NewReader(body))
		close(done)
	})
	if submitErr != nil {
		return submitErr
	}
	<-done
	return decodeErr
}

func (a *ByteAccumulator) resetPhase() {
	a.phase = phaseSearchType
	a.i32n = 0
	a.payload = nil
	a.payloadNeed = 0
	a.pendingPacketID = 0
	a.pendingKind = 0
}
