// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedMapping struct {
	ids map[int32]PacketFactory
}

func (m fixedMapping) Lookup(id int32) (PacketFactory, bool) {
	f, ok := m.ids[id]
	return f, ok
}

func helloMapping() fixedMapping {
	return fixedMapping{ids: map[int32]PacketFactory{
		7: func() Packet { return &stubPacket{} },
	}}
}

// Framing split bytes: scenario 2 from the test matrix. Encoding a PACKET
// then a CHECK and feeding the resulting bytes one at a time, two at a
// time, and all at once must always yield the identical record sequence.
func TestByteAccumulatorFramingSplit(t *testing.T) {
	body := []byte{0x61}
	packetBytes := EncodeRecord(RecordPacket, 7, body, 0, 256)
	checkBytes := EncodeRecord(RecordCheck, 0, nil, 42, 256)
	wire := append(append([]byte{}, packetBytes...), checkBytes...)

	chunkSizes := []int{1, 2, len(wire)}
	for _, size := range chunkSizes {
		acc := NewByteAccumulator(helloMapping(), DefaultSLogger(), "span")

		var records []Record
		for i := 0; i < len(wire); i += size {
			end := i + size
			if end > len(wire) {
				end = len(wire)
			}
			recs, err := acc.Feed(wire[i:end])
			require.NoError(t, err)
			records = append(records, recs...)
		}

		require.Len(t, records, 2, "chunk size %d", size)
		assert.Equal(t, RecordPacket, records[0].Kind)
		assert.Equal(t, int32(7), records[0].PacketID)
		assert.Equal(t, body, records[0].PacketBody)
		assert.Equal(t, RecordCheck, records[1].Kind)
		assert.Equal(t, int32(42), records[1].UUID)
	}
}

func TestByteAccumulatorCheckReply(t *testing.T) {
	acc := NewByteAccumulator(helloMapping(), DefaultSLogger(), "span")
	wire := EncodeRecord(RecordCheckReply, 0, nil, 99, 256)

	records, err := acc.Feed(wire)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, RecordCheckReply, records[0].Kind)
	assert.Equal(t, int32(99), records[0].UUID)
}

func TestByteAccumulatorHandshakeRecords(t *testing.T) {
	acc := NewByteAccumulator(helloMapping(), DefaultSLogger(), "span")

	for _, kind := range []RecordKind{RecordLogin, RecordLogout, RecordConnected} {
		wire := EncodeRecord(kind, 0, nil, 0, 256)
		records, err := acc.Feed(wire)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, kind, records[0].Kind)
	}
}

func TestByteAccumulatorUnmappedPacketIDDropped(t *testing.T) {
	acc := NewByteAccumulator(helloMapping(), DefaultSLogger(), "span")
	wire := EncodeRecord(RecordPacket, 999, []byte("x"), 0, 256)

	records, err := acc.Feed(wire)
	require.NoError(t, err)
	assert.Empty(t, records, "unmapped packet id must be dropped, not error")
}

func TestByteAccumulatorUnknownMagicDoesNotDesync(t *testing.T) {
	acc := NewByteAccumulator(helloMapping(), DefaultSLogger(), "span")

	unknown := make([]byte, 4)
	unknown[0], unknown[1], unknown[2], unknown[3] = 0xFE, 0xDC, 0xBA, 0x99
	checkBytes := EncodeRecord(RecordCheck, 0, nil, 7, 256)

	wire := append(unknown, checkBytes...)
	records, err := acc.Feed(wire)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, RecordCheck, records[0].Kind)
	assert.Equal(t, int32(7), records[0].UUID)
}

func TestByteAccumulatorNegativeLengthRejected(t *testing.T) {
	acc := NewByteAccumulator(helloMapping(), DefaultSLogger(), "span")

	buf := append([]byte{}, EncodeRecord(RecordPacket, 7, nil, 0, 256)...)
	require.Len(t, buf, 12, "kind(4) + packet_id(4) + length(4) with no body")
	// Overwrite the length field (bytes 8..12) with -1.
	buf[8], buf[9], buf[10], buf[11] = 0xFF, 0xFF, 0xFF, 0xFF

	_, err := acc.Feed(buf)
	assert.ErrorIs(t, err, ErrNegativeLength)
}

func TestByteAccumulatorZeroLengthPacket(t *testing.T) {
	acc := NewByteAccumulator(helloMapping(), DefaultSLogger(), "span")
	wire := EncodeRecord(RecordPacket, 7, nil, 0, 256)

	records, err := acc.Feed(wire)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int32(7), records[0].PacketID)
	assert.Empty(t, records[0].PacketBody)
}
