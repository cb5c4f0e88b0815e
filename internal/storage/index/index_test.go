package index

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rec := Record{RelativeOffset: 7, BytePosition: 4096, Timestamp: 123456789}
	decoded, err := Decode(Encode(rec))
	require.NoError(t, err)
	require.Equal(t, rec, decoded)
}

func TestFloorAndCeilByOffset(t *testing.T) {
	idx := New()
	idx.Append(Record{RelativeOffset: 0, BytePosition: 0, Timestamp: 100})
	idx.Append(Record{RelativeOffset: 5, BytePosition: 200, Timestamp: 150})
	idx.Append(Record{RelativeOffset: 10, BytePosition: 400, Timestamp: 200})

	floor, ok := idx.FloorByOffset(7)
	require.True(t, ok)
	require.Equal(t, uint32(5), floor.RelativeOffset)

	_, ok = idx.FloorByOffset(0)
	require.True(t, ok)

	ceil, ok := idx.CeilByOffset(6)
	require.True(t, ok)
	require.Equal(t, uint32(10), ceil.RelativeOffset)

	_, ok = idx.CeilByOffset(11)
	require.False(t, ok)
}

func TestLoadRejectsNonMonotonicOffsets(t *testing.T) {
	data := append(Encode(Record{RelativeOffset: 5}), Encode(Record{RelativeOffset: 5})...)
	_, err := Load(data)
	require.Error(t, err)
}

func TestTruncateDropsRecordsPastLastValidOffset(t *testing.T) {
	idx := New()
	idx.Append(Record{RelativeOffset: 0, BytePosition: 0})
	idx.Append(Record{RelativeOffset: 1, BytePosition: 16})
	idx.Append(Record{RelativeOffset: 2, BytePosition: 32})

	idx.Truncate(1)
	require.Equal(t, 2, idx.Len())
	last, ok := idx.Last()
	require.True(t, ok)
	require.Equal(t, uint32(1), last.RelativeOffset)
}
