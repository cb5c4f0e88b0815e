// Package codec implements the on-disk batch/message wire format from
// spec §3 ("Log record (on disk)"): a batch header followed by concatenated
// fixed-prefix messages. All integers are little-endian.
package codec

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed byte width of a batch header.
const HeaderSize = 8 + 4 + 4 + 8 + 2

// MessagePrefixSize is the fixed byte width preceding a message's headers
// and payload: id(16) | offset_delta(4) | timestamp_delta(4) |
// payload_length(4) | headers_length(4).
const MessagePrefixSize = 16 + 4 + 4 + 4 + 4

// MessageID is the 128-bit deduplication identifier carried by a message.
type MessageID [16]byte

// IsZero reports whether the id is the all-zero sentinel meaning
// "deduplication not requested for this message" (spec §4.2 step 1).
func (m MessageID) IsZero() bool {
	return m == MessageID{}
}

// Message is one decoded application message within a batch.
type Message struct {
	ID        MessageID
	Offset    uint64 // absolute offset, resolved from base_offset + offset_delta
	Timestamp uint64 // absolute timestamp, resolved as max_timestamp - timestamp_delta
	Headers   []byte
	Payload   []byte
}

// BatchHeader is the fixed-width prefix of every persisted batch.
type BatchHeader struct {
	BaseOffset      uint64
	Length          uint32 // byte length of the body that follows the header
	LastOffsetDelta uint32
	MaxTimestamp    uint64
	Attributes      uint16
}

// EncodeHeader writes h into a fresh HeaderSize-byte slice.
func EncodeHeader(h BatchHeader) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.BaseOffset)
	binary.LittleEndian.PutUint32(buf[8:12], h.Length)
	binary.LittleEndian.PutUint32(buf[12:16], h.LastOffsetDelta)
	binary.LittleEndian.PutUint64(buf[16:24], h.MaxTimestamp)
	binary.LittleEndian.PutUint16(buf[24:26], h.Attributes)
	return buf
}

// DecodeHeader reads a BatchHeader from the front of data.
func DecodeHeader(data []byte) (BatchHeader, error) {
	if len(data) < HeaderSize {
		return BatchHeader{}, fmt.Errorf("codec: truncated batch header (%d bytes)", len(data))
	}
	return BatchHeader{
		BaseOffset:      binary.LittleEndian.Uint64(data[0:8]),
		Length:          binary.LittleEndian.Uint32(data[8:12]),
		LastOffsetDelta: binary.LittleEndian.Uint32(data[12:16]),
		MaxTimestamp:    binary.LittleEndian.Uint64(data[16:24]),
		Attributes:      binary.LittleEndian.Uint16(data[24:26]),
	}, nil
}

// PendingMessage is an application message not yet assigned an offset;
// Partition.Append fills in Offset/Timestamp deltas relative to the batch.
type PendingMessage struct {
	ID        MessageID
	Timestamp uint64
	Headers   []byte
	Payload   []byte
}

// EncodeBody concatenates messages into one batch body, assigning message i
// an offset_delta of i. Since the batch header carries only max_timestamp
// (spec §3) and no base timestamp, timestamp_delta is defined as the
// distance *below* the batch's max timestamp (max_timestamp - delta ==
// message timestamp); this resolves the spec's otherwise-ambiguous delta
// base (see DESIGN.md). It returns the body bytes and the max timestamp
// observed, which the caller stores in the batch header.
func EncodeBody(fallbackTimestamp uint64, messages []PendingMessage) (body []byte, maxTimestamp uint64) {
	maxTimestamp = fallbackTimestamp
	for _, m := range messages {
		ts := m.Timestamp
		if ts == 0 {
			ts = fallbackTimestamp
		}
		if ts > maxTimestamp {
			maxTimestamp = ts
		}
	}

	size := 0
	for _, m := range messages {
		size += MessagePrefixSize + len(m.Headers) + len(m.Payload)
	}
	body = make([]byte, 0, size)

	for i, m := range messages {
		ts := m.Timestamp
		if ts == 0 {
			ts = fallbackTimestamp
		}
		tsDelta := uint32(maxTimestamp - ts)

		var prefix [MessagePrefixSize]byte
		copy(prefix[0:16], m.ID[:])
		binary.LittleEndian.PutUint32(prefix[16:20], uint32(i))
		binary.LittleEndian.PutUint32(prefix[20:24], tsDelta)
		binary.LittleEndian.PutUint32(prefix[24:28], uint32(len(m.Payload)))
		binary.LittleEndian.PutUint32(prefix[28:32], uint32(len(m.Headers)))

		body = append(body, prefix[:]...)
		body = append(body, m.Headers...)
		body = append(body, m.Payload...)
	}
	return body, maxTimestamp
}

// DecodeBody walks a batch body and returns its messages with absolute
// offsets/timestamps resolved against the batch header.
func DecodeBody(h BatchHeader, body []byte) ([]Message, error) {
	var out []Message
	pos := 0
	for pos < len(body) {
		if len(body)-pos < MessagePrefixSize {
			return nil, fmt.Errorf("codec: truncated message prefix at byte %d", pos)
		}
		var id MessageID
		copy(id[:], body[pos:pos+16])
		offsetDelta := binary.LittleEndian.Uint32(body[pos+16 : pos+20])
		tsDelta := binary.LittleEndian.Uint32(body[pos+20 : pos+24])
		payloadLen := binary.LittleEndian.Uint32(body[pos+24 : pos+28])
		headersLen := binary.LittleEndian.Uint32(body[pos+28 : pos+32])
		pos += MessagePrefixSize

		total := int(headersLen) + int(payloadLen)
		if len(body)-pos < total {
			return nil, fmt.Errorf("codec: truncated message body at byte %d", pos)
		}
		headers := body[pos : pos+int(headersLen)]
		pos += int(headersLen)
		payload := body[pos : pos+int(payloadLen)]
		pos += int(payloadLen)

		out = append(out, Message{
			ID:        id,
			Offset:    h.BaseOffset + uint64(offsetDelta),
			Timestamp: h.MaxTimestamp - uint64(tsDelta),
			Headers:   headers,
			Payload:   payload,
		})
	}
	return out, nil
}
