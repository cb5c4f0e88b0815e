package codec

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecodeBodyRoundTrip(t *testing.T) {
	messages := []PendingMessage{
		{ID: MessageID{1}, Timestamp: 1000, Payload: []byte("first")},
		{ID: MessageID{2}, Timestamp: 1005, Headers: []byte("h"), Payload: []byte("second")},
		{ID: MessageID{3}, Timestamp: 1002, Payload: []byte("third")},
	}

	body, maxTimestamp := EncodeBody(999, messages)
	if maxTimestamp != 1005 {
		t.Fatalf("expected max timestamp 1005, got %d", maxTimestamp)
	}

	header := BatchHeader{BaseOffset: 10, MaxTimestamp: maxTimestamp}
	decoded, err := DecodeBody(header, body)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}

	want := []Message{
		{ID: MessageID{1}, Offset: 10, Timestamp: 1000, Headers: []byte{}, Payload: []byte("first")},
		{ID: MessageID{2}, Offset: 11, Timestamp: 1005, Headers: []byte("h"), Payload: []byte("second")},
		{ID: MessageID{3}, Offset: 12, Timestamp: 1002, Headers: []byte{}, Payload: []byte("third")},
	}

	if diff := cmp.Diff(want, decoded); diff != "" {
		t.Fatalf("decoded messages mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	h := BatchHeader{BaseOffset: 42, Length: 128, LastOffsetDelta: 3, MaxTimestamp: 99999, Attributes: 2}
	decoded, err := DecodeHeader(EncodeHeader(h))
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if diff := cmp.Diff(h, decoded); diff != "" {
		t.Fatalf("header round-trip mismatch (-want +got):\n%s", diff)
	}
}
