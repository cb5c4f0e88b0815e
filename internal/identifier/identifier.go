// Package identifier implements the tagged-union resource identifier used
// throughout the wire protocol: kind(1) | length(1) | bytes, per spec §6.
package identifier

import (
	"encoding/binary"
	"fmt"
)

// Kind selects whether an Identifier carries a numeric id or a name.
type Kind byte

const (
	KindNumeric Kind = 1
	KindString  Kind = 2
)

const maxStringLen = 255

// Identifier addresses a stream/topic/partition/user either by numeric id or
// by name.
type Identifier struct {
	Kind   Kind
	Number uint32
	Name   string
}

// Numeric builds a numeric identifier.
func Numeric(id uint32) Identifier {
	return Identifier{Kind: KindNumeric, Number: id}
}

// Named builds a string identifier.
func Named(name string) Identifier {
	return Identifier{Kind: KindString, Name: name}
}

// String implements fmt.Stringer for logging.
func (i Identifier) String() string {
	if i.Kind == KindNumeric {
		return fmt.Sprintf("#%d", i.Number)
	}
	return i.Name
}

// Encode appends the wire form of i to buf and returns the result.
func (i Identifier) Encode(buf []byte) ([]byte, error) {
	switch i.Kind {
	case KindNumeric:
		buf = append(buf, byte(KindNumeric), 4)
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], i.Number)
		return append(buf, tmp[:]...), nil
	case KindString:
		if len(i.Name) == 0 || len(i.Name) > maxStringLen {
			return nil, fmt.Errorf("identifier: name length %d out of range", len(i.Name))
		}
		buf = append(buf, byte(KindString), byte(len(i.Name)))
		return append(buf, i.Name...), nil
	default:
		return nil, fmt.Errorf("identifier: unknown kind %d", i.Kind)
	}
}

// Decode reads one Identifier from the front of data, returning the
// identifier and the number of bytes consumed.
func Decode(data []byte) (Identifier, int, error) {
	if len(data) < 2 {
		return Identifier{}, 0, fmt.Errorf("identifier: truncated header")
	}
	kind := Kind(data[0])
	length := int(data[1])
	if len(data) < 2+length {
		return Identifier{}, 0, fmt.Errorf("identifier: truncated body")
	}
	body := data[2 : 2+length]
	switch kind {
	case KindNumeric:
		if length != 4 {
			return Identifier{}, 0, fmt.Errorf("identifier: numeric length must be 4, got %d", length)
		}
		return Identifier{Kind: KindNumeric, Number: binary.LittleEndian.Uint32(body)}, 2 + length, nil
	case KindString:
		if length == 0 {
			return Identifier{}, 0, fmt.Errorf("identifier: empty name")
		}
		return Identifier{Kind: KindString, Name: string(body)}, 2 + length, nil
	default:
		return Identifier{}, 0, fmt.Errorf("identifier: unknown kind %d", kind)
	}
}
