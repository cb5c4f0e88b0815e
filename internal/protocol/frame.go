// Package protocol implements the binary request/response framing and
// command-code taxonomy shared by the TCP/TLS/QUIC transports (spec §4.6,
// §6 "Wire protocol").
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/adred-codev/streambroker/internal/ierror"
)

// HeaderSize is the fixed request-frame prefix: total_length(4) |
// command_code(4).
const HeaderSize = 8

// MaxFrameLength bounds a single frame to guard against a corrupt or
// hostile length prefix allocating unbounded memory.
const MaxFrameLength = 64 * 1024 * 1024

// Request is one decoded request frame.
type Request struct {
	CommandCode uint32
	Payload     []byte
}

// ReadRequest reads one length-prefixed request frame from r (spec §6:
// total_length(4, LE) | command_code(4, LE) | payload).
func ReadRequest(r io.Reader) (Request, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Request{}, err
	}
	totalLength := binary.LittleEndian.Uint32(lenBuf[:])
	if totalLength < 4 {
		return Request{}, ierror.New(ierror.InvalidCommand, "frame total_length shorter than command_code")
	}
	if totalLength > MaxFrameLength {
		return Request{}, ierror.New(ierror.InvalidCommand, fmt.Sprintf("frame total_length %d exceeds max %d", totalLength, MaxFrameLength))
	}

	var codeBuf [4]byte
	if _, err := io.ReadFull(r, codeBuf[:]); err != nil {
		return Request{}, err
	}
	code := binary.LittleEndian.Uint32(codeBuf[:])

	payload := make([]byte, totalLength-4)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Request{}, err
		}
	}
	return Request{CommandCode: code, Payload: payload}, nil
}

// Response is one response frame: status(4) | payload_length(4) | payload.
type Response struct {
	Status  uint32
	Payload []byte
}

// WriteResponse writes resp to w as a single framed message.
func WriteResponse(w io.Writer, resp Response) error {
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], resp.Status)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(resp.Payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(resp.Payload) > 0 {
		if _, err := w.Write(resp.Payload); err != nil {
			return err
		}
	}
	return nil
}

// WriteVectoredResponse writes a status/length header followed by any
// number of body slices without concatenating them first, matching the
// poll response's vectored write (spec §4.6, §9 "Arenas").
func WriteVectoredResponse(w io.Writer, status uint32, parts ...[]byte) error {
	var total int
	for _, p := range parts {
		total += len(p)
	}
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], status)
	binary.LittleEndian.PutUint32(header[4:8], uint32(total))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		if _, err := w.Write(p); err != nil {
			return err
		}
	}
	return nil
}

// ErrorResponse builds the response frame for a failed command: non-zero
// status, empty payload (spec §4.6).
func ErrorResponse(kind ierror.Kind) Response {
	return Response{Status: kind.Status()}
}
