package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

const (
	// initialFrameBuffer is the initial read buffer for one frame.
	initialFrameBuffer = 256 * 1024
	// MaxFrameSize bounds a single newline-delimited frame.
	MaxFrameSize = 16 * 1024 * 1024
)

// ErrFrameTooLarge is returned by Decoder.Next when a frame exceeds
// MaxFrameSize. The stream cannot be resynchronised after it. Encoder.Encode
// returns it without writing anything, so the stream stays usable.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// FrameError reports a frame that was delimited correctly but could not be
// decoded as JSON-RPC. The stream itself remains usable.
type FrameError struct {
	Raw []byte
	Err error
}

// Error implements the error interface.
func (e *FrameError) Error() string {
	return fmt.Sprintf("malformed frame: %v", e.Err)
}

// Unwrap returns the decode error.
func (e *FrameError) Unwrap() error {
	return e.Err
}

// Answerable reports whether the peer expects an error reply for this
// undecodable frame. Frames shaped like responses get none, so two peers
// never trade errors about each other's errors.
func (e *FrameError) Answerable() bool {
	var head struct {
		Method string          `json:"method"`
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(e.Raw, &head); err != nil {
		return true
	}
	return head.Method != "" || (head.Result == nil && head.Error == nil)
}

// Code returns the JSON-RPC error code describing the frame: a parse error
// for invalid JSON, an invalid request otherwise.
func (e *FrameError) Code() int64 {
	if json.Valid(e.Raw) {
		return CodeInvalidRequest
	}
	return CodeParseError
}

// EncodeMessage serializes a JSON-RPC message to its wire format.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// DecodeMessage deserializes one frame into a *jsonrpc.Request or
// *jsonrpc.Response.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// Encoder writes newline-delimited JSON-RPC frames. It is not safe for
// concurrent use; connections only write from their event loop.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes msg followed by a newline in a single Write call. Frames the
// peer's Decoder would reject are not written.
func (e *Encoder) Encode(msg jsonrpc.Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(data) >= MaxFrameSize {
		return fmt.Errorf("encode frame of %d bytes: %w", len(data), ErrFrameTooLarge)
	}
	if _, err := e.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Decoder reads newline-delimited JSON-RPC frames.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialFrameBuffer), MaxFrameSize)
	return &Decoder{scanner: scanner}
}

// Next reads the next frame. It returns io.EOF when the stream ends cleanly,
// a *FrameError for an undecodable frame (the caller may continue reading)
// and any other error for a broken stream.
func (d *Decoder) Next() (*Message, error) {
	for d.scanner.Scan() {
		raw := d.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		msg := &Message{
			Raw:       append([]byte(nil), raw...),
			Direction: Inbound,
			Timestamp: time.Now(),
		}
		decoded, err := DecodeMessage(msg.Raw)
		if err != nil {
			return nil, &FrameError{Raw: msg.Raw, Err: err}
		}
		msg.Decoded = decoded
		return msg, nil
	}
	if err := d.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, ErrFrameTooLarge
		}
		return nil, err
	}
	return nil, io.EOF
}
