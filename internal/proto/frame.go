package proto

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/SWAI-Ltd/cerberus/internal/proof"
)

// Frame types
const (
	FrameTypeHello = 1
	FrameTypeOnion = 2
	FrameTypeAck   = 3
	FrameTypeError = 4
)

// MaxFrameSize caps a single encoded frame.
const MaxFrameSize = 1024 * 1024

// HelloFrame introduces a node to a neighbor: who it is and where it listens.
type HelloFrame struct {
	NodeID    string `json:"node_id"`
	PublicKey []byte `json:"public_key"`
	Addr      string `json:"addr"`
	Suite     string `json:"suite"`
	// Neighbors lists the sender's direct links, feeding the receiver's
	// topology table.
	Neighbors []string `json:"neighbors,omitempty"`
}

// OnionFrame carries one onion layer to the node that can peel it. The
// packet stays opaque to everyone else; proofs accumulate hop by hop.
type OnionFrame struct {
	MessageID   string             `json:"message_id"`
	Requirement *proof.Requirement `json:"requirement,omitempty"`
	Packet      []byte             `json:"packet"`
	Proofs      []proof.Proof      `json:"proofs,omitempty"`
}

// AckFrame
type AckFrame struct {
	MessageID string `json:"message_id"`
	OK        bool   `json:"ok"`
}

// ErrorFrame
type ErrorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes sent back in ErrorFrame.
const (
	CodeInvalidFrame = "INVALID_FRAME"
	CodeNotForMe     = "NOT_FOR_ME"
	CodeMalformed    = "MALFORMED_LAYER"
	CodeUnknownHop   = "UNKNOWN_NEXT_HOP"
	CodeBusy         = "BUSY"
	CodeKeyConflict  = "KEY_CONFLICT"
)

// Frame is the top-level wire message
type Frame struct {
	Type  int         `json:"t"`
	Hello *HelloFrame `json:"h,omitempty"`
	Onion *OnionFrame `json:"o,omitempty"`
	Ack   *AckFrame   `json:"a,omitempty"`
	Error *ErrorFrame `json:"e,omitempty"`
}

// Encode writes a length-prefixed JSON frame to w
func (f *Frame) Encode(w io.Writer) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if len(data) > MaxFrameSize {
		return io.ErrShortBuffer
	}
	// 4-byte big-endian length prefix
	buf := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	_, err = w.Write(append(buf, data...))
	return err
}

// Decode reads a length-prefixed JSON frame from r
func (f *Frame) Decode(r io.Reader) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return io.ErrShortBuffer
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	*f = Frame{}
	return json.Unmarshal(data, f)
}

// NewError builds an error frame.
func NewError(code, msg string) *Frame {
	return &Frame{Type: FrameTypeError, Error: &ErrorFrame{Code: code, Message: msg}}
}

// NewAck builds an ack frame.
func NewAck(msgID string) *Frame {
	return &Frame{Type: FrameTypeAck, Ack: &AckFrame{MessageID: msgID, OK: true}}
}
