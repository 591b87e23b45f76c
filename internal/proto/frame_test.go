package proto

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWAI-Ltd/cerberus/internal/proof"
)

func TestFrameEncodeDecode(t *testing.T) {
	req := proof.NewRequirement("m-1", time.UnixMilli(1_750_000_000_000))
	in := &Frame{
		Type: FrameTypeOnion,
		Onion: &OnionFrame{
			MessageID:   "m-1",
			Requirement: &req,
			Packet:      []byte{1, 2, 3},
			Proofs:      []proof.Proof{{MessageID: "m-1", Relay: []byte{9}, Signature: []byte{7}}},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, in.Encode(&buf))
	assert.Equal(t, uint32(buf.Len()-4), binary.BigEndian.Uint32(buf.Bytes()[:4]))

	var out Frame
	require.NoError(t, out.Decode(&buf))
	assert.Equal(t, in, &out)
	assert.NoError(t, Validate(&out))
}

func TestFrameDecodeResetsPreviousFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewError(CodeBusy, "later").Encode(&buf))
	require.NoError(t, NewAck("m").Encode(&buf))

	var f Frame
	require.NoError(t, f.Decode(&buf))
	assert.NotNil(t, f.Error)
	require.NoError(t, f.Decode(&buf))
	assert.Nil(t, f.Error)
	assert.Equal(t, "m", f.Ack.MessageID)
}

func TestFrameDecodeRejectsOversize(t *testing.T) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], MaxFrameSize+1)
	var f Frame
	assert.ErrorIs(t, f.Decode(bytes.NewReader(hdr[:])), io.ErrShortBuffer)
	assert.ErrorIs(t, f.Decode(bytes.NewReader(nil)), io.EOF)
}

func TestValidate(t *testing.T) {
	other := proof.Requirement{MessageID: "other"}
	tests := []struct {
		name  string
		frame Frame
		ok    bool
	}{
		{"hello", Frame{Type: FrameTypeHello, Hello: &HelloFrame{NodeID: "a", PublicKey: []byte{1}}}, true},
		{"hello without key", Frame{Type: FrameTypeHello, Hello: &HelloFrame{NodeID: "a"}}, false},
		{"hello without id", Frame{Type: FrameTypeHello, Hello: &HelloFrame{PublicKey: []byte{1}}}, false},
		{"hello without body", Frame{Type: FrameTypeHello}, false},
		{"onion", Frame{Type: FrameTypeOnion, Onion: &OnionFrame{MessageID: "m", Packet: []byte{1}}}, true},
		{"onion without id", Frame{Type: FrameTypeOnion, Onion: &OnionFrame{Packet: []byte{1}}}, false},
		{"onion without packet", Frame{Type: FrameTypeOnion, Onion: &OnionFrame{MessageID: "m"}}, false},
		{"onion too many proofs", Frame{Type: FrameTypeOnion, Onion: &OnionFrame{MessageID: "m", Packet: []byte{1}, Proofs: make([]proof.Proof, MaxProofs+1)}}, false},
		{"onion foreign requirement", Frame{Type: FrameTypeOnion, Onion: &OnionFrame{MessageID: "m", Packet: []byte{1}, Requirement: &other}}, false},
		{"ack", *NewAck("m"), true},
		{"ack without body", Frame{Type: FrameTypeAck}, false},
		{"error", *NewError(CodeNotForMe, "x"), true},
		{"error without body", Frame{Type: FrameTypeError}, false},
		{"unknown", Frame{Type: 99}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.frame)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				oerr, ok := oops.AsOops(err)
				require.True(t, ok)
				assert.Equal(t, "proto", oerr.Domain())
			}
		})
	}
}
