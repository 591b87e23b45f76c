package proto

import (
	"github.com/samber/oops"
)

// MaxProofs bounds the proofs one onion frame may carry.
const MaxProofs = 64

// Validate checks that a frame is structurally complete for its type.
func Validate(f *Frame) error {
	switch f.Type {
	case FrameTypeHello:
		h := f.Hello
		if h == nil {
			return oops.In("proto").Errorf("hello frame without body")
		}
		if h.NodeID == "" {
			return oops.In("proto").Errorf("Hello.node_id required")
		}
		if len(h.PublicKey) == 0 {
			return oops.In("proto").Errorf("Hello.public_key required")
		}
		return nil
	case FrameTypeOnion:
		o := f.Onion
		if o == nil {
			return oops.In("proto").Errorf("onion frame without body")
		}
		if o.MessageID == "" {
			return oops.In("proto").Errorf("Onion.message_id required")
		}
		if len(o.Packet) == 0 {
			return oops.In("proto").Errorf("Onion.packet required")
		}
		if len(o.Proofs) > MaxProofs {
			return oops.In("proto").Errorf("Onion carries %d proofs, max %d", len(o.Proofs), MaxProofs)
		}
		if r := o.Requirement; r != nil && r.MessageID != o.MessageID {
			return oops.In("proto").Errorf("Onion.requirement is for message %q", r.MessageID)
		}
		return nil
	case FrameTypeAck:
		if f.Ack == nil {
			return oops.In("proto").Errorf("ack frame without body")
		}
		return nil
	case FrameTypeError:
		if f.Error == nil {
			return oops.In("proto").Errorf("error frame without body")
		}
		return nil
	default:
		return oops.In("proto").Errorf("unknown frame type: %d", f.Type)
	}
}
