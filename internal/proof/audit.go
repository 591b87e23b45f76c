package proof

import (
	"log/slog"
	"strings"

	"github.com/samber/oops"

	"github.com/SWAI-Ltd/cerberus/internal/crypto"
)

// Report is the outcome of checking every expected relay's proof for one
// message.
type Report struct {
	MessageID string
	Verified  []crypto.PublicKey
	Missing   []crypto.PublicKey
	Invalid   []crypto.PublicKey
}

// OK reports whether every expected relay produced a valid proof.
func (r Report) OK() bool {
	return len(r.Missing) == 0 && len(r.Invalid) == 0
}

// Err wraps ErrProofVerificationFailed naming the offending relays, or nil.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	return oops.In("proof").
		With("msg_id", r.MessageID).
		With("missing", fingerprints(r.Missing)).
		With("invalid", fingerprints(r.Invalid)).
		Wrapf(ErrProofVerificationFailed, "%d missing, %d invalid relay proofs", len(r.Missing), len(r.Invalid))
}

func fingerprints(keys []crypto.PublicKey) string {
	fps := make([]string, len(keys))
	for i, k := range keys {
		fps[i] = crypto.ShortFingerprint(k)
	}
	return strings.Join(fps, ",")
}

// Audit checks that each relay in relays left a valid proof for msgID.
// Proofs are matched to relays by their Relay key; extra proofs are ignored.
func (v *Verifier) Audit(msgID string, relays []crypto.PublicKey, proofs []Proof) Report {
	rep := Report{MessageID: msgID}
	for _, relay := range relays {
		var candidates []Proof
		for _, p := range proofs {
			if p.Relay.Equal(relay) {
				candidates = append(candidates, p)
			}
		}
		if len(candidates) == 0 {
			rep.Missing = append(rep.Missing, relay)
			continue
		}
		valid := false
		for _, p := range candidates {
			if v.Check(relay, p, msgID) == nil {
				valid = true
				break
			}
		}
		if valid {
			rep.Verified = append(rep.Verified, relay)
		} else {
			rep.Invalid = append(rep.Invalid, relay)
		}
	}
	if !rep.OK() {
		slog.Warn("proof: relay audit failed", "msg_id", msgID,
			"missing", fingerprints(rep.Missing), "invalid", fingerprints(rep.Invalid))
	}
	return rep
}

// Audit is Verifier.Audit without a freshness window.
func Audit(suite crypto.Suite, msgID string, relays []crypto.PublicKey, proofs []Proof) Report {
	return (&Verifier{Suite: suite}).Audit(msgID, relays, proofs)
}
