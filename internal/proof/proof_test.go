package proof

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWAI-Ltd/cerberus/internal/crypto"
)

func keyPair(t *testing.T, s crypto.Suite) *crypto.KeyPair {
	t.Helper()
	kp, err := s.GenerateKeyPair(nil)
	require.NoError(t, err)
	return kp
}

func TestProofSoundness(t *testing.T) {
	for _, s := range []crypto.Suite{crypto.NewNaCl(), crypto.NewHPKEDilithium3()} {
		t.Run(s.Name(), func(t *testing.T) {
			kp := keyPair(t, s)
			for _, id := range []string{"MSG_XYZ_123", NewMessageID(), "x"} {
				p, err := Generate(s, id, kp.Private, kp.Public)
				require.NoError(t, err)
				assert.True(t, Verify(s, kp.Public, p, id))
			}
		})
	}
}

func TestProofBoundToMessageAndRelay(t *testing.T) {
	s := crypto.NewNaCl()
	x := keyPair(t, s)
	y := keyPair(t, s)

	p, err := Generate(s, "msg-A", x.Private, x.Public)
	require.NoError(t, err)

	assert.False(t, Verify(s, x.Public, p, "msg-B"))
	assert.False(t, Verify(s, y.Public, p, "msg-A"))

	// Stripping the claimed fields must not help a forger either.
	bare := Proof{Signature: p.Signature}
	assert.True(t, Verify(s, x.Public, bare, "msg-A"))
	assert.False(t, Verify(s, x.Public, bare, "msg-B"))
	assert.False(t, Verify(s, y.Public, bare, "msg-A"))
}

func TestProofTamperedAndMalformed(t *testing.T) {
	s := crypto.NewNaCl()
	kp := keyPair(t, s)
	p, err := Generate(s, "msg-1", kp.Private, kp.Public)
	require.NoError(t, err)

	flipped := p
	flipped.Signature = append([]byte(nil), p.Signature...)
	flipped.Signature[0] ^= 0x01

	tests := map[string]Proof{
		"flipped signature":   flipped,
		"truncated signature": {MessageID: "msg-1", Relay: kp.Public, Signature: p.Signature[:10]},
		"no signature":        {MessageID: "msg-1", Relay: kp.Public},
		"zero value":          {},
		"restamped":           {MessageID: "msg-1", Relay: kp.Public, IssuedAt: 42, Signature: p.Signature},
	}
	for name, bad := range tests {
		t.Run(name, func(t *testing.T) {
			assert.False(t, Verify(s, kp.Public, bad, "msg-1"))
		})
	}
	assert.False(t, Verify(s, nil, p, "msg-1"))
	assert.False(t, Verify(s, crypto.PublicKey{1, 2}, p, "msg-1"))
	assert.False(t, Verify(s, kp.Public, p, ""))
}

func TestGenerateRepeatable(t *testing.T) {
	s := crypto.NewNaCl()
	kp := keyPair(t, s)
	a, err := Generate(s, "m", kp.Private, kp.Public)
	require.NoError(t, err)
	b, err := Generate(s, "m", kp.Private, kp.Public)
	require.NoError(t, err)
	assert.True(t, Verify(s, kp.Public, a, "m"))
	assert.True(t, Verify(s, kp.Public, b, "m"))

	_, err = Generate(s, "", kp.Private, kp.Public)
	assert.ErrorIs(t, err, ErrEmptyMessageID)
}

func TestVerifierFreshness(t *testing.T) {
	s := crypto.NewNaCl()
	kp := keyPair(t, s)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	p, err := GenerateAt(s, "m", kp.Private, kp.Public, issued)
	require.NoError(t, err)
	assert.True(t, p.Stamped())
	assert.Equal(t, issued, p.Time().UTC())
	assert.True(t, Verify(s, kp.Public, p, "m"))

	now := issued.Add(30 * time.Second)
	v := &Verifier{Suite: s, MaxAge: time.Minute, Now: func() time.Time { return now }}
	assert.NoError(t, v.Check(kp.Public, p, "m"))

	now = issued.Add(2 * time.Minute)
	assert.ErrorIs(t, v.Check(kp.Public, p, "m"), ErrStaleProof)

	unstamped, err := Generate(s, "m", kp.Private, kp.Public)
	require.NoError(t, err)
	assert.NoError(t, v.Check(kp.Public, unstamped, "m"))
	v.RequireStamp = true
	assert.ErrorIs(t, v.Check(kp.Public, unstamped, "m"), ErrStaleProof)

	assert.ErrorIs(t, v.Check(kp.Public, p, "other"), ErrProofVerificationFailed)
}

func TestRequirement(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	r := NewRequirement("m-1", now)
	assert.Equal(t, Requirement{Required: true, MessageID: "m-1", CreatedAt: 1_700_000_000_000}, r)
}

func TestAudit(t *testing.T) {
	s := crypto.NewNaCl()
	r1 := keyPair(t, s)
	r2 := keyPair(t, s)
	r3 := keyPair(t, s)
	forger := keyPair(t, s)
	msgID := NewMessageID()

	p1, err := Generate(s, msgID, r1.Private, r1.Public)
	require.NoError(t, err)
	p2, err := Generate(s, msgID, r2.Private, r2.Public)
	require.NoError(t, err)

	rep := Audit(s, msgID, []crypto.PublicKey{r1.Public, r2.Public}, []Proof{p2, p1})
	assert.True(t, rep.OK())
	assert.NoError(t, rep.Err())
	assert.Len(t, rep.Verified, 2)

	// forged proof claiming to be r3, signed with someone else's key
	forged, err := Generate(s, msgID, forger.Private, forger.Public)
	require.NoError(t, err)
	forged.Relay = r3.Public

	rep = Audit(s, msgID, []crypto.PublicKey{r1.Public, r2.Public, r3.Public}, []Proof{p1, forged})
	assert.False(t, rep.OK())
	assert.Equal(t, []crypto.PublicKey{r1.Public}, rep.Verified)
	assert.Equal(t, []crypto.PublicKey{r2.Public}, rep.Missing)
	assert.Equal(t, []crypto.PublicKey{r3.Public}, rep.Invalid)
	assert.ErrorIs(t, rep.Err(), ErrProofVerificationFailed)

	assert.True(t, Audit(s, msgID, nil, nil).OK())
}
