package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allSuites() []Suite {
	return []Suite{NewNaCl(), NewHPKEDilithium3()}
}

func TestSuiteEncryptDecrypt(t *testing.T) {
	for _, s := range allSuites() {
		t.Run(s.Name(), func(t *testing.T) {
			alice, err := s.GenerateKeyPair(nil)
			require.NoError(t, err)
			bob, err := s.GenerateKeyPair(nil)
			require.NoError(t, err)

			ct, err := s.Encrypt([]byte("rendezvous at grid 7"), alice.Public)
			require.NoError(t, err)

			plain, err := s.Decrypt(ct, alice.Private)
			require.NoError(t, err)
			assert.Equal(t, []byte("rendezvous at grid 7"), plain)

			_, err = s.Decrypt(ct, bob.Private)
			assert.ErrorIs(t, err, ErrDecrypt)

			ct[len(ct)-1] ^= 0xff
			_, err = s.Decrypt(ct, alice.Private)
			assert.ErrorIs(t, err, ErrDecrypt)
		})
	}
}

func TestSuiteDecryptShortInput(t *testing.T) {
	for _, s := range allSuites() {
		t.Run(s.Name(), func(t *testing.T) {
			kp, err := s.GenerateKeyPair(nil)
			require.NoError(t, err)
			_, err = s.Decrypt([]byte("plain text, never sealed"), kp.Private)
			assert.ErrorIs(t, err, ErrDecrypt)
		})
	}
}

func TestSuiteSignVerify(t *testing.T) {
	for _, s := range allSuites() {
		t.Run(s.Name(), func(t *testing.T) {
			kp, err := s.GenerateKeyPair(nil)
			require.NoError(t, err)
			other, err := s.GenerateKeyPair(nil)
			require.NoError(t, err)

			sig, err := s.Sign([]byte("msg-1"), kp.Private)
			require.NoError(t, err)

			assert.True(t, s.Verify([]byte("msg-1"), sig, kp.Public))
			assert.False(t, s.Verify([]byte("msg-2"), sig, kp.Public))
			assert.False(t, s.Verify([]byte("msg-1"), sig, other.Public))
			assert.False(t, s.Verify([]byte("msg-1"), sig[:len(sig)-1], kp.Public))
			assert.False(t, s.Verify([]byte("msg-1"), sig, kp.Public[:3]))
			assert.False(t, s.Verify([]byte("msg-1"), nil, nil))
		})
	}
}

func TestSuiteRejectsWrongKeySize(t *testing.T) {
	s := NewNaCl()
	_, err := s.Encrypt([]byte("x"), PublicKey{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = s.Decrypt(make([]byte, 64), PrivateKey{1})
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = s.Sign([]byte("x"), PrivateKey{1})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSuiteByName(t *testing.T) {
	s, err := SuiteByName("")
	require.NoError(t, err)
	assert.Equal(t, SuiteNaCl, s.Name())

	s, err = SuiteByName(SuiteHPKEDilithium3)
	require.NoError(t, err)
	assert.Equal(t, SuiteHPKEDilithium3, s.Name())

	_, err = SuiteByName("rot13")
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	kp, err := NewNaCl().GenerateKeyPair(nil)
	require.NoError(t, err)

	fp := Fingerprint(kp.Public)
	assert.NotEmpty(t, fp)
	assert.Equal(t, fp, Fingerprint(kp.Public))
	assert.Equal(t, fp, kp.Public.String())
	assert.Len(t, ShortFingerprint(kp.Public), 10)
	assert.Empty(t, Fingerprint(nil))
}
