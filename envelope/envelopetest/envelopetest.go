// Package envelopetest provides signing identities and record builders for tests.
package envelopetest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"testing"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/envelope"
	"github.com/SharefulNetworks/shareful-gsls/identity"
	"github.com/SharefulNetworks/shareful-gsls/record"
	"github.com/stretchr/testify/require"
)

// KeyKind selects the key algorithm of a test identity.
type KeyKind string

const (
	Ed25519 KeyKind = "ed25519"
	ECDSA   KeyKind = "ecdsa"
	RSA     KeyKind = "rsa"
)

// Identity is a key pair plus the salt and GID derived from it.
type Identity struct {
	Key       crypto.Signer
	PublicKey string
	Salt      string
	GID       string
}

// NewIdentity generates a fresh identity of the given kind.
func NewIdentity(t testing.TB, kind KeyKind) *Identity {
	t.Helper()

	var (
		key crypto.Signer
		err error
	)
	switch kind {
	case ECDSA:
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case RSA:
		key, err = rsa.GenerateKey(rand.Reader, 2048)
	default:
		_, key, err = ed25519.GenerateKey(rand.Reader)
	}
	require.NoError(t, err)

	pub, err := identity.EncodePublicKey(key.Public())
	require.NoError(t, err)

	salt := NewSalt(t)
	return &Identity{
		Key:       key,
		PublicKey: pub,
		Salt:      salt,
		GID:       identity.DeriveGID(pub, salt),
	}
}

// NewSalt returns a random salt of the required length.
func NewSalt(t testing.TB) string {
	t.Helper()
	buf := make([]byte, 12)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(buf)
}

// Record builds a valid record for the identity, dated now.
func (id *Identity) Record(displayName string) *record.SocialRecord {
	return id.RecordAt(displayName, time.Now())
}

// RecordAt builds a valid record for the identity with the given datetime.
func (id *Identity) RecordAt(displayName string, at time.Time) *record.SocialRecord {
	return &record.SocialRecord{
		Type:              "user",
		GlobalID:          id.GID,
		PlatformGID:       "platform-" + displayName,
		DisplayName:       displayName,
		ProfileLocation:   "https://example.org/" + displayName,
		PersonalPublicKey: id.PublicKey,
		AccountPublicKey:  id.PublicKey,
		Salt:              id.Salt,
		Datetime:          at.UTC().Format(time.RFC3339),
		Active:            1,
		KeyRevocationList: []record.KeyRevocation{},
	}
}

// Sign signs rec with the identity's key.
func (id *Identity) Sign(t testing.TB, rec *record.SocialRecord) string {
	t.Helper()
	text, err := envelope.Sign(rec, id.Key)
	require.NoError(t, err)
	return text
}

// Envelope is Record followed by Sign.
func (id *Identity) Envelope(t testing.TB, displayName string) string {
	t.Helper()
	return id.Sign(t, id.Record(displayName))
}
