// Package identity derives global identifiers from public keys and validates the
// key and salt encodings carried by social records.
package identity

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/SharefulNetworks/shareful-gsls/types"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// GIDIterations is the PBKDF2 iteration count used for GID derivation.
	GIDIterations = 10000

	// GIDKeyLength is the derived key length in bytes.
	GIDKeyLength = 32

	// SaltLength is the required salt length in characters.
	SaltLength = 16
)

var (
	ErrInvalidBase64  = errors.New("identity: invalid base64")
	ErrInvalidSalt    = errors.New("identity: invalid salt")
	ErrInvalidKey     = errors.New("identity: invalid public key")
	ErrUnsupportedKey = errors.New("identity: unsupported public key type")
)

// DeriveGID computes the global identifier bound to personalPublicKey and salt.
// The result is deterministic for a given pair.
func DeriveGID(personalPublicKey, salt string) string {
	dk := pbkdf2.Key([]byte(personalPublicKey), []byte(salt), GIDIterations, GIDKeyLength, sha256.New)
	return base64.RawURLEncoding.EncodeToString(dk)
}

// VerifyGID reports whether gid was derived from personalPublicKey and salt.
func VerifyGID(gid, personalPublicKey, salt string) bool {
	return gid != "" && DeriveGID(personalPublicKey, salt) == gid
}

// StorageKey maps a GID onto the overlay keyspace.
func StorageKey(gid string) types.NodeID {
	return types.HashKey(gid)
}

func isBase64Char(c rune) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '+' || c == '/' || c == '-' || c == '_':
		return true
	}
	return false
}

// ValidBase64 reports whether s is a non-empty base64 string in the standard or
// URL-safe alphabet, padded or not.
func ValidBase64(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalidBase64)
	}
	if _, err := decodeAnyBase64(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	return nil
}

// ValidSalt checks the salt's length and alphabet.
func ValidSalt(salt string) error {
	if len(salt) != SaltLength {
		return fmt.Errorf("%w: got %d characters, want %d", ErrInvalidSalt, len(salt), SaltLength)
	}
	for _, c := range salt {
		if !isBase64Char(c) {
			return fmt.Errorf("%w: character %q outside the base64 alphabet", ErrInvalidSalt, c)
		}
	}
	return nil
}

func decodeAnyBase64(s string) ([]byte, error) {
	trimmed := strings.TrimRight(s, "=")
	for _, c := range trimmed {
		if !isBase64Char(c) {
			return nil, fmt.Errorf("character %q outside the base64 alphabet", c)
		}
	}
	if strings.ContainsAny(trimmed, "-_") {
		return base64.RawURLEncoding.DecodeString(trimmed)
	}
	return base64.RawStdEncoding.DecodeString(trimmed)
}

// ParsePublicKey decodes a base64 PKIX public key. Only RSA, ECDSA and Ed25519 keys
// are accepted.
func ParsePublicKey(encoded string) (crypto.PublicKey, error) {
	der, err := decodeAnyBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	switch pub.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return pub, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
}

// EncodePublicKey is the inverse of ParsePublicKey.
func EncodePublicKey(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}
