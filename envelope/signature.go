package envelope

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/SharefulNetworks/shareful-gsls/record"
	"github.com/golang-jwt/jwt/v5"
)

// strict decoding so that no two signature segments decode to the same bytes.
var sigEncoding = base64.RawURLEncoding.Strict()

// VerifySignature checks the envelope's signature segment against key.
func VerifySignature(text string, key crypto.PublicKey) error {
	seg, err := split(text)
	if err != nil {
		return err
	}

	rawHeader, err := decodeSegment(seg.header)
	if err != nil {
		return fail(ErrMalformedEnvelope, "", fmt.Errorf("header is not base64url: %w", err))
	}
	var h header
	if err := json.Unmarshal(rawHeader, &h); err != nil {
		return fail(ErrMalformedEnvelope, "", fmt.Errorf("header is not a JSON object: %w", err))
	}

	method, err := methodFor(h.Alg, key)
	if err != nil {
		return err
	}

	sig, err := sigEncoding.DecodeString(seg.signature)
	if err != nil || len(sig) == 0 {
		return fail(ErrBadSignature, "", fmt.Errorf("signature is not base64url: %v", err))
	}
	if err := method.Verify(seg.header+"."+seg.payload, sig, key); err != nil {
		return fail(ErrBadSignature, "", err)
	}
	return nil
}

// methodFor resolves alg and checks it against the key type.
func methodFor(alg string, key crypto.PublicKey) (jwt.SigningMethod, error) {
	unsupported := func(reason string) error {
		return fail(ErrUnsupportedAlgorithm, "", fmt.Errorf("alg %q: %s", alg, reason))
	}

	var ok bool
	switch k := key.(type) {
	case *rsa.PublicKey:
		ok = strings.HasPrefix(alg, "RS") || strings.HasPrefix(alg, "PS")
	case *ecdsa.PublicKey:
		ok = alg == ecdsaAlg(k.Curve)
	case ed25519.PublicKey:
		ok = alg == jwt.SigningMethodEdDSA.Alg()
	default:
		return nil, unsupported(fmt.Sprintf("key type %T", key))
	}
	if !ok {
		return nil, unsupported(fmt.Sprintf("does not match key type %T", key))
	}

	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, unsupported("unknown algorithm")
	}
	return method, nil
}

func ecdsaAlg(curve elliptic.Curve) string {
	switch curve {
	case elliptic.P256():
		return "ES256"
	case elliptic.P384():
		return "ES384"
	case elliptic.P521():
		return "ES512"
	}
	return ""
}

// DefaultAlgorithm picks the signing algorithm for a private key.
func DefaultAlgorithm(key crypto.Signer) (string, error) {
	switch k := key.Public().(type) {
	case *rsa.PublicKey:
		return "RS256", nil
	case *ecdsa.PublicKey:
		if alg := ecdsaAlg(k.Curve); alg != "" {
			return alg, nil
		}
	case ed25519.PublicKey:
		return jwt.SigningMethodEdDSA.Alg(), nil
	}
	return "", fmt.Errorf("%w: key type %T", ErrUnsupportedAlgorithm, key.Public())
}

// Sign encodes rec and signs it with key, producing envelope text. It is the
// client-side counterpart of Verify.
func Sign(rec *record.SocialRecord, key crypto.Signer) (string, error) {
	alg, err := DefaultAlgorithm(key)
	if err != nil {
		return "", err
	}
	return SignWith(rec, alg, key)
}

// SignWith is Sign with an explicit algorithm.
func SignWith(rec *record.SocialRecord, alg string, key crypto.Signer) (string, error) {
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	if rec == nil {
		return "", errors.New("envelope: nil record")
	}

	recJSON, err := rec.Marshal()
	if err != nil {
		return "", err
	}
	rawHeader, err := json.Marshal(header{Alg: alg, Typ: "JWT"})
	if err != nil {
		return "", err
	}
	rawPayload, err := json.Marshal(map[string]string{dataClaim: base64.RawURLEncoding.EncodeToString(recJSON)})
	if err != nil {
		return "", err
	}

	signingString := base64.RawURLEncoding.EncodeToString(rawHeader) + "." +
		base64.RawURLEncoding.EncodeToString(rawPayload)

	sig, err := method.Sign(signingString, key)
	if err != nil {
		return "", err
	}
	return signingString + "." + sigEncoding.EncodeToString(sig), nil
}
