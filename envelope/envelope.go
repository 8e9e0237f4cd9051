// Package envelope decodes and verifies signed social record envelopes.
//
// An envelope is a compact JWS: base64url(header) "." base64url(payload) "."
// base64url(signature). The payload is a JSON object whose "data" member is the
// base64url encoded SocialRecord JSON. The signature must verify under the
// record's own personalPublicKey, and the record's globalID must be derived from
// that key and the record's salt; together these make the record self-certifying.
//
// Verification runs in a fixed order and stops at the first failure:
//
//  1. split into three segments           -> ErrMalformedEnvelope
//  2. decode payload and record JSON       -> ErrMalformedPayload
//  3. validate record fields and key       -> ErrSchemaViolation
//  4. check globalID against key and salt  -> ErrIdentityMismatch
//  5. verify the signature                 -> ErrBadSignature / ErrUnsupportedAlgorithm
package envelope

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/SharefulNetworks/shareful-gsls/identity"
	"github.com/SharefulNetworks/shareful-gsls/record"
)

const dataClaim = "data"

// Verified is the result of a successful verification.
type Verified struct {
	Text   string
	Record *record.SocialRecord
	Key    crypto.PublicKey
}

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ,omitempty"`
}

type segments struct {
	header    string
	payload   string
	signature string
}

// split cuts text at its first two dots. Anything after the second dot, dots included,
// is the signature segment and is judged by VerifySignature.
func split(text string) (segments, error) {
	parts := strings.SplitN(strings.TrimSpace(text), ".", 3)
	if len(parts) != 3 {
		return segments{}, fail(ErrMalformedEnvelope, "", fmt.Errorf("expected 3 segments, got %d", len(parts)))
	}
	for i, p := range parts {
		if p == "" && i < 2 {
			return segments{}, fail(ErrMalformedEnvelope, "", fmt.Errorf("segment %d is empty", i))
		}
	}
	return segments{header: parts[0], payload: parts[1], signature: parts[2]}, nil
}

func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// Verify runs the complete pipeline.
func Verify(text string) (*Verified, error) {
	rec, key, err := Decode(text)
	if err != nil {
		return nil, err
	}
	if err := VerifySignature(text, key); err != nil {
		return nil, err
	}
	return &Verified{Text: text, Record: rec, Key: key}, nil
}

// Decode runs steps 1 to 4 and returns the embedded record together with the key
// the record claims. It does not check the signature.
func Decode(text string) (*record.SocialRecord, crypto.PublicKey, error) {
	seg, err := split(text)
	if err != nil {
		return nil, nil, err
	}

	rec, err := decodePayload(seg.payload)
	if err != nil {
		return nil, nil, err
	}

	if err := rec.Validate(); err != nil {
		return nil, nil, fail(ErrSchemaViolation, fieldOf(err), err)
	}
	key, err := identity.ParsePublicKey(rec.PersonalPublicKey)
	if err != nil {
		return nil, nil, fail(ErrSchemaViolation, "personalPublicKey", err)
	}

	if !rec.CheckIdentity() {
		return nil, nil, fail(ErrIdentityMismatch, "globalID",
			fmt.Errorf("globalID %q is not derived from personalPublicKey and salt", rec.GlobalID))
	}
	return rec, key, nil
}

// Peek runs steps 1 and 2 only, returning the embedded record without validating it.
func Peek(text string) (*record.SocialRecord, error) {
	seg, err := split(text)
	if err != nil {
		return nil, err
	}
	return decodePayload(seg.payload)
}

func decodePayload(payload string) (*record.SocialRecord, error) {
	raw, err := decodeSegment(payload)
	if err != nil {
		return nil, fail(ErrMalformedPayload, "", fmt.Errorf("payload is not base64url: %w", err))
	}

	var claims map[string]json.RawMessage
	if err := json.Unmarshal(raw, &claims); err != nil || claims == nil {
		return nil, fail(ErrMalformedPayload, "", fmt.Errorf("payload is not a JSON object: %v", err))
	}
	rawData, ok := claims[dataClaim]
	if !ok {
		return nil, fail(ErrMalformedPayload, dataClaim, errors.New("claim missing"))
	}
	var data string
	if err := json.Unmarshal(rawData, &data); err != nil {
		return nil, fail(ErrMalformedPayload, dataClaim, fmt.Errorf("claim is not a string: %w", err))
	}
	recJSON, err := decodeSegment(data)
	if err != nil {
		return nil, fail(ErrMalformedPayload, dataClaim, fmt.Errorf("claim is not base64url: %w", err))
	}

	rec, err := record.Decode(recJSON)
	if err != nil {
		return nil, fail(ErrMalformedPayload, fieldOf(err), err)
	}
	return rec, nil
}

func fieldOf(err error) string {
	var fe *record.FieldError
	if errors.As(err, &fe) {
		return fe.Field
	}
	return ""
}
