package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/identity"
)

// SocialRecord - The payload bound to a GID: profile metadata plus the keys that
// certify it. Field names and JSON tags are part of the deployed wire format.
type SocialRecord struct {
	Type              string          `json:"type"`
	GlobalID          string          `json:"globalID"`
	PlatformGID       string          `json:"platformGID"`
	DisplayName       string          `json:"displayName"`
	ProfileLocation   string          `json:"profileLocation"`
	PersonalPublicKey string          `json:"personalPublicKey"`
	AccountPublicKey  string          `json:"accountPublicKey"`
	Salt              string          `json:"salt"`
	Datetime          string          `json:"datetime"`
	Active            int             `json:"active"`
	KeyRevocationList []KeyRevocation `json:"keyRevocationList"`
}

// KeyRevocation - A single revoked key and the time it was revoked.
type KeyRevocation struct {
	Key      string `json:"key"`
	Datetime string `json:"datetime"`
}

// RequiredFields lists the fields that must be present in every record, in the
// order they are checked.
var RequiredFields = []string{
	"type",
	"globalID",
	"platformGID",
	"displayName",
	"profileLocation",
	"personalPublicKey",
	"accountPublicKey",
	"salt",
	"datetime",
	"active",
	"keyRevocationList",
}

var (
	ErrMalformed    = errors.New("record: malformed JSON")
	ErrMissingField = errors.New("record: missing field")
	ErrInvalidField = errors.New("record: invalid field")
)

// FieldError - Names the record field a decode or validation failure relates to.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%v %q", e.Err, e.Field)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func fieldErr(field string, kind error, format string, args ...any) error {
	return &FieldError{Field: field, Err: fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))}
}

// Decode parses raw record JSON. It fails with ErrMalformed when raw is not a JSON
// object and with a *FieldError wrapping ErrMissingField or ErrMalformed when a
// required field is absent or has the wrong JSON type. Decode does not validate
// field contents; see Validate.
func Decode(raw []byte) (*SocialRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: null document", ErrMalformed)
	}

	for _, name := range RequiredFields {
		v, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return nil, &FieldError{Field: name, Err: ErrMissingField}
		}
	}

	var rec SocialRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &FieldError{Field: typeErr.Field, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &rec, nil
}

// Validate performs the structural and semantic checks on a decoded record.
// Self-certification (GID derivation) is checked separately by CheckIdentity.
func (r *SocialRecord) Validate() error {
	if r.Type == "" {
		return fieldErr("type", ErrInvalidField, "must not be empty")
	}
	if r.GlobalID == "" {
		return fieldErr("globalID", ErrInvalidField, "must not be empty")
	}
	if _, err := time.Parse(time.RFC3339, r.Datetime); err != nil {
		return fieldErr("datetime", ErrInvalidField, "not an RFC 3339 date-time with zone: %v", err)
	}
	if err := identity.ValidBase64(r.PersonalPublicKey); err != nil {
		return fieldErr("personalPublicKey", ErrInvalidField, "%v", err)
	}
	if err := identity.ValidBase64(r.AccountPublicKey); err != nil {
		return fieldErr("accountPublicKey", ErrInvalidField, "%v", err)
	}
	if err := identity.ValidSalt(r.Salt); err != nil {
		return fieldErr("salt", ErrInvalidField, "%v", err)
	}
	if r.Active != 0 && r.Active != 1 {
		return fieldErr("active", ErrInvalidField, "must be 0 or 1, got %d", r.Active)
	}
	for i, rev := range r.KeyRevocationList {
		if err := identity.ValidBase64(rev.Key); err != nil {
			return fieldErr(fmt.Sprintf("keyRevocationList[%d].key", i), ErrInvalidField, "%v", err)
		}
		if _, err := time.Parse(time.RFC3339, rev.Datetime); err != nil {
			return fieldErr(fmt.Sprintf("keyRevocationList[%d].datetime", i), ErrInvalidField, "%v", err)
		}
	}
	return nil
}

// CheckIdentity reports whether GlobalID was derived from PersonalPublicKey and Salt.
func (r *SocialRecord) CheckIdentity() bool {
	return identity.VerifyGID(r.GlobalID, r.PersonalPublicKey, r.Salt)
}

// IsActive reports the record's active flag.
func (r *SocialRecord) IsActive() bool {
	return r.Active == 1
}

// Time returns the parsed datetime. It returns the zero time for invalid values.
func (r *SocialRecord) Time() time.Time {
	t, _ := time.Parse(time.RFC3339, r.Datetime)
	return t
}

// Marshal encodes the record. A nil revocation list is emitted as [] so the output
// always decodes.
func (r *SocialRecord) Marshal() ([]byte, error) {
	out := *r
	if out.KeyRevocationList == nil {
		out.KeyRevocationList = []KeyRevocation{}
	}
	return json.Marshal(&out)
}
