package envelope

import (
	"errors"
	"fmt"
)

// Verification failure kinds. A *VerificationError matches exactly one of these
// under errors.Is.
var (
	ErrMalformedEnvelope    = errors.New("envelope: malformed envelope")
	ErrMalformedPayload     = errors.New("envelope: malformed payload")
	ErrSchemaViolation      = errors.New("envelope: schema violation")
	ErrIdentityMismatch     = errors.New("envelope: identity mismatch")
	ErrBadSignature         = errors.New("envelope: bad signature")
	ErrUnsupportedAlgorithm = errors.New("envelope: unsupported algorithm")
)

// VerificationError is the single error type returned by the pipeline.
type VerificationError struct {
	// Kind is one of the Err* sentinels above.
	Kind error
	// Field names the offending record field, when there is one.
	Field string
	// Err is the underlying cause, possibly nil.
	Err error
}

func (e *VerificationError) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field %q)", msg, e.Field)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *VerificationError) Is(target error) bool {
	return target == e.Kind
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

func fail(kind error, field string, cause error) *VerificationError {
	return &VerificationError{Kind: kind, Field: field, Err: cause}
}

// IsVerificationError reports whether err carries a *VerificationError.
func IsVerificationError(err error) bool {
	var ve *VerificationError
	return errors.As(err, &ve)
}
