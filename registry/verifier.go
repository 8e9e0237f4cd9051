package registry

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/SharefulNetworks/shareful-gsls/envelope"
	"github.com/SharefulNetworks/shareful-gsls/identity"
	"github.com/SharefulNetworks/shareful-gsls/metrics"
	"github.com/SharefulNetworks/shareful-gsls/types"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Verification sources, used as the "source" metrics label.
const (
	SourceClient  = "client"
	SourceStored  = "stored"
	SourceReplica = "replica"
)

// Verifier - Runs the envelope pipeline, remembering texts that already passed.
// Verification is a pure function of the text, so a cached success never goes stale.
type Verifier struct {
	cache *lru.Cache[[sha256.Size]byte, *envelope.Verified]
}

func NewVerifier(cacheSize int) (*Verifier, error) {
	cache, err := lru.New[[sha256.Size]byte, *envelope.Verified](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Verifier{cache: cache}, nil
}

// Verify runs the full pipeline over text. source labels the outcome metric.
func (v *Verifier) Verify(text, source string) (*envelope.Verified, error) {
	sum := sha256.Sum256([]byte(text))
	if hit, ok := v.cache.Get(sum); ok {
		metrics.Verifications.WithLabelValues(source, "cached").Inc()
		return hit, nil
	}

	verified, err := envelope.Verify(text)
	metrics.Verifications.WithLabelValues(source, outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	v.cache.Add(sum, verified)
	return verified, nil
}

// Validate vets a replica an overlay peer asks us to hold: the value must be a valid
// envelope whose globalID maps to key.
func (v *Verifier) Validate(key types.NodeID, value []byte) error {
	verified, err := v.Verify(string(value), SourceReplica)
	if err != nil {
		return err
	}
	if identity.StorageKey(verified.Record.GlobalID) != key {
		return fmt.Errorf("%w: record for %q addressed to key %s", ErrGIDMismatch, verified.Record.GlobalID, key)
	}
	return nil
}

func outcome(err error) string {
	kinds := []struct {
		kind  error
		label string
	}{
		{envelope.ErrMalformedEnvelope, "malformed_envelope"},
		{envelope.ErrMalformedPayload, "malformed_payload"},
		{envelope.ErrSchemaViolation, "schema_violation"},
		{envelope.ErrIdentityMismatch, "identity_mismatch"},
		{envelope.ErrBadSignature, "bad_signature"},
		{envelope.ErrUnsupportedAlgorithm, "unsupported_algorithm"},
	}
	if err == nil {
		return "ok"
	}
	for _, k := range kinds {
		if errors.Is(err, k.kind) {
			return k.label
		}
	}
	return "error"
}
