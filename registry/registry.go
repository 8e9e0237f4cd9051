// Package registry is the record store service: it verifies signed envelopes and
// keeps them in the overlay under the storage key derived from their globalID.
package registry

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/SharefulNetworks/shareful-gsls/commons"
	"github.com/SharefulNetworks/shareful-gsls/config"
	"github.com/SharefulNetworks/shareful-gsls/dht"
	"github.com/SharefulNetworks/shareful-gsls/envelope"
	"github.com/SharefulNetworks/shareful-gsls/identity"
	"golang.org/x/sync/singleflight"
)

// Options - Inputs to New. Overlay is required.
type Options struct {
	Overlay commons.NodeLike
	// Verifier defaults to one with config.DefaultConfig().VerificationCacheSize entries.
	Verifier *Verifier
	Logger   *slog.Logger
}

// Service - The record store. Calls block for as long as the overlay operation they
// start, which is bounded by the overlay's own timeouts and cannot be cancelled.
type Service struct {
	overlay  commons.NodeLike
	verifier *Verifier
	log      *slog.Logger
	lookups  singleflight.Group
}

func New(opts Options) (*Service, error) {
	if opts.Overlay == nil {
		return nil, errors.New("registry: no overlay")
	}
	verifier := opts.Verifier
	if verifier == nil {
		var err error
		if verifier, err = NewVerifier(config.DefaultConfig().VerificationCacheSize); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		overlay:  opts.Overlay,
		verifier: verifier,
		log:      logger.With("component", "registry"),
	}, nil
}

// Lookup returns the envelope stored for gid. A stored envelope that fails
// verification is reported as a *StoredRecordError, never as ErrNotFound.
func (s *Service) Lookup(gid string) (string, error) {
	v, err := s.lookup(gid)
	if err != nil {
		return "", err
	}
	return v.Text, nil
}

// lookup fetches every candidate held for gid and picks the verified one with the
// latest datetime. Concurrent lookups of one gid share a single overlay read.
func (s *Service) lookup(gid string) (*envelope.Verified, error) {
	res, err, _ := s.lookups.Do(gid, func() (any, error) {
		values, err := s.overlay.Get(identity.StorageKey(gid))
		if err != nil {
			if errors.Is(err, dht.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, gid)
			}
			return nil, fmt.Errorf("%w: get %s: %w", ErrOverlay, gid, err)
		}
		return s.choose(gid, values)
	})
	if err != nil {
		return nil, err
	}
	return res.(*envelope.Verified), nil
}

func (s *Service) choose(gid string, values [][]byte) (*envelope.Verified, error) {
	var (
		best     *envelope.Verified
		firstErr error
	)
	for _, value := range values {
		v, err := s.verifier.Verify(string(value), SourceStored)
		if err == nil && v.Record.GlobalID != gid {
			err = fmt.Errorf("%w: stored under %q but names %q", ErrGIDMismatch, gid, v.Record.GlobalID)
		}
		if err != nil {
			s.log.Warn("discarding unverifiable replica", "gid", gid, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if best == nil || v.Record.Time().After(best.Record.Time()) {
			best = v
		}
	}
	if best == nil {
		if firstErr == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, gid)
		}
		return nil, &StoredRecordError{GID: gid, Err: firstErr}
	}
	return best, nil
}

// checkSubmission verifies a caller-supplied envelope for gid. A payload naming a
// different globalID fails with ErrGIDMismatch before any other check runs.
func (s *Service) checkSubmission(gid, text string) (*envelope.Verified, error) {
	if rec, err := envelope.Peek(text); err == nil && rec.GlobalID != gid {
		return nil, fmt.Errorf("%w: path names %q, record names %q", ErrGIDMismatch, gid, rec.GlobalID)
	}
	return s.verifier.Verify(text, SourceClient)
}

// Create stores a new envelope for gid.
func (s *Service) Create(gid, text string) error {
	v, err := s.checkSubmission(gid, text)
	if err != nil {
		return err
	}
	if err := s.overlay.Put(identity.StorageKey(gid), []byte(v.Text)); err != nil {
		return fmt.Errorf("%w: put %s: %w", ErrOverlay, gid, err)
	}
	s.log.Info("record created", "gid", gid)
	return nil
}

// Update replaces the envelope stored for gid. The existing envelope must be present
// and must itself verify.
func (s *Service) Update(gid, text string) error {
	v, err := s.checkSubmission(gid, text)
	if err != nil {
		return err
	}

	existing, err := s.lookup(gid)
	if err != nil {
		return err
	}
	if existing.Record.GlobalID != v.Record.GlobalID {
		return fmt.Errorf("%w: stored record names %q", ErrGIDMismatch, existing.Record.GlobalID)
	}

	if err := s.overlay.Put(identity.StorageKey(gid), []byte(v.Text)); err != nil {
		return fmt.Errorf("%w: put %s: %w", ErrOverlay, gid, err)
	}
	s.log.Info("record updated", "gid", gid)
	return nil
}

// Delete removes gid from the overlay. It is administrative only.
func (s *Service) Delete(gid string) error {
	if err := s.overlay.Delete(identity.StorageKey(gid)); err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrOverlay, gid, err)
	}
	s.log.Info("record deleted", "gid", gid)
	return nil
}

// VersionInfo - Software and protocol version reported by Status.
type VersionInfo struct {
	Version  string `json:"version"`
	Build    int    `json:"build"`
	Protocol int    `json:"protocol"`
}

// Status - The node status document.
type Status struct {
	Version        VersionInfo `json:"version"`
	ConnectedNodes []string    `json:"connectedNodes"`
}

// Status reports the running version and the overlay peers currently known.
func (s *Service) Status() Status {
	peers := s.overlay.Neighbors()
	nodes := make([]string, 0, len(peers))
	for _, p := range peers {
		nodes = append(nodes, p.Addr)
	}
	return Status{
		Version: VersionInfo{
			Version:  config.Version,
			Build:    config.Build,
			Protocol: config.ProtocolVersion,
		},
		ConnectedNodes: nodes,
	}
}
