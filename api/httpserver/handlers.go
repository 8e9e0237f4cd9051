package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/dht"
	"github.com/SharefulNetworks/shareful-gsls/envelope"
	"github.com/SharefulNetworks/shareful-gsls/registry"
	"github.com/go-chi/chi/v5"
)

// MaxEnvelopeSize caps request bodies.
const MaxEnvelopeSize = 64 << 10

// RecordService - What RecordHandler needs from the record store.
type RecordService interface {
	Lookup(gid string) (string, error)
	Create(gid, text string) error
	Update(gid, text string) error
	Status() registry.Status
}

// RecordHandler - Serves the record store's REST surface.
type RecordHandler struct {
	service RecordService
	timeout time.Duration
	log     *slog.Logger
}

// NewRecordHandler builds a handler. Requests still waiting on the store after timeout
// are answered with 504; the store call itself runs to completion in the background.
func NewRecordHandler(service RecordService, timeout time.Duration, logger *slog.Logger) *RecordHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordHandler{service: service, timeout: timeout, log: logger.With("component", "rest")}
}

func (h *RecordHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleStatus)
	r.Get("/{globalID}", h.handleGet)
	r.Post("/{globalID}", h.handlePost)
	r.Put("/{globalID}", h.handlePut)
}

type response struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

type statusResponse struct {
	Code int `json:"status"`
	registry.Status
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, response{Status: code, Message: msg})
}

func (h *RecordHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Code: http.StatusOK, Status: h.service.Status()})
}

func (h *RecordHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	gid := chi.URLParam(r, "globalID")

	var text string
	err := h.await(r.Context(), func() (err error) {
		text, err = h.service.Lookup(gid)
		return err
	})
	if err != nil {
		h.fail(w, gid, err)
		return
	}
	writeMessage(w, http.StatusOK, text)
}

func (h *RecordHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, "created", h.service.Create)
}

func (h *RecordHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, "updated", h.service.Update)
}

func (h *RecordHandler) write(w http.ResponseWriter, r *http.Request, verb string, op func(gid, text string) error) {
	gid := chi.URLParam(r, "globalID")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxEnvelopeSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("envelope exceeds %d bytes", MaxEnvelopeSize))
			return
		}
		writeMessage(w, http.StatusBadRequest, "could not read request body: "+err.Error())
		return
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		writeMessage(w, http.StatusBadRequest, "request body must be an envelope")
		return
	}

	if err := h.await(r.Context(), func() error { return op(gid, text) }); err != nil {
		h.fail(w, gid, err)
		return
	}
	writeMessage(w, http.StatusOK, fmt.Sprintf("SocialRecord for GlobalID %s %s", gid, verb))
}

// await runs fn and waits for it, or for the request's deadline. fn is not
// interrupted when the deadline wins.
func (h *RecordHandler) await(ctx context.Context, fn func() error) error {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *RecordHandler) fail(w http.ResponseWriter, gid string, err error) {
	code, msg := classify(err)
	if code >= http.StatusInternalServerError {
		h.log.Error("request failed", "gid", gid, "status", code, "err", err)
	} else {
		h.log.Debug("request rejected", "gid", gid, "status", code, "err", err)
	}
	writeMessage(w, code, msg)
}

// classify maps a record store error to a status code and message. Verification
// failures of submitted envelopes are the caller's fault; those of stored envelopes
// are ours.
func classify(err error) (int, string) {
	switch {
	case registry.IsStoredRecordError(err):
		return http.StatusInternalServerError, "Malformed record found in DHT: " + err.Error()
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound, "GlobalID not found"
	case errors.Is(err, registry.ErrGIDMismatch):
		return http.StatusBadRequest, "GlobalID in record does not match the request: " + err.Error()
	case envelope.IsVerificationError(err):
		return http.StatusBadRequest, "Invalid envelope: " + err.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, dht.ErrOverlayTimeout):
		return http.StatusGatewayTimeout, "Timed out waiting for the DHT"
	case errors.Is(err, context.Canceled):
		return 499, "Request cancelled"
	default:
		return http.StatusInternalServerError, "Error while accessing DHT: " + err.Error()
	}
}
