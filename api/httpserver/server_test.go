package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/dht"
	"github.com/SharefulNetworks/shareful-gsls/envelope"
	"github.com/SharefulNetworks/shareful-gsls/envelope/envelopetest"
	"github.com/SharefulNetworks/shareful-gsls/registry"
	"github.com/SharefulNetworks/shareful-gsls/types"
	"github.com/SharefulNetworks/shareful-gsls/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapOverlay keeps one value per key in memory.
type mapOverlay struct {
	mu     sync.Mutex
	values map[types.NodeID][]byte
}

func (m *mapOverlay) Bootstrap(string) error { return nil }

func (m *mapOverlay) Get(key types.NodeID) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, dht.ErrNotFound
	}
	return [][]byte{v}, nil
}

func (m *mapOverlay) Put(key types.NodeID, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *mapOverlay) Delete(key types.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *mapOverlay) Neighbors() []wire.PeerInfo {
	return []wire.PeerInfo{{ID: types.HashKey("peer"), Addr: "192.0.2.7:4001"}}
}

// stubService answers every call with err after an optional delay.
type stubService struct {
	err   error
	delay time.Duration
}

func (s stubService) wait() error {
	time.Sleep(s.delay)
	return s.err
}

func (s stubService) Lookup(string) (string, error) { return "", s.wait() }
func (s stubService) Create(string, string) error   { return s.wait() }
func (s stubService) Update(string, string) error   { return s.wait() }
func (s stubService) Status() registry.Status       { return registry.Status{} }

func newTestServer(t *testing.T, service RecordService, timeout time.Duration) (*BaseServer, *httptest.Server) {
	t.Helper()
	srv := New(&HTTPServerConfig{GracefulShutdownDuration: time.Second}, NewRecordHandler(service, timeout, nil))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func newRegistryServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc, err := registry.New(registry.Options{Overlay: &mapOverlay{values: map[types.NodeID][]byte{}}})
	require.NoError(t, err)
	_, ts := newTestServer(t, svc, 5*time.Second)
	return ts
}

func do(t *testing.T, method, url, body string) (int, response) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, resp.StatusCode, out.Status)
	return resp.StatusCode, out
}

func Test_Record_Lifecycle_Over_Rest(t *testing.T) {
	ts := newRegistryServer(t)
	id := envelopetest.NewIdentity(t, envelopetest.Ed25519)
	url := ts.URL + "/" + id.GID
	now := time.Now()
	e1 := id.Sign(t, id.RecordAt("first", now))
	e2 := id.Sign(t, id.RecordAt("second", now.Add(time.Minute)))

	code, _ := do(t, http.MethodPost, url, e1)
	require.Equal(t, http.StatusOK, code)

	code, body := do(t, http.MethodGet, url, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, e1, body.Message)

	code, body = do(t, http.MethodPut, url, e2)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body.Message, "updated")

	_, body = do(t, http.MethodGet, url, "")
	assert.Equal(t, e2, body.Message)
}

func Test_Unknown_GID_Is_404(t *testing.T) {
	ts := newRegistryServer(t)

	code, body := do(t, http.MethodGet, ts.URL+"/unknown", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "GlobalID not found", body.Message)
}

func Test_Client_Errors_Are_4xx(t *testing.T) {
	ts := newRegistryServer(t)
	alice := envelopetest.NewIdentity(t, envelopetest.Ed25519)
	bob := envelopetest.NewIdentity(t, envelopetest.Ed25519)

	code, _ := do(t, http.MethodPost, ts.URL+"/"+alice.GID, "not.an.envelope")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, http.MethodPost, ts.URL+"/"+alice.GID, bob.Envelope(t, "bob"))
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, http.MethodPost, ts.URL+"/"+alice.GID, "   ")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, http.MethodPut, ts.URL+"/"+alice.GID, alice.Envelope(t, "alice"))
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, http.MethodPost, ts.URL+"/"+alice.GID, strings.Repeat("a", MaxEnvelopeSize+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
}

func Test_Error_Classification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"stored record corrupt", &registry.StoredRecordError{GID: "g", Err: &envelope.VerificationError{Kind: envelope.ErrBadSignature}}, http.StatusInternalServerError},
		{"not found", fmt.Errorf("%w: g", registry.ErrNotFound), http.StatusNotFound},
		{"gid mismatch", registry.ErrGIDMismatch, http.StatusBadRequest},
		{"bad signature", &envelope.VerificationError{Kind: envelope.ErrBadSignature}, http.StatusBadRequest},
		{"overlay timeout", fmt.Errorf("%w: %w", registry.ErrOverlay, dht.ErrOverlayTimeout), http.StatusGatewayTimeout},
		{"overlay failure", fmt.Errorf("%w: %w", registry.ErrOverlay, dht.ErrOverlay), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ts := newTestServer(t, stubService{err: tc.err}, time.Second)
			code, _ := do(t, http.MethodGet, ts.URL+"/g", "")
			assert.Equal(t, tc.code, code)
			code, _ = do(t, http.MethodPut, ts.URL+"/g", "x.y.z")
			assert.Equal(t, tc.code, code)
		})
	}
}

func Test_Slow_Store_Answers_Gateway_Timeout(t *testing.T) {
	_, ts := newTestServer(t, stubService{delay: 500 * time.Millisecond}, 50*time.Millisecond)

	start := time.Now()
	code, _ := do(t, http.MethodGet, ts.URL+"/slow", "")
	assert.Equal(t, http.StatusGatewayTimeout, code)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func Test_Status_Document(t *testing.T) {
	ts := newRegistryServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.EqualValues(t, 200, doc["status"])
	assert.Equal(t, []any{"192.0.2.7:4001"}, doc["connectedNodes"])
	version, ok := doc["version"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, version, "version")
	assert.Contains(t, version, "build")
	assert.Contains(t, version, "protocol")
}

func Test_Health_And_Metrics_Endpoints(t *testing.T) {
	srv, ts := newTestServer(t, stubService{}, time.Second)

	get := func(path string) (int, string) {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(b)
	}

	code, _ := get("/livez")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	srv.SetReady(true)
	code, _ = get("/readyz")
	assert.Equal(t, http.StatusOK, code)

	code, body := get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "gsls_http_request_duration_seconds")
}
