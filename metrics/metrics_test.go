package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Handler_Exposes_Collectors(t *testing.T) {
	OverlayRPCs.WithLabelValues("PING", "ok").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gsls_overlay_rpcs_total")
}

func Test_Outcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "error", Outcome(errors.New("x")))

	before := testutil.ToFloat64(OverlayInboundDropped)
	OverlayInboundDropped.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(OverlayInboundDropped))
}
