package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderObserve(t *testing.T) {
	r := NewRecorder()
	r.Observe("login", "ok", 20*time.Millisecond)
	r.Observe("login", "ok", 30*time.Millisecond)
	r.Observe("login", "invalid_credential", 25*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(r.Operations().WithLabelValues("login", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.Operations().WithLabelValues("login", "invalid_credential")))
}

func TestRecorderSwept(t *testing.T) {
	r := NewRecorder()
	r.Swept("pin", 0)
	r.Swept("pin", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(r.swept.WithLabelValues("pin")))
}

func TestRecorderHandler(t *testing.T) {
	r := NewRecorder()
	r.Observe("register", "ok", time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `credential_operations_total{operation="register",outcome="ok"} 1`)
}
