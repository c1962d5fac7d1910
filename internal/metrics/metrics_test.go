package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	kerrors "github.com/PolarWolf314/muna/internal/errors"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("decrypt: %w", kerrors.ErrTamperOrCorruption), "tampered"},
		{kerrors.ErrUnwrapFailed, "unwrap_failed"},
		{kerrors.ErrKeyVersionMissing, "version_missing"},
		{kerrors.ErrRecipientKeyUnavailable, "recipient_unavailable"},
		{kerrors.ErrDirectoryOrStoreFailure, "store_failure"},
		{errors.New("other"), "error"},
	}
	for _, tt := range tests {
		if got := Result(tt.err); got != tt.want {
			t.Errorf("Result(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestObserve_CountsByResult(t *testing.T) {
	m := New()
	m.Observe(OpDecrypt, time.Now(), nil)
	m.Observe(OpDecrypt, time.Now(), kerrors.ErrTamperOrCorruption)
	m.Observe(OpDecrypt, time.Now(), kerrors.ErrTamperOrCorruption)

	if got := testutil.ToFloat64(m.operations.WithLabelValues(OpDecrypt, "ok")); got != 1 {
		t.Errorf("ok count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues(OpDecrypt, "tampered")); got != 2 {
		t.Errorf("tampered count = %v, want 2", got)
	}
}

func TestObserveRotation_PartialResult(t *testing.T) {
	m := New()
	m.ObserveRotation(nil, 3, 1, 2)

	if got := testutil.ToFloat64(m.rotations.WithLabelValues("partial")); got != 1 {
		t.Errorf("partial rotations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.members.WithLabelValues("pending")); got != 2 {
		t.Errorf("pending members = %v, want 2", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Observe(OpEncrypt, time.Now(), nil)
	m.ObserveRotation(nil, 1, 0, 0)
	m.ObserveRequest("/v1/keys", 200)
	if m.Registry() != nil {
		t.Error("nil Metrics should have no registry")
	}
}

func TestHandler_ExposesInstruments(t *testing.T) {
	m := New()
	m.Observe(OpEncrypt, time.Now(), nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "muna_crypto_operations_total") {
		t.Error("exposition is missing muna_crypto_operations_total")
	}
}
