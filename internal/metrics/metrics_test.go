package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string) (float64, bool) {
	t.Helper()
	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() == name {
			var total float64
			for _, m := range mf.GetMetric() {
				total += m.GetCounter().GetValue()
			}
			return total, true
		}
	}
	return 0, false
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestIncLoginBegun_IncrementsCounter はログイン開始カウンタが増加することを検証する。
func TestIncLoginBegun_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.IncLoginBegun()
	c.IncLoginBegun()

	val, found := counterValue(t, reg, "venus_login_begun_total")
	if !found {
		t.Fatal("venus_login_begun_total metric not found")
	}
	if val != 2 {
		t.Errorf("login_begun_total = %v, want 2", val)
	}
}

// TestIncLoginFailed_RecordsReason はログイン失敗カウンタが理由ラベル付きで増加することを検証する。
func TestIncLoginFailed_RecordsReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.IncLoginFailed("invalid_code")
	c.IncLoginFailed("invalid_code")
	c.IncLoginFailed("expired_token")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() != "venus_login_failed_total" {
			continue
		}
		found = true
		if len(mf.GetMetric()) != 2 {
			t.Fatalf("expected 2 labeled series, got %d", len(mf.GetMetric()))
		}
		for _, m := range mf.GetMetric() {
			reason := ""
			for _, l := range m.GetLabel() {
				if l.GetName() == "reason" {
					reason = l.GetValue()
				}
			}
			val := m.GetCounter().GetValue()
			switch reason {
			case "invalid_code":
				if val != 2 {
					t.Errorf("invalid_code count = %v, want 2", val)
				}
			case "expired_token":
				if val != 1 {
					t.Errorf("expired_token count = %v, want 1", val)
				}
			default:
				t.Errorf("unexpected reason label %q", reason)
			}
		}
	}
	if !found {
		t.Error("venus_login_failed_total metric not found")
	}
}

// TestSessionCounters はセッション作成・失効カウンタを検証する。
func TestSessionCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.IncSessionCreated()
	c.IncSessionCreated()
	c.IncSessionRevoked()

	created, _ := counterValue(t, reg, "venus_sessions_created_total")
	if created != 2 {
		t.Errorf("sessions_created_total = %v, want 2", created)
	}
	revoked, _ := counterValue(t, reg, "venus_sessions_revoked_total")
	if revoked != 1 {
		t.Errorf("sessions_revoked_total = %v, want 1", revoked)
	}
}

// TestRecordExpiredPurged は期限切れ削除カウンタがkindラベル別に増加することを検証する。
func TestRecordExpiredPurged(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordExpiredPurged(3, 7)

	val, found := counterValue(t, reg, "venus_expired_purged_total")
	if !found {
		t.Fatal("venus_expired_purged_total metric not found")
	}
	if val != 10 {
		t.Errorf("expired_purged_total = %v, want 10 (3 sessions + 7 pendings)", val)
	}
}

// TestObserveHTTPRequest はHTTPリクエストメトリクスが記録されることを検証する。
func TestObserveHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveHTTPRequest("GET", "/api/users", 200, 15*time.Millisecond)

	val, found := counterValue(t, reg, "venus_http_requests_total")
	if !found {
		t.Fatal("venus_http_requests_total metric not found")
	}
	if val != 1 {
		t.Errorf("http_requests_total = %v, want 1", val)
	}
}

// TestHandler_ServesPrometheusFormat は/metricsエンドポイントがPrometheus形式で応答することを検証する。
func TestHandler_ServesPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.IncLoginBegun()

	handler := Handler(reg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	body, err := io.ReadAll(w.Result().Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if !strings.Contains(string(body), "venus_login_begun_total") {
		t.Error("expected venus_login_begun_total in metrics output")
	}
}
