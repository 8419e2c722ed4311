package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizedPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "/api/v1/exams/HK1-TOAN/answer-key", want: "/api/v1/exams/{code}/answer-key"},
		{path: "/api/v1/exams/2024/answer-key/load", want: "/api/v1/exams/{code}/answer-key/load"},
		{path: "/api/v1/templates/validate", want: "/api/v1/templates/validate"},
		{path: "/items/42", want: "/items/{id}"},
		{path: "", want: "/"},
	}
	for _, tc := range tests {
		if got := normalizedPath(tc.path); got != tc.want {
			t.Fatalf("normalizedPath(%q) got=%s want=%s", tc.path, got, tc.want)
		}
	}
}

func TestExtractExamCode(t *testing.T) {
	if code := extractExamCode("/api/v1/exams/HK1-TOAN/answer-key"); code != "HK1-TOAN" {
		t.Fatalf("expected HK1-TOAN, got %q", code)
	}
	if code := extractExamCode("/api/v1/templates/index"); code != "" {
		t.Fatalf("expected empty code for non-exam path, got %q", code)
	}
}

func TestMetricsHandlerCountsRequests(t *testing.T) {
	c := NewCollector(nil)
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/exams/E1/answer-key", nil))

	w := httptest.NewRecorder()
	c.MetricsHandler(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	want := `omrkey_http_requests_total{method="POST",path="/api/v1/exams/{code}/answer-key",status="422"} 1`
	if !strings.Contains(body, want) {
		t.Fatalf("metrics missing %q in:\n%s", want, body)
	}
	if strings.Contains(body, "omrkey_db_open_connections") {
		t.Fatalf("db metrics should be absent without a database")
	}
}

func TestMetricsHandlerAnswerKeyCounters(t *testing.T) {
	c := NewCollector(nil)
	c.CountSubmission("accepted")
	c.CountSubmission("score_total_mismatch")
	c.CountSubmission("accepted")
	c.CountImportWarning("unknown_label")

	w := httptest.NewRecorder()
	c.MetricsHandler(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()

	for _, want := range []string{
		`omrkey_answer_key_submissions_total{outcome="accepted"} 2`,
		`omrkey_answer_key_submissions_total{outcome="score_total_mismatch"} 1`,
		`omrkey_import_warnings_total{code="unknown_label"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q in:\n%s", want, body)
		}
	}
}

func TestMiddlewareCountsBytes(t *testing.T) {
	rec := &responseRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	_, _ = rec.Write([]byte("hello"))
	_, _ = rec.Write([]byte("!"))
	if rec.bytes != 6 {
		t.Fatalf("expected 6 bytes, got %d", rec.bytes)
	}
}
