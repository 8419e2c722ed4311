package observability

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type routeKey struct {
	Method string
	Path   string
	Status int
}

type routeStat struct {
	Count     int64
	LatencyMS float64
}

// Collector keeps request metrics per route plus answer-key counters, and
// renders them in the Prometheus text format.
type Collector struct {
	db *sql.DB

	mu             sync.RWMutex
	routes         map[routeKey]routeStat
	submissions    map[string]int64
	importWarnings map[string]int64
	startedAt      time.Time
}

func NewCollector(db *sql.DB) *Collector {
	return &Collector{
		db:             db,
		routes:         make(map[routeKey]routeStat),
		submissions:    make(map[string]int64),
		importWarnings: make(map[string]int64),
		startedAt:      time.Now(),
	}
}

// CountSubmission counts one answer-key submission by outcome.
func (c *Collector) CountSubmission(outcome string) {
	c.mu.Lock()
	c.submissions[outcome]++
	c.mu.Unlock()
}

// CountImportWarning counts one skipped spreadsheet row or cell by code.
func (c *Collector) CountImportWarning(code string) {
	c.mu.Lock()
	c.importWarnings[code]++
	c.mu.Unlock()
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

type requestLog struct {
	RequestID string  `json:"request_id"`
	ExamCode  string  `json:"exam_code,omitempty"`
	Method    string  `json:"method"`
	Path      string  `json:"path"`
	Status    int     `json:"status"`
	Bytes     int     `json:"bytes"`
	LatencyMS float64 `json:"latency_ms"`
	RemoteIP  string  `json:"remote_ip"`
}

// Middleware records one route sample and writes one JSON log line per
// request.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
		path := normalizedPath(r.URL.Path)

		c.mu.Lock()
		k := routeKey{Method: r.Method, Path: path, Status: rec.status}
		s := c.routes[k]
		s.Count++
		s.LatencyMS += latencyMS
		c.routes[k] = s
		c.mu.Unlock()

		b, _ := json.Marshal(requestLog{
			RequestID: middleware.GetReqID(r.Context()),
			ExamCode:  extractExamCode(r.URL.Path),
			Method:    r.Method,
			Path:      path,
			Status:    rec.status,
			Bytes:     rec.bytes,
			LatencyMS: latencyMS,
			RemoteIP:  strings.TrimSpace(r.RemoteAddr),
		})
		log.Printf("%s", b)
	})
}

func (c *Collector) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	routes := make(map[routeKey]routeStat, len(c.routes))
	for k, v := range c.routes {
		routes[k] = v
	}
	submissions := copyCounts(c.submissions)
	warnings := copyCounts(c.importWarnings)
	startedAt := c.startedAt
	c.mu.RUnlock()

	keys := make([]routeKey, 0, len(routes))
	for k := range routes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Status < keys[j].Status
	})

	var sb strings.Builder
	metric(&sb, "omrkey_uptime_seconds", "gauge")
	fmt.Fprintf(&sb, "omrkey_uptime_seconds %.0f\n", time.Since(startedAt).Seconds())

	metric(&sb, "omrkey_http_requests_total", "counter")
	metric(&sb, "omrkey_http_request_latency_ms_sum", "counter")
	for _, k := range keys {
		s := routes[k]
		labels := fmt.Sprintf(`method="%s",path="%s",status="%d"`, k.Method, k.Path, k.Status)
		fmt.Fprintf(&sb, "omrkey_http_requests_total{%s} %d\n", labels, s.Count)
		fmt.Fprintf(&sb, "omrkey_http_request_latency_ms_sum{%s} %.3f\n", labels, s.LatencyMS)
	}

	metric(&sb, "omrkey_answer_key_submissions_total", "counter")
	writeCounts(&sb, "omrkey_answer_key_submissions_total", "outcome", submissions)
	metric(&sb, "omrkey_import_warnings_total", "counter")
	writeCounts(&sb, "omrkey_import_warnings_total", "code", warnings)

	if c.db != nil {
		dbs := c.db.Stats()
		metric(&sb, "omrkey_db_open_connections", "gauge")
		fmt.Fprintf(&sb, "omrkey_db_open_connections %d\n", dbs.OpenConnections)
		metric(&sb, "omrkey_db_in_use_connections", "gauge")
		fmt.Fprintf(&sb, "omrkey_db_in_use_connections %d\n", dbs.InUse)
		metric(&sb, "omrkey_db_wait_duration_ms", "counter")
		fmt.Fprintf(&sb, "omrkey_db_wait_duration_ms %.3f\n", float64(dbs.WaitDuration.Microseconds())/1000.0)
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

func metric(sb *strings.Builder, name, kind string) {
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, kind)
}

func writeCounts(sb *strings.Builder, name, label string, counts map[string]int64) {
	names := make([]string, 0, len(counts))
	for k := range counts {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(sb, "%s{%s=%q} %d\n", name, label, k, counts[k])
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// normalizedPath keeps metric labels bounded: exam codes and numeric
// segments are replaced by placeholders.
func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i > 0 && parts[i-1] == "exams" {
			parts[i] = "{code}"
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func extractExamCode(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "exams" {
			return parts[i+1]
		}
	}
	return ""
}
