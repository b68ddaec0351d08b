// Package metrics keeps process-wide counters and histograms and renders
// them in the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const namespace = "quickpostkit_"

type kind int

const (
	counterKind kind = iota
	histogramKind
)

type family struct {
	name   string
	help   string
	kind   kind
	labels []string
}

var families = []family{
	{"http_requests_total", "Total number of HTTP requests processed.", counterKind, []string{"handler", "method", "code"}},
	{"http_request_errors_total", "Total number of HTTP requests that resulted in a server error.", counterKind, []string{"handler", "method"}},
	{"http_request_duration_seconds", "HTTP request duration in seconds.", histogramKind, []string{"handler", "method"}},
	{"rate_limited_total", "Requests rejected by the rate limiter.", counterKind, []string{"handler"}},
	{"jobs_total", "Generation job attempts by outcome.", counterKind, []string{"outcome"}},
	{"job_duration_seconds", "Generation job attempt duration in seconds.", histogramKind, []string{"outcome"}},
	{"llm_requests_total", "Language model calls by provider and outcome.", counterKind, []string{"provider", "outcome"}},
	{"llm_tokens_total", "Language model tokens by provider and kind.", counterKind, []string{"provider", "kind"}},
	{"llm_request_duration_seconds", "Language model call duration in seconds.", histogramKind, []string{"provider"}},
	{"payments_total", "Payment gateway operations by operation and outcome.", counterKind, []string{"operation", "outcome"}},
	{"artifacts_swept_total", "Documents removed by the retention sweep.", counterKind, nil},
	{"jobs_swept_total", "Job records removed by the retention sweep.", counterKind, nil},
}

var defaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram() *histogram {
	return &histogram{
		buckets: defaultBuckets,
		counts:  make([]uint64, len(defaultBuckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
}

// collector 以 "指标名\x00标签值..." 为键保存所有序列。
type collector struct {
	mu         sync.Mutex
	counters   map[string]float64
	histograms map[string]*histogram
}

var defaultCollector = newCollector()

func newCollector() *collector {
	return &collector{
		counters:   make(map[string]float64),
		histograms: make(map[string]*histogram),
	}
}

func seriesKey(name string, values []string) string {
	return name + "\x00" + strings.Join(values, "\x00")
}

func (c *collector) add(name string, delta float64, values ...string) {
	c.mu.Lock()
	c.counters[seriesKey(name, values)] += delta
	c.mu.Unlock()
}

func (c *collector) observe(name string, value float64, values ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := seriesKey(name, values)
	h := c.histograms[key]
	if h == nil {
		h = newHistogram()
		c.histograms[key] = h
	}
	h.observe(value)
}

func (c *collector) reset() {
	c.mu.Lock()
	c.counters = make(map[string]float64)
	c.histograms = make(map[string]*histogram)
	c.mu.Unlock()
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.Grow(2048)
	for _, fam := range families {
		full := namespace + fam.name
		typ := "counter"
		if fam.kind == histogramKind {
			typ = "histogram"
		}
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n", full, fam.help, full, typ)

		prefix := fam.name + "\x00"
		if fam.kind == counterKind {
			for _, key := range sortedKeys(c.counters, prefix) {
				fmt.Fprintf(&b, "%s%s %s\n", full, labelSet(fam.labels, key[len(prefix):], ""), formatFloat(c.counters[key]))
			}
			continue
		}
		for _, key := range sortedKeys(c.histograms, prefix) {
			h := c.histograms[key]
			values := key[len(prefix):]
			for idx, bound := range h.buckets {
				fmt.Fprintf(&b, "%s_bucket%s %d\n", full, labelSet(fam.labels, values, formatFloat(bound)), h.counts[idx])
			}
			fmt.Fprintf(&b, "%s_bucket%s %d\n", full, labelSet(fam.labels, values, "+Inf"), h.count)
			fmt.Fprintf(&b, "%s_sum%s %s\n", full, labelSet(fam.labels, values, ""), formatFloat(h.sum))
			fmt.Fprintf(&b, "%s_count%s %d\n", full, labelSet(fam.labels, values, ""), h.count)
		}
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V, prefix string) []string {
	keys := make([]string, 0)
	for key := range m {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func labelSet(names []string, joined string, le string) string {
	pairs := make([]string, 0, len(names)+1)
	if len(names) > 0 {
		values := strings.Split(joined, "\x00")
		for i, name := range names {
			value := ""
			if i < len(values) {
				value = values[i]
			}
			pairs = append(pairs, fmt.Sprintf("%s=\"%s\"", name, escape(value)))
		}
	}
	if le != "" {
		pairs = append(pairs, fmt.Sprintf("le=\"%s\"", le))
	}
	if len(pairs) == 0 {
		return ""
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
