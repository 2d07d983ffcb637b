package observability

import (
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetricsRegistry holds all registered metric series. A series is identified
// by its name together with its label set, so one metric family may carry
// several series (one per provider, failure kind and so on).
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	histos   map[string]*Histogram
	help     map[string]string
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name   string
	labels map[string]string
	value  float64
	mu     sync.Mutex
}

// Gauge is a metric that can go up or down.
type Gauge struct {
	name   string
	labels map[string]string
	value  float64
	mu     sync.Mutex
}

// Histogram tracks distribution of values.
type Histogram struct {
	name    string
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
	mu      sync.Mutex
}

// NewMetricsRegistry creates a new metrics registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		histos:   make(map[string]*Histogram),
		help:     make(map[string]string),
	}
}

// NewCounter returns the counter series for name and labels, registering it
// on first use.
func (r *MetricsRegistry) NewCounter(name, help string, labels map[string]string) *Counter {
	key := seriesKey(name, labels)

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[key]; ok {
		return c
	}
	r.help[name] = help
	c := &Counter{name: name, labels: copyLabels(labels)}
	r.counters[key] = c
	return c
}

// NewGauge returns the gauge series for name and labels, registering it on
// first use.
func (r *MetricsRegistry) NewGauge(name, help string, labels map[string]string) *Gauge {
	key := seriesKey(name, labels)

	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gauges[key]; ok {
		return g
	}
	r.help[name] = help
	g := &Gauge{name: name, labels: copyLabels(labels)}
	r.gauges[key] = g
	return g
}

// NewHistogram returns the histogram series for name and labels, registering
// it on first use. A nil bucket list selects DefaultBuckets.
func (r *MetricsRegistry) NewHistogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	key := seriesKey(name, labels)

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.histos[key]; ok {
		return h
	}
	if buckets == nil {
		buckets = DefaultBuckets()
	}
	r.help[name] = help
	h := &Histogram{
		name:    name,
		labels:  copyLabels(labels),
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	r.histos[key] = h
	return h
}

// DefaultBuckets returns histogram buckets suited to upstream API latency,
// which ranges from sub-second completions to multi-minute image polls.
func DefaultBuckets() []float64 {
	return []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
}

// Inc increments a counter by 1.
func (c *Counter) Inc() {
	c.Add(1)
}

// Add adds a value to the counter.
func (c *Counter) Add(v float64) {
	c.mu.Lock()
	c.value += v
	c.mu.Unlock()
}

// Value returns the counter value.
func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set sets the gauge value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.Add(-1)
}

// Add adds a value to the gauge.
func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.value += v
	g.mu.Unlock()
}

// Value returns the gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Handler returns an HTTP handler for Prometheus metrics.
func (r *MetricsRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WritePrometheus(w)
	})
}

// WritePrometheus writes all series in Prometheus text format, grouped by
// family and sorted so that scrapes are stable.
func (r *MetricsRegistry) WritePrometheus(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	header := func(name, kind string) {
		if seen[name] {
			return
		}
		seen[name] = true
		io.WriteString(w, "# HELP "+name+" "+r.help[name]+"\n")
		io.WriteString(w, "# TYPE "+name+" "+kind+"\n")
	}

	for _, key := range sortedKeys(r.counters) {
		c := r.counters[key]
		header(c.name, "counter")
		c.mu.Lock()
		io.WriteString(w, c.name+formatLabels(c.labels)+" "+formatFloat(c.value)+"\n")
		c.mu.Unlock()
	}

	for _, key := range sortedKeys(r.gauges) {
		g := r.gauges[key]
		header(g.name, "gauge")
		g.mu.Lock()
		io.WriteString(w, g.name+formatLabels(g.labels)+" "+formatFloat(g.value)+"\n")
		g.mu.Unlock()
	}

	for _, key := range sortedKeys(r.histos) {
		h := r.histos[key]
		header(h.name, "histogram")
		h.mu.Lock()
		writeHistogram(w, h)
		h.mu.Unlock()
	}
}

func writeHistogram(w io.Writer, h *Histogram) {
	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += h.counts[i]
		labels := copyLabels(h.labels)
		labels["le"] = formatFloat(bound)
		io.WriteString(w, h.name+"_bucket"+formatLabels(labels)+" "+formatUint(cumulative)+"\n")
	}

	labels := copyLabels(h.labels)
	labels["le"] = "+Inf"
	io.WriteString(w, h.name+"_bucket"+formatLabels(labels)+" "+formatUint(h.count)+"\n")
	io.WriteString(w, h.name+"_sum"+formatLabels(h.labels)+" "+formatFloat(h.sum)+"\n")
	io.WriteString(w, h.name+"_count"+formatLabels(h.labels)+" "+formatUint(h.count)+"\n")
}

func seriesKey(name string, labels map[string]string) string {
	return name + formatLabels(labels)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	names := sortedKeys(labels)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(labels[k]))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// RelayMetrics holds the metric families chatrelay records.
type RelayMetrics struct {
	registry *MetricsRegistry
}

const (
	metricUpdates       = "chatrelay_updates_total"
	metricGating        = "chatrelay_gating_decisions_total"
	metricLLMRequests   = "chatrelay_llm_requests_total"
	metricLLMErrors     = "chatrelay_llm_errors_total"
	metricLLMDuration   = "chatrelay_llm_request_duration_seconds"
	metricLLMTokens     = "chatrelay_llm_tokens_total"
	metricImages        = "chatrelay_image_generations_total"
	metricStoreWrites   = "chatrelay_store_writes_total"
	metricInflightChats = "chatrelay_inflight_chats"
)

// NewRelayMetrics binds the chatrelay metric families to a registry.
func NewRelayMetrics(registry *MetricsRegistry) *RelayMetrics {
	return &RelayMetrics{registry: registry}
}

// Registry returns the underlying registry.
func (m *RelayMetrics) Registry() *MetricsRegistry {
	return m.registry
}

// RecordUpdate counts one handled chat update by command ("text" for free text).
func (m *RelayMetrics) RecordUpdate(command string) {
	m.registry.NewCounter(metricUpdates, "Chat updates handled",
		map[string]string{"command": command}).Inc()
}

// RecordGating counts one gating decision by reason.
func (m *RelayMetrics) RecordGating(reason string) {
	m.registry.NewCounter(metricGating, "Gating decisions for free-text messages",
		map[string]string{"reason": reason}).Inc()
}

// RecordLLMRequest records one text generation call. An empty failure kind
// means the call succeeded.
func (m *RelayMetrics) RecordLLMRequest(provider, model string, duration time.Duration, inputTokens, outputTokens int, failure string) {
	m.registry.NewCounter(metricLLMRequests, "Text generation requests",
		map[string]string{"provider": provider, "model": model}).Inc()
	m.registry.NewHistogram(metricLLMDuration, "Text generation latency in seconds",
		map[string]string{"provider": provider}, nil).Observe(duration.Seconds())

	if failure != "" {
		m.registry.NewCounter(metricLLMErrors, "Failed text generation requests",
			map[string]string{"provider": provider, "kind": failure}).Inc()
		return
	}
	m.registry.NewCounter(metricLLMTokens, "Tokens exchanged with providers",
		map[string]string{"provider": provider, "direction": "input"}).Add(float64(inputTokens))
	m.registry.NewCounter(metricLLMTokens, "Tokens exchanged with providers",
		map[string]string{"provider": provider, "direction": "output"}).Add(float64(outputTokens))
}

// RecordImage records one image generation attempt.
func (m *RelayMetrics) RecordImage(mode string, success, censored bool) {
	outcome := "success"
	switch {
	case censored:
		outcome = "censored"
	case !success:
		outcome = "failure"
	}
	m.registry.NewCounter(metricImages, "Image generation attempts",
		map[string]string{"mode": mode, "outcome": outcome}).Inc()
}

// RecordStoreWrite records one message store write.
func (m *RelayMetrics) RecordStoreWrite(backend string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.registry.NewCounter(metricStoreWrites, "Message store writes",
		map[string]string{"backend": backend, "status": status}).Inc()
}

// InflightChats tracks chats with a request currently being processed.
func (m *RelayMetrics) InflightChats() *Gauge {
	return m.registry.NewGauge(metricInflightChats, "Chats with a request in flight", nil)
}

var (
	globalMetrics     *RelayMetrics
	globalMetricsOnce sync.Once
)

// Metrics returns the process-wide chatrelay metrics.
func Metrics() *RelayMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewRelayMetrics(NewMetricsRegistry())
	})
	return globalMetrics
}
