// Package metrics exposes gateway counters in the Prometheus text exposition
// format. The gateway tracks a dozen scalar series, which a small hand-rolled
// registry covers without pulling in prometheus/client_golang.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry every metric registers into.
var Collector = NewRegistry()

// Registry holds named series and renders them on demand. Series are keyed by
// name plus label set, so per-channel variants of one metric coexist.
type Registry struct {
	start time.Time

	mu     sync.Mutex
	series map[string]*entry
}

type entry struct {
	name   string
	help   string
	labels string

	counter *Counter
	gauge   *Gauge
	hist    *Histogram
}

func NewRegistry() *Registry {
	return &Registry{start: time.Now(), series: map[string]*entry{}}
}

// Uptime reports how long the process has been collecting.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.start)
}

// Counter is a monotonically increasing series.
type Counter struct {
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a series that can go up and down.
type Gauge struct {
	value atomic.Int64
}

func (g *Gauge) Set(v int64)   { g.value.Store(v) }
func (g *Gauge) Inc()          { g.value.Add(1) }
func (g *Gauge) Dec()          { g.value.Add(-1) }
func (g *Gauge) Value() int64  { return g.value.Load() }

// Histogram tracks a value distribution in cumulative buckets.
type Histogram struct {
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records one value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

func (r *Registry) entry(name, help, labels string) *entry {
	key := name + "{" + labels + "}"
	e, ok := r.series[key]
	if !ok {
		e = &entry{name: name, help: help, labels: labels}
		r.series[key] = e
	}
	return e
}

// Counter returns or creates the counter for the given name and label set.
func (r *Registry) Counter(name, help, labels string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(name, help, labels)
	if e.counter == nil {
		e.counter = &Counter{}
	}
	return e.counter
}

// Gauge returns or creates the gauge for the given name and label set.
func (r *Registry) Gauge(name, help, labels string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(name, help, labels)
	if e.gauge == nil {
		e.gauge = &Gauge{}
	}
	return e.gauge
}

// Histogram returns or creates a histogram. The +Inf bucket is appended when
// the caller's bucket list does not end with one, so _bucket{le="+Inf"} always
// equals _count.
func (r *Registry) Histogram(name, help, labels string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(name, help, labels)
	if e.hist == nil {
		sort.Float64s(buckets)
		hb := make([]histBucket, 0, len(buckets)+1)
		for _, b := range buckets {
			hb = append(hb, histBucket{le: b})
		}
		if len(hb) == 0 || !math.IsInf(hb[len(hb)-1].le, 1) {
			hb = append(hb, histBucket{le: math.Inf(1)})
		}
		e.hist = &Histogram{buckets: hb}
	}
	return e.hist
}

// Handler serves the registry in Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WritePrometheus(w)
	}
}

// WritePrometheus renders every registered series, sorted by name so scrapes
// are stable.
func (r *Registry) WritePrometheus(w io.Writer) {
	r.mu.Lock()
	keys := make([]string, 0, len(r.series))
	for k := range r.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]*entry, len(keys))
	for i, k := range keys {
		entries[i] = r.series[k]
	}
	r.mu.Unlock()

	fmt.Fprintf(w, "# HELP crystalbay_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(w, "# TYPE crystalbay_uptime_seconds gauge\n")
	fmt.Fprintf(w, "crystalbay_uptime_seconds %d\n", int64(r.Uptime().Seconds()))

	prev := ""
	for _, e := range entries {
		if e.name != prev {
			fmt.Fprintf(w, "# HELP %s %s\n", e.name, e.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", e.name, e.kind())
			prev = e.name
		}
		switch {
		case e.counter != nil:
			writeScalar(w, e.name, e.labels, e.counter.Value())
		case e.gauge != nil:
			writeScalar(w, e.name, e.labels, e.gauge.Value())
		case e.hist != nil:
			e.hist.write(w, e.name, e.labels)
		}
	}
}

func (e *entry) kind() string {
	switch {
	case e.counter != nil:
		return "counter"
	case e.hist != nil:
		return "histogram"
	default:
		return "gauge"
	}
}

func writeScalar(w io.Writer, name, labels string, v int64) {
	if labels != "" {
		fmt.Fprintf(w, "%s{%s} %d\n", name, labels, v)
	} else {
		fmt.Fprintf(w, "%s %d\n", name, v)
	}
}

func (h *Histogram) write(w io.Writer, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, b := range h.buckets {
		le := fmt.Sprintf("%g", b.le)
		if math.IsInf(b.le, 1) {
			le = "+Inf"
		}
		bucketLabels := `le="` + le + `"`
		if labels != "" {
			bucketLabels = labels + "," + bucketLabels
		}
		fmt.Fprintf(w, "%s_bucket{%s} %d\n", name, bucketLabels, b.count)
	}
	writeScalar(w, name+"_count", labels, h.count)
	if labels != "" {
		fmt.Fprintf(w, "%s_sum{%s} %g\n", name, labels, h.sum)
	} else {
		fmt.Fprintf(w, "%s_sum %g\n", name, h.sum)
	}
}

// Series used across the gateway.
var (
	MessagesInTotal    = Collector.Counter("crystalbay_messages_in_total", "Total inbound messages stored", "")
	MessagesOutTotal   = Collector.Counter("crystalbay_messages_out_total", "Total outbound messages sent", "")
	WebhooksTotal      = Collector.Counter("crystalbay_webhooks_total", "Total webhook requests handled", "")
	WebhookItemsFailed = Collector.Counter("crystalbay_webhook_items_failed_total", "Webhook batch items that failed processing", "")
	SendFailures       = Collector.Counter("crystalbay_send_failures_total", "Outbound sends that failed", "")
	AutomationMatches  = Collector.Counter("crystalbay_automation_matches_total", "Automation rules matched", "")
	AutomationFailures = Collector.Counter("crystalbay_automation_failures_total", "Automation actions that failed", "")
	LeadsCreated       = Collector.Counter("crystalbay_leads_created_total", "Leads created from conversations", "")
	ActiveWSClients    = Collector.Gauge("crystalbay_ws_clients", "Current websocket event stream clients", "")

	ProviderLatency = Collector.Histogram("crystalbay_provider_latency_seconds", "Channel provider API latency in seconds", "",
		[]float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30})
)

// ChannelMessagesIn returns the per-channel inbound message counter.
func ChannelMessagesIn(channel string) *Counter {
	return Collector.Counter("crystalbay_channel_messages_in_total", "Inbound messages per channel", `channel="`+channel+`"`)
}

// ChannelMessagesOut returns the per-channel outbound message counter.
func ChannelMessagesOut(channel string) *Counter {
	return Collector.Counter("crystalbay_channel_messages_out_total", "Outbound messages per channel", `channel="`+channel+`"`)
}
