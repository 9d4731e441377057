package metrics

import "sync"

// Event counter names.
const (
	MediaAdmitted     = "media_admitted"
	MediaRejected     = "media_rejected_capacity"
	MediaDisconnected = "media_disconnected"

	MessagesForwarded = "messages_forwarded"
	MessagesDropped   = "messages_dropped"
	MessagesMalformed = "messages_malformed"
	MessagesRateLimit = "messages_rate_limited"

	TargetNotFound = "target_not_found"

	TopicPublishes  = "topic_publishes"
	TopicSubscribes = "topic_subscribes"

	CompactionRuns     = "compaction_runs"
	CompactionFallback = "compaction_fallbacks"
	CompactionFailures = "compaction_failures"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The relay is expected to be scraped through the Prometheus text handler in
// this package; the registry itself stays backend-agnostic so enforcement
// logic remains testable.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
