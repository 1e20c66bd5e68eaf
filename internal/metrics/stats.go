package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// latency bucket upper bounds in milliseconds; the last bucket is open
var bucketBounds = []int64{1, 5, 10, 25, 50, 100, 250, 500, 1000}

var bucketLabels = [...]string{
	"0-1ms", "1-5ms", "5-10ms", "10-25ms", "25-50ms",
	"50-100ms", "100-250ms", "250-500ms", "500-1000ms", "1000ms+",
}

// Stats keeps per-route request counts and latencies in process so the API
// can report them as JSON without a Prometheus scrape.
type Stats struct {
	mu     sync.RWMutex
	routes map[string]*routeStats

	wsClients int64
	start     time.Time
	now       func() time.Time
}

type routeStats struct {
	count   atomic.Uint64
	errors  atomic.Uint64
	mu      sync.Mutex
	buckets [len(bucketLabels)]uint64
	sumNs   uint64
}

// NewStats returns an empty Stats with uptime starting now.
func NewStats() *Stats {
	return &Stats{
		routes: make(map[string]*routeStats),
		start:  time.Now(),
		now:    time.Now,
	}
}

func (s *Stats) route(name string) *routeStats {
	s.mu.RLock()
	rs, ok := s.routes[name]
	s.mu.RUnlock()
	if ok {
		return rs
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rs, ok = s.routes[name]; !ok {
		rs = &routeStats{}
		s.routes[name] = rs
	}
	return rs
}

// Observe records one request on route. Status codes of 500 and above
// count as errors.
func (s *Stats) Observe(route string, status int, d time.Duration) {
	rs := s.route(route)
	rs.count.Add(1)
	if status >= 500 {
		rs.errors.Add(1)
	}

	ms := d.Milliseconds()
	idx := len(bucketBounds)
	for i, bound := range bucketBounds {
		if ms < bound {
			idx = i
			break
		}
	}

	rs.mu.Lock()
	rs.buckets[idx]++
	rs.sumNs += uint64(d.Nanoseconds())
	rs.mu.Unlock()
}

// AddWSClients adjusts the live websocket client count by delta.
func (s *Stats) AddWSClients(delta int64) {
	atomic.AddInt64(&s.wsClients, delta)
}

// Summary is the JSON view of Stats.
type Summary struct {
	Uptime        string                  `json:"uptime"`
	UptimeSeconds float64                 `json:"uptime_seconds"`
	Routes        map[string]RouteSummary `json:"routes"`
	WSClients     int64                   `json:"ws_clients"`
	CollectedAt   time.Time               `json:"collected_at"`
}

// RouteSummary holds one route's counters.
type RouteSummary struct {
	Count   uint64            `json:"count"`
	Errors  uint64            `json:"errors"`
	AvgMs   float64           `json:"avg_ms"`
	Buckets map[string]uint64 `json:"buckets"`
}

// Summary snapshots the current counters.
func (s *Stats) Summary() Summary {
	now := s.now()
	uptime := now.Sub(s.start)

	s.mu.RLock()
	routes := make(map[string]RouteSummary, len(s.routes))
	for name, rs := range s.routes {
		sum := RouteSummary{
			Count:   rs.count.Load(),
			Errors:  rs.errors.Load(),
			Buckets: make(map[string]uint64),
		}
		rs.mu.Lock()
		var n uint64
		for i, c := range rs.buckets {
			if c > 0 {
				sum.Buckets[bucketLabels[i]] = c
				n += c
			}
		}
		if n > 0 {
			sum.AvgMs = float64(rs.sumNs) / float64(n) / float64(time.Millisecond)
		}
		rs.mu.Unlock()
		routes[name] = sum
	}
	s.mu.RUnlock()

	return Summary{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Routes:        routes,
		WSClients:     atomic.LoadInt64(&s.wsClients),
		CollectedAt:   now,
	}
}

// JSON encodes Summary.
func (s *Stats) JSON() ([]byte, error) {
	return json.Marshal(s.Summary())
}
