package wallet

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// EndpointStatus is the verdict of the latest eth_chainId probes against one
// RPC endpoint.
type EndpointStatus string

const (
	EndpointUnprobed   EndpointStatus = "unprobed"
	EndpointServing    EndpointStatus = "serving"
	EndpointFlaky      EndpointStatus = "flaky"       // failed recently, not yet benched
	EndpointWrongChain EndpointStatus = "wrong_chain" // answers for another network
	EndpointBenched    EndpointStatus = "benched"
)

const (
	benchAfterFailures = 3
	benchFor           = 30 * time.Second
	latencyWindow      = 5
)

// rank orders statuses for dialing. Wrong-chain endpoints are still offered
// last so the connector can report the network mismatch.
var rank = map[EndpointStatus]int{
	EndpointServing:    0,
	EndpointUnprobed:   1,
	EndpointFlaky:      2,
	EndpointWrongChain: 3,
	EndpointBenched:    4,
}

// EndpointHealth is what the tracker knows about one RPC URL.
type EndpointHealth struct {
	URL         string         `json:"url"`
	Status      EndpointStatus `json:"status"`
	Healthy     bool           `json:"healthy"`
	ChainID     int64          `json:"chain_id,omitempty"`
	Latency     time.Duration  `json:"latency"` // median of recent probes
	Failures    int            `json:"consecutive_failures"`
	LastProbe   time.Time      `json:"last_probe"`
	LastSuccess time.Time      `json:"last_success"`
	recent      []time.Duration
}

// EndpointTracker scores RPC URLs from the chain-id probes the factory runs
// on every dial.
type EndpointTracker struct {
	mu      sync.RWMutex
	byURL   map[string]*EndpointHealth
	order   []string
	chainID int64 // 0 accepts any chain
	now     func() time.Time
}

// NewEndpointTracker tracks urls, dropping blanks and duplicates. A non-zero
// chainID marks endpoints serving another chain.
func NewEndpointTracker(urls []string, chainID int64) *EndpointTracker {
	et := &EndpointTracker{
		byURL:   make(map[string]*EndpointHealth, len(urls)),
		chainID: chainID,
		now:     time.Now,
	}
	for _, u := range urls {
		if u == "" || et.byURL[u] != nil {
			continue
		}
		et.byURL[u] = &EndpointHealth{URL: u, Status: EndpointUnprobed}
		et.order = append(et.order, u)
	}
	return et
}

// ObserveProbe records an answered probe.
func (et *EndpointTracker) ObserveProbe(url string, chainID int64, took time.Duration) {
	et.mu.Lock()
	defer et.mu.Unlock()

	ep := et.byURL[url]
	if ep == nil {
		return
	}
	now := et.now()
	ep.LastProbe, ep.LastSuccess = now, now
	ep.Failures = 0
	ep.ChainID = chainID

	ep.recent = append(ep.recent, took)
	if len(ep.recent) > latencyWindow {
		ep.recent = ep.recent[len(ep.recent)-latencyWindow:]
	}
	ep.Latency = median(ep.recent)

	if et.chainID != 0 && chainID != et.chainID {
		ep.Status = EndpointWrongChain
	} else {
		ep.Status = EndpointServing
	}
}

// ObserveFailure records a dial or probe that did not answer.
func (et *EndpointTracker) ObserveFailure(url string) {
	et.mu.Lock()
	defer et.mu.Unlock()

	ep := et.byURL[url]
	if ep == nil {
		return
	}
	ep.LastProbe = et.now()
	ep.Failures++
	if ep.Failures >= benchAfterFailures {
		ep.Status = EndpointBenched
	} else {
		ep.Status = EndpointFlaky
	}
}

// Candidates lists URLs in dial order: by status, then median latency.
// Benched endpoints come back once benchFor has passed since their last
// probe.
func (et *EndpointTracker) Candidates() []string {
	et.mu.RLock()
	defer et.mu.RUnlock()

	now := et.now()
	var eps []*EndpointHealth
	for _, u := range et.order {
		ep := et.byURL[u]
		if ep.Status == EndpointBenched && now.Sub(ep.LastProbe) < benchFor {
			continue
		}
		eps = append(eps, ep)
	}
	slices.SortStableFunc(eps, func(a, b *EndpointHealth) int {
		if d := rank[a.Status] - rank[b.Status]; d != 0 {
			return d
		}
		return cmp.Compare(a.Latency, b.Latency)
	})

	urls := make([]string, len(eps))
	for i, ep := range eps {
		urls[i] = ep.URL
	}
	return urls
}

// Snapshot copies every endpoint's state in configuration order.
func (et *EndpointTracker) Snapshot() []EndpointHealth {
	et.mu.RLock()
	defer et.mu.RUnlock()

	out := make([]EndpointHealth, 0, len(et.order))
	for _, u := range et.order {
		ep := *et.byURL[u]
		ep.recent = nil
		ep.Healthy = ep.Status != EndpointBenched && ep.Status != EndpointWrongChain
		out = append(out, ep)
	}
	return out
}

// Len returns the number of tracked endpoints.
func (et *EndpointTracker) Len() int {
	et.mu.RLock()
	defer et.mu.RUnlock()
	return len(et.order)
}

func median(samples []time.Duration) time.Duration {
	s := slices.Clone(samples)
	slices.Sort(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}
