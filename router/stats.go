package router

import (
	"sync"
	"time"
)

const latencyWindow = 100

// BucketStats counts routed requests for one confidence bucket.
type BucketStats struct {
	Count     int64 `json:"count"`
	Successes int64 `json:"successes"`
	Fallbacks int64 `json:"fallbacks"`
}

// SourceStats counts backend calls for one answer source.
type SourceStats struct {
	Count        int64   `json:"count"`
	Successes    int64   `json:"successes"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// StatsSnapshot is a point-in-time copy of the router's counters.
type StatsSnapshot struct {
	TotalRequests int64                  `json:"total_requests"`
	Buckets       map[string]BucketStats `json:"buckets"`
	Sources       map[string]SourceStats `json:"sources"`
	CacheHits     int64                  `json:"cache_hits"`
	FollowUpHits  int64                  `json:"follow_up_hits"`
}

type sourceWindow struct {
	count     int64
	successes int64
	latencies []time.Duration // rolling, most recent last
}

type stats struct {
	mu           sync.Mutex
	total        int64
	buckets      map[Bucket]*BucketStats
	sources      map[string]*sourceWindow
	cacheHits    int64
	followUpHits int64
}

func newStats() *stats {
	return &stats{
		buckets: make(map[Bucket]*BucketStats),
		sources: make(map[string]*sourceWindow),
	}
}

func (s *stats) recordRequest() {
	s.mu.Lock()
	s.total++
	s.mu.Unlock()
}

func (s *stats) recordBucket(b Bucket, success, fallback bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bs, ok := s.buckets[b]
	if !ok {
		bs = &BucketStats{}
		s.buckets[b] = bs
	}
	bs.Count++
	if success {
		bs.Successes++
	}
	if fallback {
		bs.Fallbacks++
	}
}

func (s *stats) recordSource(source string, elapsed time.Duration, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.sources[source]
	if !ok {
		w = &sourceWindow{}
		s.sources[source] = w
	}
	w.count++
	if success {
		w.successes++
	}
	w.latencies = append(w.latencies, elapsed)
	if len(w.latencies) > latencyWindow {
		w.latencies = w.latencies[len(w.latencies)-latencyWindow:]
	}
}

func (s *stats) recordCacheHit() {
	s.mu.Lock()
	s.cacheHits++
	s.mu.Unlock()
}

func (s *stats) recordFollowUp() {
	s.mu.Lock()
	s.followUpHits++
	s.mu.Unlock()
}

func (s *stats) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		TotalRequests: s.total,
		Buckets:       make(map[string]BucketStats, len(s.buckets)),
		Sources:       make(map[string]SourceStats, len(s.sources)),
		CacheHits:     s.cacheHits,
		FollowUpHits:  s.followUpHits,
	}
	for b, bs := range s.buckets {
		snap.Buckets[string(b)] = *bs
	}
	for name, w := range s.sources {
		ss := SourceStats{Count: w.count, Successes: w.successes}
		if len(w.latencies) > 0 {
			var sum time.Duration
			for _, d := range w.latencies {
				sum += d
			}
			ss.AvgLatencyMs = float64(sum.Milliseconds()) / float64(len(w.latencies))
		}
		snap.Sources[name] = ss
	}
	return snap
}
