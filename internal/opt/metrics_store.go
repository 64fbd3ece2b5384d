package opt

import "sync"

// maxTrackedJobs bounds the in-process metrics kept when no store persists
// them; the oldest job is evicted first.
const maxTrackedJobs = 256

type jobKey struct{ tenant, job string }

var recent = struct {
	sync.Mutex
	byJob map[jobKey]map[string]Metrics
	order []jobKey
}{byJob: map[jobKey]map[string]Metrics{}}

// RecordMetrics keeps the heuristic metrics of a solve job under algo.
func RecordMetrics(tenant, job, algo string, m Metrics) {
	k := jobKey{tenant, job}
	recent.Lock()
	defer recent.Unlock()
	algos, ok := recent.byJob[k]
	if !ok {
		if len(recent.order) == maxTrackedJobs {
			delete(recent.byJob, recent.order[0])
			recent.order = recent.order[1:]
		}
		algos = map[string]Metrics{}
		recent.byJob[k] = algos
		recent.order = append(recent.order, k)
	}
	algos[algo] = m
}

// GetMetrics returns a copy of the metrics recorded for a job, keyed by
// algorithm.
func GetMetrics(tenant, job string) map[string]Metrics {
	recent.Lock()
	defer recent.Unlock()
	out := map[string]Metrics{}
	for algo, m := range recent.byJob[jobKey{tenant, job}] {
		out[algo] = m
	}
	return out
}
