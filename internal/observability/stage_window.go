package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Pipeline stages observed per agent turn.
const (
	StageClassify = "classify"
	StageValidate = "validate"
	StageEnrich   = "enrich"
	StageTurn     = "turn_total"
)

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	MaxMS       float64 `json:"max_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type StageSnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Stages      []StageStats   `json:"stages"`
	Outcomes    map[string]int `json:"outcomes,omitempty"`
}

// stageWindow keeps the last maxSamples durations per stage in a ring.
type stageWindow struct {
	mu         sync.RWMutex
	maxSamples int
	rings      map[string]*ring
	outcomes   map[string]int
}

type ring struct {
	values []float64
	next   int
	full   bool
	last   float64
}

func newStageWindow(maxSamples int) *stageWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &stageWindow{
		maxSamples: maxSamples,
		rings:      make(map[string]*ring),
		outcomes:   make(map[string]int),
	}
}

func (w *stageWindow) observe(stage string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	w.mu.Lock()
	defer w.mu.Unlock()

	r, ok := w.rings[stage]
	if !ok {
		r = &ring{values: make([]float64, w.maxSamples)}
		w.rings[stage] = r
	}
	r.values[r.next] = ms
	r.last = ms
	r.next = (r.next + 1) % len(r.values)
	if r.next == 0 {
		r.full = true
	}
}

func (w *stageWindow) countOutcome(name string) {
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outcomes[name]++
}

func (w *stageWindow) snapshot() StageSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	names := make([]string, 0, len(w.rings))
	for name := range w.rings {
		names = append(names, name)
	}
	sort.Strings(names)

	stages := make([]StageStats, 0, len(names))
	for _, name := range names {
		r := w.rings[name]
		n := r.next
		if r.full {
			n = len(r.values)
		}
		if n == 0 {
			continue
		}
		samples := append([]float64(nil), r.values[:n]...)
		sort.Float64s(samples)
		sum := 0.0
		for _, v := range samples {
			sum += v
		}
		stages = append(stages, StageStats{
			Stage:       name,
			Samples:     n,
			LastMS:      round2(r.last),
			AvgMS:       round2(sum / float64(n)),
			P50MS:       round2(percentile(samples, 0.50)),
			P95MS:       round2(percentile(samples, 0.95)),
			MaxMS:       round2(samples[n-1]),
			TargetP95MS: targetP95MS(name),
		})
	}

	outcomes := make(map[string]int, len(w.outcomes))
	for k, v := range w.outcomes {
		outcomes[k] = v
	}
	return StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Stages:      stages,
		Outcomes:    outcomes,
	}
}

// percentile interpolates linearly between the closest ranks of a sorted sample.
func percentile(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo, hi := int(math.Floor(pos)), int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func targetP95MS(stage string) float64 {
	switch stage {
	case StageClassify:
		return 1500
	case StageValidate:
		return 250
	case StageEnrich:
		return 50
	case StageTurn:
		return 2000
	default:
		return 0
	}
}
