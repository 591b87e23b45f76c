package route

import "sync"

// HopModel rates a path purely from its node count: every extra node costs
// security, latency and bandwidth. Units are milliseconds and kbps.
type HopModel struct {
	BaseReliability  float64
	SecurityPerNode  float64
	LatencyPerNode   float64
	BandwidthBase    float64
	BandwidthPerNode float64
}

// DefaultHopModel mirrors a small drone mesh: 50ms and 50kbps per node.
func DefaultHopModel() HopModel {
	return HopModel{
		BaseReliability:  0.9,
		SecurityPerNode:  0.1,
		LatencyPerNode:   50,
		BandwidthBase:    1000,
		BandwidthPerNode: 50,
	}
}

func (h HopModel) Reliability(Path) float64 { return h.BaseReliability }

func (h HopModel) Security(p Path) float64 {
	return clamp01(1 - h.SecurityPerNode*float64(len(p)))
}

func (h HopModel) Latency(p Path) float64 {
	return h.LatencyPerNode * float64(len(p))
}

func (h HopModel) Bandwidth(p Path) float64 {
	bw := h.BandwidthBase - h.BandwidthPerNode*float64(len(p))
	if bw < 0 {
		return 0
	}
	return bw
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// DefaultHistoryAlpha is the EWMA weight of the newest observation.
const DefaultHistoryAlpha = 0.3

type pathHistory struct {
	samples   int
	success   float64
	latency   float64
	latencyN  int
	bandwidth float64
	bandN     int
}

// History blends observed per-path performance over a base Metrics. Paths
// with no observations are rated by the base alone. Records live in memory
// only.
type History struct {
	base  Metrics
	alpha float64

	mu    sync.RWMutex
	paths map[string]*pathHistory
}

func NewHistory(base Metrics, alpha float64) *History {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultHistoryAlpha
	}
	return &History{base: base, alpha: alpha, paths: make(map[string]*pathHistory)}
}

func ewma(prev, sample, alpha float64, n int) float64 {
	if n == 0 {
		return sample
	}
	return alpha*sample + (1-alpha)*prev
}

// Observe implements Feedback.
func (h *History) Observe(p Path, obs Observation) {
	if len(p) == 0 {
		return
	}
	key := p.String()
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.paths[key]
	if !ok {
		rec = &pathHistory{}
		h.paths[key] = rec
	}
	s := 0.0
	if obs.Success {
		s = 1
	}
	rec.success = ewma(rec.success, s, h.alpha, rec.samples)
	rec.samples++
	if obs.Latency != nil {
		rec.latency = ewma(rec.latency, *obs.Latency, h.alpha, rec.latencyN)
		rec.latencyN++
	}
	if obs.Bandwidth != nil {
		rec.bandwidth = ewma(rec.bandwidth, *obs.Bandwidth, h.alpha, rec.bandN)
		rec.bandN++
	}
}

// Samples returns how many observations were recorded for p.
func (h *History) Samples(p Path) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if rec, ok := h.paths[p.String()]; ok {
		return rec.samples
	}
	return 0
}

func (h *History) lookup(p Path) (pathHistory, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.paths[p.String()]
	if !ok {
		return pathHistory{}, false
	}
	return *rec, true
}

func (h *History) Reliability(p Path) float64 {
	if rec, ok := h.lookup(p); ok && rec.samples > 0 {
		return rec.success
	}
	return h.base.Reliability(p)
}

func (h *History) Security(p Path) float64 {
	return h.base.Security(p)
}

func (h *History) Latency(p Path) float64 {
	if rec, ok := h.lookup(p); ok && rec.latencyN > 0 {
		return rec.latency
	}
	return h.base.Latency(p)
}

func (h *History) Bandwidth(p Path) float64 {
	if rec, ok := h.lookup(p); ok && rec.bandN > 0 {
		return rec.bandwidth
	}
	return h.base.Bandwidth(p)
}
