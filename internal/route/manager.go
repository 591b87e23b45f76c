package route

import (
	"log/slog"
	"sort"
)

// Metrics is the collaborator that rates a path. Reliability and Security are
// in [0,1]; Latency and Bandwidth are in the collaborator's own units.
type Metrics interface {
	Reliability(p Path) float64
	Security(p Path) float64
	Latency(p Path) float64
	Bandwidth(p Path) float64
}

// Observation is what the caller saw when using a path. Nil fields were not
// measured.
type Observation struct {
	Success   bool
	Latency   *float64
	Bandwidth *float64
}

// Feedback receives path observations for history-aware scoring.
type Feedback interface {
	Observe(p Path, obs Observation)
}

// Weights of each scoring term.
type Weights struct {
	Reliability float64
	Security    float64
	Latency     float64
	Bandwidth   float64
	Hops        float64
}

// DefaultWeights favours reliability, then security, then speed.
func DefaultWeights() Weights {
	return Weights{
		Reliability: 0.30,
		Security:    0.25,
		Latency:     0.20,
		Bandwidth:   0.15,
		Hops:        0.10,
	}
}

// Scored pairs a path with its score.
type Scored struct {
	Path  Path
	Score float64
}

// Manager scores candidate paths and picks the best ones.
type Manager struct {
	metrics  Metrics
	weights  Weights
	feedback Feedback
}

// Option configures a Manager.
type Option func(*Manager)

// WithWeights overrides DefaultWeights.
func WithWeights(w Weights) Option {
	return func(m *Manager) {
		m.weights = w
	}
}

// WithFeedback routes UpdateMetrics observations to f.
func WithFeedback(f Feedback) Option {
	return func(m *Manager) {
		m.feedback = f
	}
}

func NewManager(metrics Metrics, opts ...Option) *Manager {
	m := &Manager{metrics: metrics, weights: DefaultWeights()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Weights returns the active weights.
func (m *Manager) Weights() Weights {
	return m.weights
}

// Score rates p; higher is better. The empty path scores exactly 0.
func (m *Manager) Score(p Path) float64 {
	if len(p) == 0 {
		return 0
	}
	w := m.weights
	return w.Reliability*m.metrics.Reliability(p) +
		w.Security*m.metrics.Security(p) +
		w.Latency*(1/(m.metrics.Latency(p)+1)) +
		w.Bandwidth*m.metrics.Bandwidth(p) +
		w.Hops*(1/(float64(p.Hops())+1))
}

// Rank scores every path and orders them best first. Equal scores keep their
// input order.
func (m *Manager) Rank(paths []Path) []Scored {
	ranked := make([]Scored, len(paths))
	for i, p := range paths {
		ranked[i] = Scored{Path: p, Score: m.Score(p)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// SelectTop returns at most k paths, best first. Selection is purely by
// score: the chosen paths may share intermediate relays, so callers that need
// disjoint routes must check for overlap themselves.
func (m *Manager) SelectTop(paths []Path, k int) []Path {
	if k <= 0 || len(paths) == 0 {
		return nil
	}
	ranked := m.Rank(paths)
	if k > len(ranked) {
		k = len(ranked)
	}
	selected := make([]Path, k)
	for i := range selected {
		selected[i] = ranked[i].Path
	}
	return selected
}

// UpdateMetrics reports how a path performed. Without a Feedback sink the
// observation is only logged.
func (m *Manager) UpdateMetrics(p Path, obs Observation) {
	slog.Debug("route: path observation", "path", p.String(), "success", obs.Success)
	if m.feedback != nil {
		m.feedback.Observe(p, obs)
	}
}
