package regime

import (
	"sync"
	"time"

	"GateKeeper/internal/domain/models"
	"GateKeeper/internal/domain/repository"
	"GateKeeper/pkg/logger"
)

// Registry hands out one Classifier per symbol so concurrent streams never
// share hysteresis state.
type Registry struct {
	mu      sync.RWMutex
	cfg     Config
	log     *logger.Logger
	metrics repository.Metrics
	m       map[string]*Classifier
}

func NewRegistry(cfg Config, log *logger.Logger, metrics repository.Metrics) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{cfg: cfg, log: log, metrics: metrics, m: make(map[string]*Classifier)}
}

// For returns the classifier for symbol, creating it on first use.
func (r *Registry) For(symbol string) *Classifier {
	r.mu.RLock()
	c, ok := r.m[symbol]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.m[symbol]; !ok {
		c = NewClassifier(symbol, r.cfg, r.log)
		r.m[symbol] = c
	}
	return c
}

// Classify runs the symbol's classifier and records the outcome.
func (r *Registry) Classify(s models.FeatureSnapshot, now time.Time) models.RegimeResult {
	res := r.For(s.Symbol).Classify(s, now)
	if r.metrics != nil {
		r.metrics.RecordRegime(s.Symbol, string(res.Class), res.Changed)
	}
	if res.Changed {
		r.log.Info("regime accepted",
			logger.String("symbol", s.Symbol),
			logger.String("regime", string(res.Class)),
			logger.Float64("confidence", res.Confidence),
		)
	}
	return res
}

// Current returns the held state for symbol without classifying.
func (r *Registry) Current(symbol string) (models.RegimeState, bool) {
	r.mu.RLock()
	c, ok := r.m[symbol]
	r.mu.RUnlock()
	if !ok {
		return models.RegimeState{}, false
	}
	st := c.State()
	return st, st.Initialized
}
