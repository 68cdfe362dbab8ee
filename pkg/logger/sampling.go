package logger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SamplingConfig configures log sampling.
type SamplingConfig struct {
	Enabled bool

	// Tick is the window after which counters reset.
	Tick time.Duration

	// Threshold is how many records with the same level and message pass
	// unsampled per tick.
	Threshold uint64

	// Rate is the fraction of records kept after the threshold, in [0, 1].
	Rate float64

	// ErrorRate replaces Rate for warn and error records.
	ErrorRate float64

	// MaxKeys bounds the number of distinct messages tracked per tick.
	MaxKeys int

	// OnDropped is called for every dropped record. Panics are swallowed.
	OnDropped func(ctx context.Context, r slog.Record)
}

const (
	DefaultSamplingTick      = time.Second
	DefaultSamplingThreshold = 100
	DefaultSamplingMaxKeys   = 10000
)

type samplingState struct {
	mu        sync.Mutex
	counts    map[string]uint64
	lastReset time.Time
	now       func() time.Time
}

type samplingHandler struct {
	handler slog.Handler
	config  SamplingConfig
	state   *samplingState
}

// NewSamplingHandler wraps h so that, per tick, the first Threshold records
// sharing a level and message are logged and the rest are kept at Rate
// (ErrorRate for warn and above). A disabled config returns h unchanged.
func NewSamplingHandler(h slog.Handler, cfg SamplingConfig) slog.Handler {
	if !cfg.Enabled {
		return h
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultSamplingTick
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultSamplingThreshold
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultSamplingMaxKeys
	}
	return &samplingHandler{
		handler: h,
		config:  cfg,
		state: &samplingState{
			counts:    make(map[string]uint64),
			lastReset: time.Now(),
			now:       time.Now,
		},
	}
}

func (h *samplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *samplingHandler) Handle(ctx context.Context, r slog.Record) error {
	count, tracked := h.state.observe(r.Level.String()+":"+r.Message, h.config)
	if !tracked || count <= h.config.Threshold {
		return h.handler.Handle(ctx, r)
	}

	rate := h.config.Rate
	if r.Level >= slog.LevelWarn {
		rate = h.config.ErrorRate
	}
	if keep(count, rate) {
		return h.handler.Handle(ctx, r)
	}

	h.dropped(ctx, r)
	return nil
}

// WithAttrs shares counters with the parent so derived loggers are sampled together.
func (h *samplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &samplingHandler{handler: h.handler.WithAttrs(attrs), config: h.config, state: h.state}
}

func (h *samplingHandler) WithGroup(name string) slog.Handler {
	return &samplingHandler{handler: h.handler.WithGroup(name), config: h.config, state: h.state}
}

func (h *samplingHandler) dropped(ctx context.Context, r slog.Record) {
	if h.config.OnDropped == nil {
		return
	}
	defer func() { _ = recover() }()
	h.config.OnDropped(ctx, r)
}

func (s *samplingState) observe(key string, cfg SamplingConfig) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now := s.now(); now.Sub(s.lastReset) >= cfg.Tick {
		clear(s.counts)
		s.lastReset = now
	}

	n, ok := s.counts[key]
	if !ok && len(s.counts) >= cfg.MaxKeys {
		return 0, false
	}
	n++
	s.counts[key] = n
	return n, true
}

// keep samples deterministically by count so replicas drop the same records.
func keep(count uint64, rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}
	interval := uint64(1.0 / rate)
	return count%interval == 0
}
