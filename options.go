package worksteal

import (
	"fmt"
	"runtime"

	"github.com/joeycumines/logiface"
)

// runtimeOptions holds configuration resolved from Option values at
// Initialize time.
type runtimeOptions struct {
	concurrency    int
	logger         *logiface.Logger[logiface.Event]
	metricsEnabled bool
}

// Option configures the runtime at Initialize.
type Option interface {
	apply(*runtimeOptions) error
}

type optionImpl struct {
	applyFunc func(*runtimeOptions) error
}

func (o *optionImpl) apply(opts *runtimeOptions) error {
	return o.applyFunc(opts)
}

// WithConcurrency sets the total thread count P of the runtime: the arena
// is sized for 2P slots and P-1 workers (the calling master is the Pth
// thread). Values below 1 are rejected. The default is
// runtime.GOMAXPROCS(0).
//
// The worker count is fixed at first initialization; later Initialize
// calls join the existing arena and their concurrency value is ignored.
func WithConcurrency(n int) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		if n < 1 {
			return fmt.Errorf("worksteal: concurrency must be at least 1, got %d", n)
		}
		opts.concurrency = n
		return nil
	}}
}

// WithLogger installs the structured logger, equivalent to SetLogger but
// scoped to the Initialize call site.
func WithLogger(l *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.logger = l
		return nil
	}}
}

// WithMetrics enables runtime counters, readable via Metrics. Off by
// default; the counters are plain atomics but still cost a few writes on
// the dispatch hot path.
func WithMetrics(enabled bool) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// resolveOptions applies Option values over the defaults.
func resolveOptions(opts []Option) (*runtimeOptions, error) {
	cfg := &runtimeOptions{
		concurrency: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
