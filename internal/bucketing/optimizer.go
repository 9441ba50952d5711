package bucketing

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "fxbuckets/internal/errors"
)

const (
	// DefaultBuckets is the number of buckets when none is configured
	DefaultBuckets = 5
	// DefaultRestarts is the number of independent restarts when none is configured
	DefaultRestarts = 100
)

// Config contains the search parameters
type Config struct {
	Buckets   int     `json:"buckets"`
	Restarts  int     `json:"restarts"`
	Threshold float64 `json:"threshold"`

	// Seed makes the search reproducible; 0 seeds from the clock.
	Seed int64 `json:"seed"`

	// Workers bounds how many restarts run at once; 0 means 1.
	Workers int `json:"workers"`

	// MaxPasses caps the scans of a single restart; 0 means run to convergence.
	MaxPasses int `json:"max_passes"`

	// Timeout bounds the whole search; 0 means no deadline beyond the caller's context.
	Timeout time.Duration `json:"timeout"`
}

// DefaultConfig returns the default search parameters
func DefaultConfig() Config {
	return Config{
		Buckets:   DefaultBuckets,
		Restarts:  DefaultRestarts,
		Threshold: DefaultThreshold,
		Workers:   1,
	}
}

// Validate reports configuration errors as CONFIG AppErrors
func (c Config) Validate() error {
	switch {
	case c.Buckets <= 0:
		return apperrors.NewConfigError(fmt.Sprintf("bucket count must be positive, got %d", c.Buckets), nil)
	case c.Restarts <= 0:
		return apperrors.NewConfigError(fmt.Sprintf("restart count must be positive, got %d", c.Restarts), nil)
	case c.Threshold <= 0 || c.Threshold > 100:
		return apperrors.NewConfigError(fmt.Sprintf("high-correlation threshold must be in (0, 100], got %v", c.Threshold), nil)
	case c.Workers < 0:
		return apperrors.NewConfigError(fmt.Sprintf("worker count must not be negative, got %d", c.Workers), nil)
	case c.MaxPasses < 0:
		return apperrors.NewConfigError(fmt.Sprintf("max passes must not be negative, got %d", c.MaxPasses), nil)
	case c.Timeout < 0:
		return apperrors.NewConfigError(fmt.Sprintf("timeout must not be negative, got %s", c.Timeout), nil)
	}
	return nil
}

// RestartResult summarizes one restart
type RestartResult struct {
	Restart      int           `json:"restart"`
	Seed         int64         `json:"seed"`
	InitialScore float64       `json:"initial_score"`
	Score        float64       `json:"score"`
	Moves        int           `json:"moves"`
	Passes       int           `json:"passes"`
	Truncated    bool          `json:"truncated,omitempty"`
	Skipped      bool          `json:"skipped,omitempty"`
	Err          error         `json:"-"`
	Duration     time.Duration `json:"duration"`
}

// Succeeded reports whether the restart produced a partition
func (r RestartResult) Succeeded() bool {
	return !r.Skipped && r.Err == nil
}

// Result is the outcome of a search
type Result struct {
	Partition Partition       `json:"buckets"`
	Score     Score           `json:"score"`
	Restart   int             `json:"restart"`
	Restarts  []RestartResult `json:"restarts"`
	Completed int             `json:"completed"`
	Failed    int             `json:"failed"`
	Truncated int             `json:"truncated"`
	Skipped   int             `json:"skipped"`
	Seed      int64           `json:"seed"`
	Duration  time.Duration   `json:"duration"`
}

// Option configures an Optimizer
type Option func(*Optimizer)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Optimizer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRestartObserver registers fn to be called after every finished restart.
// Calls are serialized even when restarts run concurrently.
func WithRestartObserver(fn func(RestartResult)) Option {
	return func(o *Optimizer) {
		o.observers = append(o.observers, fn)
	}
}

// Optimizer searches for a low-scoring partition
type Optimizer struct {
	cfg       Config
	scorer    Scorer
	logger    *slog.Logger
	observers []func(RestartResult)
	observeMu sync.Mutex
}

// NewOptimizer validates cfg and creates an optimizer
func NewOptimizer(cfg Config, opts ...Option) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}

	o := &Optimizer{
		cfg:    cfg,
		scorer: NewScorer(cfg.Threshold),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(slog.String("component", "bucketing.optimizer"))
	return o, nil
}

// Config returns the effective configuration
func (o *Optimizer) Config() Config {
	return o.cfg
}

// Scorer returns the scorer used as the objective
func (o *Optimizer) Scorer() Scorer {
	return o.scorer
}

// Optimize searches for the partition of items with the lowest score.
//
// A restart that panics is logged and skipped. When ctx ends, running restarts
// stop at the next trial move and keep their current partition, and restarts
// that have not started are skipped. The context error is returned only if no
// restart produced a partition.
func (o *Optimizer) Optimize(ctx context.Context, items []string, idx Lookuper) (*Result, error) {
	start := time.Now()

	if err := checkItems(items); err != nil {
		return nil, err
	}

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	seed := o.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	seeds := restartSeeds(seed, o.cfg.Restarts)

	o.logger.InfoContext(ctx, "starting partition search",
		slog.Int("items", len(items)),
		slog.Int("buckets", o.cfg.Buckets),
		slog.Int("restarts", o.cfg.Restarts),
		slog.Int("workers", o.cfg.Workers),
		slog.Float64("threshold", o.cfg.Threshold),
		slog.Int64("seed", seed),
	)

	var (
		mu       sync.Mutex
		best     Partition
		bestIdx  = -1
		bestVal  float64
		restarts = make([]RestartResult, o.cfg.Restarts)
	)
	for i := range restarts {
		restarts[i] = RestartResult{Restart: i, Seed: seeds[i], Skipped: true}
	}

	g := new(errgroup.Group)
	g.SetLimit(o.cfg.Workers)

	for i := 0; i < o.cfg.Restarts; i++ {
		if ctx.Err() != nil {
			break
		}

		n := i
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			rr, p := o.runRestart(ctx, n, seeds[n], items, idx)

			mu.Lock()
			restarts[n] = rr
			if p != nil && (bestIdx < 0 || rr.Score < bestVal || (rr.Score == bestVal && n < bestIdx)) {
				best, bestIdx, bestVal = p, n, rr.Score
			}
			mu.Unlock()

			o.notify(rr)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{
		Restarts: restarts,
		Restart:  bestIdx,
		Seed:     seed,
		Duration: time.Since(start),
	}
	for _, rr := range restarts {
		switch {
		case rr.Skipped:
			res.Skipped++
		case rr.Err != nil:
			res.Failed++
		default:
			res.Completed++
			if rr.Truncated {
				res.Truncated++
			}
		}
	}

	if best == nil {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("partition search interrupted before any restart finished: %w", err)
		}
		return nil, apperrors.NewInternalError(fmt.Sprintf("all %d restarts failed", res.Failed), nil)
	}

	res.Partition = best
	res.Score = o.scorer.Score(best, idx)

	o.logger.InfoContext(ctx, "partition search completed",
		slog.Float64("score", res.Score.Value),
		slog.Int("high_count", res.Score.HighCount),
		slog.Int("max_bucket_high", res.Score.MaxBucketHigh()),
		slog.Int("winning_restart", bestIdx),
		slog.Int("completed", res.Completed),
		slog.Int("failed", res.Failed),
		slog.Int("truncated", res.Truncated),
		slog.Int("skipped", res.Skipped),
		slog.Duration("duration", res.Duration),
	)

	return res, nil
}

// runRestart performs one randomized restart. A panic is converted into rr.Err
// and the partially mutated partition is discarded.
func (o *Optimizer) runRestart(ctx context.Context, n int, seed int64, items []string, idx Lookuper) (rr RestartResult, p Partition) {
	start := time.Now()
	rr = RestartResult{Restart: n, Seed: seed}

	defer func() {
		if rec := recover(); rec != nil {
			rr.Err = fmt.Errorf("restart %d panicked: %v", n, rec)
			p = nil
			o.logger.WarnContext(ctx, "restart failed, continuing with remaining restarts",
				slog.Int("restart", n),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
		rr.Duration = time.Since(start)
	}()

	rng := rand.New(rand.NewSource(seed))
	p = initialPartition(items, o.cfg.Buckets, rng)

	current := o.scorer.Value(p, idx)
	rr.InitialScore = current

	rr.Score, rr.Moves, rr.Passes, rr.Truncated = o.climb(ctx, p, idx, rng, current)

	o.logger.DebugContext(ctx, "restart finished",
		slog.Int("restart", n),
		slog.Float64("initial_score", rr.InitialScore),
		slog.Float64("score", rr.Score),
		slog.Int("moves", rr.Moves),
		slog.Bool("truncated", rr.Truncated),
	)
	return rr, p
}

// climb runs first-improvement hill climbing on p in place. Source buckets,
// item positions and destinations are each visited in a fresh random order;
// the first relocation that strictly lowers the score is kept and the scan
// starts over. It returns once a full scan keeps nothing, or early (truncated)
// when ctx ends or MaxPasses is reached. A restart stopped by MaxPasses is
// truncated only if an improving relocation is still available.
func (o *Optimizer) climb(ctx context.Context, p Partition, idx Lookuper, rng *rand.Rand, current float64) (score float64, moves, passes int, truncated bool) {
	k := len(p)
	done := ctx.Done()

	for {
		if o.cfg.MaxPasses > 0 && passes >= o.cfg.MaxPasses {
			return current, moves, passes, o.improvable(ctx, p, idx, current)
		}
		passes++

		improved := false
	scan:
		for _, from := range rng.Perm(k) {
			if len(p[from]) == 0 {
				continue
			}
			for _, pos := range rng.Perm(len(p[from])) {
				for _, to := range rng.Perm(k) {
					if to == from {
						continue
					}

					select {
					case <-done:
						return current, moves, passes, true
					default:
					}

					p.move(from, pos, to)
					if s := o.scorer.Value(p, idx); s < current {
						current = s
						moves++
						improved = true
						break scan
					}
					p.undo(from, pos, to)
				}
			}
		}

		if !improved {
			return current, moves, passes, false
		}
	}
}

// improvable reports whether any single relocation strictly lowers current.
// p is left unchanged. A cancelled ctx counts as improvable.
func (o *Optimizer) improvable(ctx context.Context, p Partition, idx Lookuper, current float64) bool {
	done := ctx.Done()
	for from := range p {
		for pos := len(p[from]) - 1; pos >= 0; pos-- {
			for to := range p {
				if to == from {
					continue
				}

				select {
				case <-done:
					return true
				default:
				}

				p.move(from, pos, to)
				s := o.scorer.Value(p, idx)
				p.undo(from, pos, to)
				if s < current {
					return true
				}
			}
		}
	}
	return false
}

func (o *Optimizer) notify(rr RestartResult) {
	if len(o.observers) == 0 {
		return
	}
	o.observeMu.Lock()
	defer o.observeMu.Unlock()
	for _, fn := range o.observers {
		fn(rr)
	}
}

// restartSeeds derives one seed per restart from the master seed
func restartSeeds(seed int64, n int) []int64 {
	master := rand.New(rand.NewSource(seed))
	seeds := make([]int64, n)
	for i := range seeds {
		seeds[i] = master.Int63()
	}
	return seeds
}

// checkItems rejects empty or duplicated labels
func checkItems(items []string) error {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item == "" {
			return apperrors.NewDataError("item labels must not be empty", nil)
		}
		if _, dup := seen[item]; dup {
			return apperrors.NewDataError(fmt.Sprintf("duplicate item %q", item), nil)
		}
		seen[item] = struct{}{}
	}
	return nil
}
