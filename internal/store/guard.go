package store

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrUnsafeWrite is returned when a write targets a namespace other than the
// one writes are allowed into.
var ErrUnsafeWrite = eris.New("store: refusing to write outside the required namespace")

// Guard wraps the write store. Every write is refused unless the wrapped
// store's namespace equals the required one. In dry-run mode writes are
// counted and logged but never reach the store.
type Guard struct {
	Store
	required string
	dryRun   bool
	limiter  *rate.Limiter
	log      *zap.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithDryRun turns writes into counts.
func WithDryRun(dry bool) GuardOption { return func(g *Guard) { g.dryRun = dry } }

// WithWriteRate limits write calls per second. rps <= 0 means unlimited.
func WithWriteRate(rps float64) GuardOption {
	return func(g *Guard) {
		if rps > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// NewGuard wraps s so that it only writes into the required namespace.
func NewGuard(s Store, required string, opts ...GuardOption) *Guard {
	g := &Guard{Store: s, required: required, log: zap.L().With(zap.String("component", "store.guard"))}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Check reports ErrUnsafeWrite when the wrapped namespace is not the
// required one.
func (g *Guard) Check() error {
	if g.required == "" || g.Store.Namespace() != g.required {
		return eris.Wrapf(ErrUnsafeWrite, "namespace %q, required %q", g.Store.Namespace(), g.required)
	}
	return nil
}

// DryRun reports whether writes are suppressed.
func (g *Guard) DryRun() bool { return g.dryRun }

func (g *Guard) UpsertMany(ctx context.Context, coll string, docs []Doc, keyField, runID string) (int, error) {
	if err := g.Check(); err != nil {
		return 0, err
	}
	if g.dryRun {
		g.log.Info("dry run: skipping upsert",
			zap.String("collection", coll),
			zap.Int("docs", len(docs)),
		)
		return len(docs), nil
	}
	if err := g.wait(ctx); err != nil {
		return 0, err
	}
	return g.Store.UpsertMany(ctx, coll, docs, keyField, runID)
}

func (g *Guard) InsertOne(ctx context.Context, coll string, doc Doc) (string, error) {
	if err := g.Check(); err != nil {
		return "", err
	}
	if g.dryRun {
		g.log.Info("dry run: skipping insert", zap.String("collection", coll))
		return "", nil
	}
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	return g.Store.InsertOne(ctx, coll, doc)
}

func (g *Guard) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return eris.Wrap(g.limiter.Wait(ctx), "store: write rate limit")
}
