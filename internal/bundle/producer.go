package bundle

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sokinpui/fmod/internal/config"
	"github.com/sokinpui/fmod/internal/diff"
	"github.com/sokinpui/fmod/internal/logging"
)

// Change is one file as the consumer last saw it and as it is now.
type Change struct {
	Path         string
	Old          []string
	New          []string
	BaseRevision int64
}

// Producer turns changes into a bundle, picking the cheaper encoding per file.
type Producer struct {
	engine   *diff.Engine
	selector Selector
	limit    int
	logger   *zap.Logger
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithParallelism bounds the number of files encoded at once. n <= 0 means
// GOMAXPROCS.
func WithParallelism(n int) ProducerOption {
	return func(p *Producer) { p.limit = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ProducerOption {
	return func(p *Producer) { p.logger = l }
}

// WithEngine replaces the diff engine derived from the environment.
func WithEngine(e *diff.Engine) ProducerOption {
	return func(p *Producer) { p.engine = e }
}

// NewProducer returns a producer using env's context width and tie-break.
func NewProducer(env config.Environment, opts ...ProducerOption) *Producer {
	p := &Producer{
		engine:   diff.NewEngine(diff.WithContext(env.ContextLines())),
		selector: NewSelector(env.TieBreak()),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.limit <= 0 {
		p.limit = runtime.GOMAXPROCS(0)
	}
	p.logger = logging.OrNop(p.logger).Named("producer")
	return p
}

// Build is NewProducer(env).Build.
func Build(ctx context.Context, env config.Environment, changes []Change) (Bundle, error) {
	return NewProducer(env).Build(ctx, changes)
}

// Build encodes every change concurrently. Unchanged files are left out;
// the remaining entries keep the order of changes.
func (p *Producer) Build(ctx context.Context, changes []Change) (Bundle, error) {
	seen := make(map[string]struct{}, len(changes))
	for _, c := range changes {
		if _, dup := seen[c.Path]; dup {
			return Bundle{}, fmt.Errorf("build bundle: duplicate change for %s", c.Path)
		}
		seen[c.Path] = struct{}{}
	}

	type slot struct {
		entry Entry
		ok    bool
	}
	slots := make([]slot, len(changes))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	for i, c := range changes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			hunks := p.engine.Encode(c.Old, c.New)
			slots[i].entry, slots[i].ok = p.selector.Select(c.Path, hunks, c.New)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Bundle{}, fmt.Errorf("build bundle: %w", err)
	}

	b := Bundle{BaseRevision: make(map[string]int64)}
	for i, s := range slots {
		if !s.ok {
			continue
		}
		b.Entries = append(b.Entries, s.entry)
		b.BaseRevision[s.entry.Path] = changes[i].BaseRevision
	}
	p.logger.Debug("Bundle built", zap.Int("changes", len(changes)), zap.String("entries", b.Summary()))
	return b, nil
}
