package cutotune

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/singleflight"
)

// Op is a candidate operation. It must be safe to call repeatedly with the
// same arguments.
type Op[R any] func(ctx context.Context, args Args) (R, error)

// Logger is the logging surface the dispatcher needs. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type settings struct {
	triggers     []Trigger
	triggerSpecs []string
	funcs        []FuncTrigger
	allowInfo    bool
	defaultCfg   map[string]any
	harness      Harness
	env          *Env
	cache        *Cache
	log          Logger
	progress     io.Writer
}

// Option configures a Dispatcher.
type Option func(*settings)

// WithTriggers registers triggers in the "name[.accessor]" syntax. They are
// parsed when the dispatcher is built.
func WithTriggers(specs ...string) Option {
	return func(s *settings) { s.triggerSpecs = append(s.triggerSpecs, specs...) }
}

// WithTrigger registers already-built triggers.
func WithTrigger(triggers ...Trigger) Option {
	return func(s *settings) { s.triggers = append(s.triggers, triggers...) }
}

// WithFuncTrigger registers a key entry computed from all arguments.
func WithFuncTrigger(label string, fn func(args Args) (any, error)) Option {
	return func(s *settings) { s.funcs = append(s.funcs, FuncTrigger{Label: label, Fn: fn}) }
}

// WithTensorInfoTriggers lets an accessor-less trigger name a tensor; the
// key then uses its dtype, shape and strides together.
func WithTensorInfoTriggers() Option {
	return func(s *settings) { s.allowInfo = true }
}

// WithDefaultConfig sets the values Auto markers resolve to while tuning is
// disabled.
func WithDefaultConfig(values map[string]any) Option {
	return func(s *settings) { s.defaultCfg = values }
}

// WithHarness replaces the whole benchmark harness.
func WithHarness(h Harness) Option {
	return func(s *settings) { s.harness = h }
}

// WithWarmup sets the untimed calls made before each measurement.
func WithWarmup(n int) Option {
	return func(s *settings) { s.harness.Warmup = n }
}

// WithIterations sets how many timed calls each measurement averages.
func WithIterations(n int) Option {
	return func(s *settings) { s.harness.Iterations = n }
}

// WithSynchronizer sets the device barrier placed around timed regions.
func WithSynchronizer(barrier Synchronizer) Option {
	return func(s *settings) { s.harness.Sync = barrier }
}

// WithClock sets the time source used to measure trials.
func WithClock(c Clock) Option {
	return func(s *settings) { s.harness.Clock = c }
}

// WithEnv overrides the environment toggles read at construction.
func WithEnv(env Env) Option {
	return func(s *settings) { s.env = &env }
}

// WithCache records every trial in c and consults it before sweeping.
func WithCache(c *Cache) Option {
	return func(s *settings) { s.cache = c }
}

// WithLogger sets where selections and trials are logged.
func WithLogger(log Logger) Option {
	return func(s *settings) { s.log = log }
}

// WithProgress sets where the debug progress bar is drawn.
func WithProgress(w io.Writer) Option {
	return func(s *settings) { s.progress = w }
}

// Dispatcher tunes one operation. For each lookup key it benchmarks the
// applicable configs once, keeps the fastest and serves it afterwards.
type Dispatcher[R any] struct {
	name     string
	identity string
	fn       Op[R]
	sig      Signature
	configs  []Config
	tunables []string
	keys     *keyDeriver
	fallback *Config
	harness  Harness
	env      Env
	cache    *Cache
	log      Logger
	progress io.Writer

	mu     sync.RWMutex
	best   map[Key]Trial
	flight singleflight.Group
	sweeps atomic.Int64
}

// New builds a dispatcher for fn. All configs must assign the same
// parameters, and those parameters must appear in sig.
func New[R any](name string, fn Op[R], sig Signature, configs []Config, opts ...Option) (*Dispatcher[R], error) {
	s := settings{harness: DefaultHarness()}
	for _, opt := range opts {
		opt(&s)
	}
	if fn == nil {
		return nil, configSpaceError("%s: nil operation", name)
	}
	if len(configs) == 0 {
		return nil, configSpaceError("%s: no configs", name)
	}
	seen := make(map[string]bool, len(sig))
	for _, p := range sig {
		if seen[p.Name] {
			return nil, configSpaceError("%s: duplicate parameter %q in signature", name, p.Name)
		}
		seen[p.Name] = true
	}

	tunables := configs[0].Names()
	for i, cfg := range configs {
		if !cfg.sameNames(tunables) {
			return nil, configSpaceError("%s: config %d %s does not assign the parameters %v", name, i, cfg, tunables)
		}
	}
	for _, t := range tunables {
		if !seen[t] {
			return nil, configSpaceError("%s: tunable parameter %q is not in the signature %s", name, t, sig)
		}
	}

	var fallback *Config
	if s.defaultCfg != nil {
		cfg := NewConfig(s.defaultCfg, nil)
		if !cfg.sameNames(tunables) {
			return nil, configSpaceError("%s: default config %s does not assign the parameters %v", name, cfg, tunables)
		}
		fallback = &cfg
	}

	triggers := slices.Clone(s.triggers)
	for _, spec := range s.triggerSpecs {
		t, err := ParseTrigger(spec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		triggers = append(triggers, t)
	}
	keys, err := newKeyDeriver(sig, triggers, s.funcs, tunables, s.allowInfo)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	env := EnvFromOS()
	if s.env != nil {
		env = *s.env
	}
	log := s.log
	if log == nil {
		log = slog.Default()
	}
	progress := s.progress
	if progress == nil {
		progress = os.Stderr
	}

	d := &Dispatcher[R]{
		name:     name,
		identity: OperationIdentity(name, sig),
		fn:       fn,
		sig:      slices.Clone(sig),
		configs:  slices.Clone(configs),
		tunables: tunables,
		keys:     keys,
		fallback: fallback,
		harness:  s.harness,
		env:      env,
		cache:    s.cache,
		log:      log,
		progress: progress,
		best:     make(map[Key]Trial),
	}
	log.Debug("cutotune dispatcher ready",
		"op", name,
		"identity", d.identity,
		"configs", len(configs),
		"tunables", tunables,
		"triggers", keys.triggerCount(),
	)
	return d, nil
}

// OperationIdentity is the stable identity of an operation across runs: a
// name-based UUID over the name and signature.
func OperationIdentity(name string, sig Signature) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name+sig.String())).String()
}

func (d *Dispatcher[R]) Name() string { return d.name }
func (d *Dispatcher[R]) Identity() string { return d.identity }
func (d *Dispatcher[R]) Signature() Signature { return slices.Clone(d.sig) }
func (d *Dispatcher[R]) Configs() []Config { return slices.Clone(d.configs) }
func (d *Dispatcher[R]) Tunables() []string { return slices.Clone(d.tunables) }

// Sweeps counts completed benchmark sweeps.
func (d *Dispatcher[R]) Sweeps() int {
	return int(d.sweeps.Load())
}

// Key derives the lookup key of a call.
func (d *Dispatcher[R]) Key(args Args) (Key, error) {
	return d.keys.derive(args)
}

// Best returns the selected config of one key, if tuned.
func (d *Dispatcher[R]) Best(key Key) (Trial, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.best[key]
	return t, ok
}

// BestConfigs returns a copy of the best-config table.
func (d *Dispatcher[R]) BestConfigs() map[Key]Trial {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[Key]Trial, len(d.best))
	for k, t := range d.best {
		out[k] = t
	}
	return out
}

// Clear forgets every selection. Trials already recorded in the cache stay.
func (d *Dispatcher[R]) Clear() {
	d.mu.Lock()
	d.best = make(map[Key]Trial)
	d.mu.Unlock()
}

// Invoke binds positional values to the signature and calls Call.
func (d *Dispatcher[R]) Invoke(ctx context.Context, values ...any) (R, error) {
	args, err := d.sig.Bind(values...)
	if err != nil {
		var zero R
		return zero, fmt.Errorf("%s: %w", d.name, err)
	}
	return d.Call(ctx, args)
}

// Call runs the operation. Tunable parameters are either all Auto (or
// absent), in which case the tuned config supplies them, or all fixed, in
// which case the caller's values are used. A key seen for the first time is
// tuned before the call proceeds.
func (d *Dispatcher[R]) Call(ctx context.Context, args Args) (R, error) {
	var zero R
	for _, arg := range args {
		if d.sig.index(arg.Name) < 0 {
			return zero, fmt.Errorf("%s: unexpected argument %q", d.name, arg.Name)
		}
	}

	auto, fixed := classifyTunables(args, d.tunables)
	if len(auto) > 0 && len(fixed) > 0 {
		return zero, &OverrideError{
			Op:     d.name,
			Auto:   auto,
			Fixed:  fixed,
			Reason: "tunable parameters must be either all auto or all fixed",
		}
	}
	mode := modeAuto
	if len(auto) == 0 {
		mode = modeFixed
	}

	if d.env.Disable {
		if mode == modeFixed {
			return d.fn(ctx, d.merge(Config{}, args, true))
		}
		if d.fallback == nil {
			return zero, &OverrideError{
				Op:     d.name,
				Auto:   auto,
				Reason: "tuning is disabled and no default config is set",
			}
		}
		return d.fn(ctx, d.merge(*d.fallback, args, false))
	}

	key, err := d.keys.derive(args)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", d.name, err)
	}
	trial, err := d.resolve(ctx, key, args)
	if err != nil {
		return zero, err
	}
	return d.fn(ctx, d.merge(trial.Config, args, mode == modeFixed))
}

// merge builds the final arguments in signature order. Config values are
// defaults for tunable parameters; callerWins lets the caller's values
// replace them. Tunable wrappers are unwrapped.
func (d *Dispatcher[R]) merge(cfg Config, args Args, callerWins bool) Args {
	out := make(Args, 0, len(d.sig))
	for _, p := range d.sig {
		v, given := args.Get(p.Name)
		isTunable := slices.Contains(d.tunables, p.Name)
		if given && (callerWins || !isTunable) {
			if t, ok := v.(tunable); ok {
				v, _ = t.tunableValue()
			}
			out = append(out, Arg{Name: p.Name, Value: v})
			continue
		}
		if cv, ok := cfg.Get(p.Name); ok {
			out = append(out, Arg{Name: p.Name, Value: cv})
		}
	}
	return out
}

// resolve returns the selection for key, sweeping once per key however many
// callers arrive together. The shared sweep does not inherit any one
// caller's cancellation; a caller whose ctx ends stops waiting on its own.
func (d *Dispatcher[R]) resolve(ctx context.Context, key Key, args Args) (Trial, error) {
	if t, ok := d.Best(key); ok {
		return t, nil
	}
	sweepCtx := context.WithoutCancel(ctx)
	ch := d.flight.DoChan(string(key), func() (any, error) {
		if t, ok := d.Best(key); ok {
			return t, nil
		}
		t, ok := d.fromCache(key, args)
		if !ok {
			var err error
			t, err = d.sweep(sweepCtx, key, args)
			if err != nil {
				return Trial{}, err
			}
		}
		d.mu.Lock()
		d.best[key] = t
		d.mu.Unlock()
		return t, nil
	})
	select {
	case <-ctx.Done():
		return Trial{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Trial{}, res.Err
		}
		return res.Val.(Trial), nil
	}
}

// fromCache derives the best trial for key from the attached cache, limited
// to configs of this dispatcher that apply to the call. A key with any stored
// trial that names no config of this dispatcher is a miss: the file was
// written for a different config space and its ranking cannot be trusted.
func (d *Dispatcher[R]) fromCache(key Key, args Args) (Trial, bool) {
	if d.cache == nil {
		return Trial{}, false
	}
	plain := unwrap(args)
	var (
		best  Trial
		found bool
	)
	for _, t := range d.cache.Trials(d.identity, key) {
		i := slices.IndexFunc(d.configs, func(c Config) bool { return c.matches(t.Config) })
		if i < 0 {
			d.log.Warn("cutotune cached config not in config space, re-tuning",
				"op", d.name, "key", string(key), "config", t.Config.String())
			return Trial{}, false
		}
		if !d.configs[i].IsApplicable(plain) {
			continue
		}
		if !found || t.Time < best.Time {
			best = Trial{Config: d.configs[i], Time: t.Time}
			found = true
		}
	}
	if found {
		d.log.Debug("cutotune config loaded from cache",
			"op", d.name, "key", string(key), "config", best.Config.String(), "time", best.Time)
	}
	return best, found
}

func (d *Dispatcher[R]) sweep(ctx context.Context, key Key, args Args) (Trial, error) {
	sweepID := uuid.New().String()
	plain := unwrap(args)

	var bar *progressbar.ProgressBar
	if d.env.Debug {
		bar = progressbar.NewOptions(len(d.configs),
			progressbar.OptionSetWriter(d.progress),
			progressbar.OptionSetDescription(d.name),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	var (
		best  Trial
		found bool
	)
	start := time.Now()
	for _, cfg := range d.configs {
		if bar != nil {
			_ = bar.Add(1)
		}
		if !cfg.IsApplicable(plain) {
			continue
		}
		callArgs := d.merge(cfg, args, false)
		elapsed, err := d.harness.Run(ctx, func(ctx context.Context) error {
			_, err := d.fn(ctx, callArgs)
			return err
		})
		if err != nil {
			return Trial{}, fmt.Errorf("%s: config %s: %w", d.name, cfg, err)
		}
		trial := Trial{Config: cfg, Time: elapsed}
		if d.cache != nil {
			d.cache.Add(d.identity, d.name, key, trial)
		}
		if d.env.Debug {
			d.log.Debug("cutotune trial",
				"op", d.name, "sweep", sweepID, "config", cfg.String(), "time", elapsed)
		}
		if !found || elapsed < best.Time {
			best = trial
			found = true
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	if !found {
		return Trial{}, noApplicableError(d.name, key)
	}
	d.sweeps.Add(1)

	if d.env.Rank == 0 {
		d.log.Info("cutotune selected config",
			"op", d.name,
			"key", string(key),
			"config", best.Config.String(),
			"time", best.Time,
			"sweep", sweepID,
			"elapsed", time.Since(start),
		)
	}
	return best, nil
}
