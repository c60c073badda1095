package cutotune

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// modeOp is f(x, mode): every call advances the clock by the time assigned
// to its mode and counts the invocation.
type modeOp struct {
	clock *fakeClock
	times map[string]time.Duration
	mu    sync.Mutex
	calls map[string]int
}

func newModeOp(times map[string]time.Duration) *modeOp {
	return &modeOp{clock: &fakeClock{}, times: times, calls: map[string]int{}}
}

func (m *modeOp) run(_ context.Context, args Args) (string, error) {
	mode, err := ArgAs[string](args, "mode")
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.calls[mode]++
	m.mu.Unlock()
	m.clock.Advance(m.times[mode])
	return mode, nil
}

func (m *modeOp) count(mode string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[mode]
}

func modeSig() Signature {
	return Signature{TensorParam("x"), ScalarParam("mode")}
}

func newModeDispatcher(t *testing.T, op *modeOp, configs []Config, opts ...Option) *Dispatcher[string] {
	t.Helper()
	base := []Option{
		WithTriggers("x.dtype"),
		WithClock(op.clock),
		WithEnv(Env{}),
		WithLogger(discardLogger()),
	}
	d, err := New("f", op.run, modeSig(), configs, append(base, opts...)...)
	require.NoError(t, err)
	return d
}

func TestDispatcherScenario(t *testing.T) {
	ctx := context.Background()
	op := newModeOp(map[string]time.Duration{"a": 2 * time.Millisecond, "b": time.Millisecond})
	d := newModeDispatcher(t, op, CartesianProduct(nil, Values("mode", "a", "b")))

	got, err := d.Call(ctx, Args{Named("x", newFakeTensor("float32", 4, 4)), Named("mode", Auto[string]())})
	require.NoError(t, err)
	require.Equal(t, "b", got)
	require.Equal(t, 1, d.Sweeps())

	perConfig := DefaultWarmup + DefaultIterations
	require.Equal(t, perConfig, op.count("a"))
	require.Equal(t, perConfig+1, op.count("b"))

	key, err := d.Key(Args{Named("x", newFakeTensor("float32", 4, 4))})
	require.NoError(t, err)
	best, ok := d.Best(key)
	require.True(t, ok)
	require.Equal(t, time.Millisecond, best.Time)

	// Same dtype, different shape: pure lookup.
	got, err = d.Call(ctx, Args{Named("x", newFakeTensor("float32", 128, 3)), Named("mode", Auto[string]())})
	require.NoError(t, err)
	require.Equal(t, "b", got)
	require.Equal(t, 1, d.Sweeps())
	require.Equal(t, perConfig, op.count("a"))

	// New dtype: independent sweep.
	got, err = d.Call(ctx, Args{Named("x", newFakeTensor("float16", 4, 4)), Named("mode", Auto[string]())})
	require.NoError(t, err)
	require.Equal(t, "b", got)
	require.Equal(t, 2, d.Sweeps())
	require.Equal(t, 2*perConfig, op.count("a"))
	require.Len(t, d.BestConfigs(), 2)
}

func TestDispatcherTiesGoToFirstConfig(t *testing.T) {
	op := newModeOp(map[string]time.Duration{"a": time.Millisecond, "b": time.Millisecond, "c": time.Millisecond})
	d := newModeDispatcher(t, op, CartesianProduct(nil, Values("mode", "c", "a", "b")))

	got, err := d.Call(context.Background(), Args{Named("x", newFakeTensor("float32", 2)), Named("mode", Auto[string]())})
	require.NoError(t, err)
	require.Equal(t, "c", got)
}

func TestDispatcherPicksMinimum(t *testing.T) {
	op := newModeOp(map[string]time.Duration{
		"a": 5 * time.Millisecond,
		"b": 3 * time.Millisecond,
		"c": 4 * time.Millisecond,
		"d": 7 * time.Millisecond,
	})
	d := newModeDispatcher(t, op, CartesianProduct(nil, Values("mode", "a", "b", "c", "d")))

	got, err := d.Invoke(context.Background(), newFakeTensor("float32", 8))
	require.NoError(t, err)
	require.Equal(t, "b", got)
}

func TestDispatcherPredicateFiltering(t *testing.T) {
	op := newModeOp(map[string]time.Duration{"fast": time.Microsecond, "slow": time.Millisecond})
	halfOnly := func(ctx Args) bool {
		x, err := ArgAs[fakeTensor](ctx, "x")
		return err == nil && x.dtype == "float16"
	}
	configs := Concat(
		CartesianProduct(nil, Values("mode", "slow")),
		CartesianProduct(halfOnly, Values("mode", "fast")),
	)
	d := newModeDispatcher(t, op, configs)
	ctx := context.Background()

	got, err := d.Call(ctx, Args{Named("x", newFakeTensor("float32", 4)), Named("mode", Auto[string]())})
	require.NoError(t, err)
	require.Equal(t, "slow", got)
	require.Zero(t, op.count("fast"))

	got, err = d.Call(ctx, Args{Named("x", newFakeTensor("float16", 4)), Named("mode", Auto[string]())})
	require.NoError(t, err)
	require.Equal(t, "fast", got)
}

func TestDispatcherNoApplicableConfig(t *testing.T) {
	op := newModeOp(map[string]time.Duration{"a": time.Millisecond})
	onlyHalf := func(ctx Args) bool {
		x, _ := ArgAs[fakeTensor](ctx, "x")
		return x.dtype == "float16"
	}
	d := newModeDispatcher(t, op, CartesianProduct(onlyHalf, Values("mode", "a")))
	ctx := context.Background()

	_, err := d.Call(ctx, Args{Named("x", newFakeTensor("float32", 4))})
	require.ErrorIs(t, err, ErrNoApplicableConfiguration)

	// Other keys are unaffected.
	got, err := d.Call(ctx, Args{Named("x", newFakeTensor("float16", 4))})
	require.NoError(t, err)
	require.Equal(t, "a", got)
}

func twoParamOp() (Op[string], Signature) {
	op := func(_ context.Context, args Args) (string, error) {
		bs, err := ArgAs[int](args, "block")
		if err != nil {
			return "", err
		}
		w, err := ArgAs[int](args, "width")
		if err != nil {
			return "", err
		}
		return time.Duration(bs*100 + w).String(), nil
	}
	return op, Signature{TensorParam("x"), ScalarParam("block"), ScalarParam("width")}
}

func TestDispatcherOverrideProtocol(t *testing.T) {
	op, sig := twoParamOp()
	configs := CartesianProduct(nil, Values("block", 1, 2), Values("width", 1, 4))
	d, err := New("two", op, sig, configs,
		WithTriggers("x.dtype"), WithEnv(Env{}), WithLogger(discardLogger()), WithIterations(1), WithWarmup(0))
	require.NoError(t, err)
	ctx := context.Background()
	x := newFakeTensor("float32", 3)

	t.Run("mixed markers are rejected", func(t *testing.T) {
		_, err := d.Call(ctx, Args{Named("x", x), Named("block", Auto[int]()), Named("width", Fixed(4))})
		require.ErrorIs(t, err, ErrOverrideProtocol)
		var oe *OverrideError
		require.True(t, errors.As(err, &oe))
		require.Equal(t, []string{"block"}, oe.Auto)
		require.Equal(t, []string{"width"}, oe.Fixed)
	})

	t.Run("absent parameter counts as auto", func(t *testing.T) {
		_, err := d.Call(ctx, Args{Named("x", x), Named("width", 4)})
		require.ErrorIs(t, err, ErrOverrideProtocol)
	})

	t.Run("all fixed uses caller values", func(t *testing.T) {
		got, err := d.Call(ctx, Args{Named("x", x), Named("block", Fixed(2)), Named("width", 1)})
		require.NoError(t, err)
		require.Equal(t, time.Duration(201).String(), got)
	})

	t.Run("all auto succeeds", func(t *testing.T) {
		_, err := d.Call(ctx, Args{Named("x", x), Named("block", Auto[int]()), Named("width", Auto[int]())})
		require.NoError(t, err)
		_, err = d.Call(ctx, Args{Named("x", x)})
		require.NoError(t, err)
	})

	t.Run("unknown argument", func(t *testing.T) {
		_, err := d.Call(ctx, Args{Named("x", x), Named("y", 1)})
		require.Error(t, err)
	})
}

func TestDispatcherCachedSelectionSurvivesFixedCall(t *testing.T) {
	op := newModeOp(map[string]time.Duration{"a": 2 * time.Millisecond, "b": time.Millisecond})
	d := newModeDispatcher(t, op, CartesianProduct(nil, Values("mode", "a", "b")))
	ctx := context.Background()
	x := newFakeTensor("float32", 4)

	got, err := d.Call(ctx, Args{Named("x", x), Named("mode", "a")})
	require.NoError(t, err)
	require.Equal(t, "a", got)
	require.Equal(t, 1, d.Sweeps())

	got, err = d.Call(ctx, Args{Named("x", x), Named("mode", Auto[string]())})
	require.NoError(t, err)
	require.Equal(t, "b", got)
	require.Equal(t, 1, d.Sweeps())
}

func TestDispatcherDisabled(t *testing.T) {
	ctx := context.Background()
	x := newFakeTensor("float32", 4)

	t.Run("markers rejected", func(t *testing.T) {
		op := newModeOp(map[string]time.Duration{"a": time.Millisecond})
		d := newModeDispatcher(t, op, CartesianProduct(nil, Values("mode", "a")), WithEnv(Env{Disable: true}))
		_, err := d.Call(ctx, Args{Named("x", x), Named("mode", Auto[string]())})
		require.ErrorIs(t, err, ErrOverrideProtocol)
	})

	t.Run("fixed values run directly", func(t *testing.T) {
		op := newModeOp(map[string]time.Duration{"a": time.Millisecond, "z": time.Millisecond})
		d := newModeDispatcher(t, op, CartesianProduct(nil, Values("mode", "a")), WithEnv(Env{Disable: true}))
		got, err := d.Call(ctx, Args{Named("x", x), Named("mode", "z")})
		require.NoError(t, err)
		require.Equal(t, "z", got)
		require.Equal(t, 1, op.count("z"))
		require.Zero(t, d.Sweeps())
		require.Empty(t, d.BestConfigs())
	})

	t.Run("default config resolves markers", func(t *testing.T) {
		op := newModeOp(map[string]time.Duration{"a": time.Millisecond, "b": time.Millisecond})
		d := newModeDispatcher(t, op, CartesianProduct(nil, Values("mode", "a", "b")),
			WithEnv(Env{Disable: true}),
			WithDefaultConfig(map[string]any{"mode": "b"}))
		got, err := d.Call(ctx, Args{Named("x", x)})
		require.NoError(t, err)
		require.Equal(t, "b", got)
		require.Zero(t, d.Sweeps())
	})
}

func TestDispatcherConcurrentFirstCallsShareSweep(t *testing.T) {
	op := newModeOp(map[string]time.Duration{"a": 2 * time.Millisecond, "b": time.Millisecond})
	d := newModeDispatcher(t, op, CartesianProduct(nil, Values("mode", "a", "b")))
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		errs atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := d.Call(ctx, Args{Named("x", newFakeTensor("float32", 16))})
			if err != nil || got != "b" {
				errs.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Zero(t, errs.Load())
	require.Equal(t, 1, d.Sweeps())
	require.Equal(t, DefaultWarmup+DefaultIterations, op.count("a"))
}

// gatedOp blocks every call until release is closed, then behaves like op.
type gatedOp struct {
	op      *modeOp
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedOp) run(ctx context.Context, args Args) (string, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return g.op.run(ctx, args)
}

func TestDispatcherSharedSweepOutlivesCancelledCaller(t *testing.T) {
	op := newModeOp(map[string]time.Duration{"a": 2 * time.Millisecond, "b": time.Millisecond})
	gate := &gatedOp{op: op, started: make(chan struct{}), release: make(chan struct{})}
	d, err := New("f", gate.run, modeSig(), CartesianProduct(nil, Values("mode", "a", "b")),
		WithTriggers("x.dtype"),
		WithClock(op.clock),
		WithEnv(Env{}),
		WithLogger(discardLogger()),
	)
	require.NoError(t, err)
	args := Args{Named("x", newFakeTensor("float32", 16))}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := d.Call(ctxA, args)
		errA <- err
	}()
	<-gate.started

	type result struct {
		got string
		err error
	}
	resB := make(chan result, 1)
	go func() {
		got, err := d.Call(context.Background(), args)
		resB <- result{got, err}
	}()
	// Let B join the in-flight sweep before A goes away.
	time.Sleep(20 * time.Millisecond)
	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	close(gate.release)
	b := <-resB
	require.NoError(t, b.err)
	require.Equal(t, "b", b.got)
	require.Equal(t, 1, d.Sweeps())
	require.Equal(t, DefaultWarmup+DefaultIterations, op.count("a"))
}

func TestDispatcherClear(t *testing.T) {
	op := newModeOp(map[string]time.Duration{"a": time.Millisecond})
	d := newModeDispatcher(t, op, CartesianProduct(nil, Values("mode", "a")))
	ctx := context.Background()

	_, err := d.Invoke(ctx, newFakeTensor("float32", 1))
	require.NoError(t, err)
	d.Clear()
	require.Empty(t, d.BestConfigs())

	_, err = d.Invoke(ctx, newFakeTensor("float32", 1))
	require.NoError(t, err)
	require.Equal(t, 2, d.Sweeps())
}

func TestDispatcherRecordsTrialsAndReusesCache(t *testing.T) {
	op := newModeOp(map[string]time.Duration{"a": 2 * time.Millisecond, "b": time.Millisecond})
	cache := NewCache("")
	configs := CartesianProduct(nil, Values("mode", "a", "b"))
	d := newModeDispatcher(t, op, configs, WithCache(cache))
	ctx := context.Background()
	x := newFakeTensor("float32", 4)

	_, err := d.Invoke(ctx, x)
	require.NoError(t, err)
	key, err := d.Key(Args{Named("x", x)})
	require.NoError(t, err)
	require.Len(t, cache.Trials(d.Identity(), key), 2)
	require.Equal(t, "f", cache.Name(d.Identity()))

	// A fresh dispatcher over the same cache serves the key without sweeping.
	op2 := newModeOp(op.times)
	d2 := newModeDispatcher(t, op2, configs, WithCache(cache))
	got, err := d2.Invoke(ctx, x)
	require.NoError(t, err)
	require.Equal(t, "b", got)
	require.Zero(t, d2.Sweeps())
	require.Equal(t, 1, op2.count("b"))
}

func TestDispatcherHarnessError(t *testing.T) {
	boom := errors.New("boom")
	op := func(context.Context, Args) (int, error) { return 0, boom }
	d, err := New("fail", op, Signature{ScalarParam("n"), ScalarParam("mode")},
		CartesianProduct(nil, Values("mode", 1)),
		WithTriggers("n"), WithEnv(Env{}), WithLogger(discardLogger()))
	require.NoError(t, err)
	_, err = d.Invoke(context.Background(), 3)
	require.ErrorIs(t, err, boom)
	require.Empty(t, d.BestConfigs())
}

func TestNewValidation(t *testing.T) {
	op := newModeOp(nil)
	sig := Signature{TensorParam("x"), ScalarParam("mode"), ScalarParam("n")}
	configs := CartesianProduct(nil, Values("mode", "a"))
	env := WithEnv(Env{})

	cases := []struct {
		name    string
		configs []Config
		opts    []Option
		want    error
	}{
		{"no configs", nil, nil, ErrConfigurationSpace},
		{"mismatched configs", Concat(configs, CartesianProduct(nil, Values("n", 1))), nil, ErrConfigurationSpace},
		{"tunable outside signature", CartesianProduct(nil, Values("block", 1)), nil, ErrConfigurationSpace},
		{"bad default config", configs, []Option{WithDefaultConfig(map[string]any{"n": 1})}, ErrConfigurationSpace},
		{"unknown argument", configs, []Option{WithTriggers("y.dtype")}, ErrUnknownTrigger},
		{"unknown accessor", configs, []Option{WithTriggers("x.device")}, ErrUnknownTrigger},
		{"accessor on scalar", configs, []Option{WithTriggers("n.dtype")}, ErrUnknownTrigger},
		{"bare tensor", configs, []Option{WithTriggers("x")}, ErrUnknownTrigger},
		{"trigger on tunable", configs, []Option{WithTriggers("mode")}, ErrUnknownTrigger},
		{"empty functional trigger", configs, []Option{WithFuncTrigger("", nil)}, ErrUnknownTrigger},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New("f", op.run, sig, tc.configs, append([]Option{env}, tc.opts...)...)
			require.ErrorIs(t, err, tc.want)
		})
	}

	t.Run("bare tensor allowed", func(t *testing.T) {
		_, err := New("f", op.run, sig, configs, env, WithTriggers("x"), WithTensorInfoTriggers())
		require.NoError(t, err)
	})
}

func TestOperationIdentityIsStable(t *testing.T) {
	a := OperationIdentity("add", Signature{TensorParam("x"), TensorParam("y")})
	b := OperationIdentity("add", Signature{TensorParam("x"), TensorParam("y")})
	c := OperationIdentity("add", Signature{TensorParam("x")})
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}
