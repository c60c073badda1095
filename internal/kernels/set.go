package kernels

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/samcharles93/cutotune/internal/device"
	"github.com/samcharles93/cutotune/internal/tensor"
	"github.com/samcharles93/cutotune/pkg/cutotune"
)

// Dispatcher is the tuned form of every kernel.
type Dispatcher = cutotune.Dispatcher[*tensor.Tensor]

// Operation is the read-only view of a dispatcher shared by the CLI and the
// HTTP service.
type Operation interface {
	Name() string
	Identity() string
	Signature() cutotune.Signature
	Configs() []cutotune.Config
	Tunables() []string
	Sweeps() int
	BestConfigs() map[cutotune.Key]cutotune.Trial
}

var _ Operation = (*Dispatcher)(nil)

// Options configures a Set.
type Options struct {
	Env cutotune.Env
	// Cache is shared by all dispatchers. When nil, the cache is opened from
	// Env.
	Cache  *cutotune.Cache
	Logger cutotune.Logger
	// Workers sizes the device stream; <= 0 uses GOMAXPROCS.
	Workers    int
	Warmup     int
	Iterations int
	Progress   io.Writer
}

// Set owns the tuned kernels, their shared cache and the device stream they
// launch on.
type Set struct {
	cache  *cutotune.Cache
	stream *device.Stream
	// device serializes kernel calls so a sweep owns the stream while it
	// is timed.
	device sync.Mutex

	AddOp     *Dispatcher
	RMSNormOp *Dispatcher
	SoftmaxOp *Dispatcher
	GemmOp    *Dispatcher
}

// NewSet builds every kernel dispatcher.
func NewSet(opts Options) (*Set, error) {
	cache := opts.Cache
	if cache == nil {
		var err error
		cache, err = cutotune.OpenCache(opts.Env, cutotune.WithEnum(BackendParam, DecodeBackend))
		if err != nil {
			return nil, err
		}
	} else {
		cache.RegisterEnum(BackendParam, DecodeBackend)
	}

	s := &Set{
		cache:  cache,
		stream: device.NewStream(opts.Workers),
	}
	common := []cutotune.Option{
		cutotune.WithEnv(opts.Env),
		cutotune.WithCache(cache),
		cutotune.WithSynchronizer(s.stream),
	}
	if opts.Logger != nil {
		common = append(common, cutotune.WithLogger(opts.Logger))
	}
	if opts.Warmup > 0 {
		common = append(common, cutotune.WithWarmup(opts.Warmup))
	}
	if opts.Iterations > 0 {
		common = append(common, cutotune.WithIterations(opts.Iterations))
	}
	if opts.Progress != nil {
		common = append(common, cutotune.WithProgress(opts.Progress))
	}

	var err error
	if s.AddOp, err = s.newAdd(common); err != nil {
		return nil, s.closeWith(err)
	}
	if s.RMSNormOp, err = s.newRMSNorm(common); err != nil {
		return nil, s.closeWith(err)
	}
	if s.SoftmaxOp, err = s.newSoftmax(common); err != nil {
		return nil, s.closeWith(err)
	}
	if s.GemmOp, err = s.newGemm(common); err != nil {
		return nil, s.closeWith(err)
	}
	return s, nil
}

func (s *Set) closeWith(err error) error {
	_ = s.stream.Close()
	return err
}

// Cache is the trial cache shared by the kernels.
func (s *Set) Cache() *cutotune.Cache {
	return s.cache
}

// Stream is the device stream the kernels launch on.
func (s *Set) Stream() *device.Stream {
	return s.stream
}

// Operations lists the kernels in a fixed order.
func (s *Set) Operations() []Operation {
	return []Operation{s.AddOp, s.RMSNormOp, s.SoftmaxOp, s.GemmOp}
}

// Operation finds a kernel by name or identity.
func (s *Set) Operation(ref string) (Operation, bool) {
	ops := s.Operations()
	i := slices.IndexFunc(ops, func(op Operation) bool {
		return op.Name() == ref || op.Identity() == ref
	})
	if i < 0 {
		return nil, false
	}
	return ops[i], true
}

// Save persists the shared cache.
func (s *Set) Save() error {
	return s.cache.Save()
}

// Close waits for outstanding kernels and stops the stream.
func (s *Set) Close() error {
	return s.stream.Close()
}

// run calls a dispatcher and waits for the launched work.
func (s *Set) run(ctx context.Context, d *Dispatcher, args cutotune.Args) (*tensor.Tensor, error) {
	s.device.Lock()
	defer s.device.Unlock()
	return s.runLocked(ctx, d, args)
}

func (s *Set) runLocked(ctx context.Context, d *Dispatcher, args cutotune.Args) (*tensor.Tensor, error) {
	out, err := d.Call(ctx, args)
	if err != nil {
		return nil, err
	}
	if err := s.stream.Synchronize(); err != nil {
		return nil, fmt.Errorf("%s: %w", d.Name(), err)
	}
	return out, nil
}

func (s *Set) launch(fn func() error) error {
	return s.stream.Launch(fn)
}

func tensorArg(args cutotune.Args, name string) (*tensor.Tensor, error) {
	t, err := cutotune.ArgAs[*tensor.Tensor](args, name)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("argument %q is nil", name)
	}
	return t, nil
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func isHalf(args cutotune.Args, name string) bool {
	t, err := tensorArg(args, name)
	return err == nil && t.DType().IsHalf()
}
