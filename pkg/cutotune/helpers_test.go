package cutotune

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeTensor struct {
	dtype   string
	shape   []int
	strides []int
}

func (t fakeTensor) DTypeName() string { return t.dtype }
func (t fakeTensor) Shape() []int { return t.shape }
func (t fakeTensor) Strides() []int { return t.strides }

func newFakeTensor(dtype string, shape ...int) fakeTensor {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return fakeTensor{dtype: dtype, shape: shape, strides: strides}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testBackend int

const (
	backendScalar testBackend = iota
	backendVector
)

func (b testBackend) String() string {
	if b == backendVector {
		return "vector"
	}
	return "scalar"
}

func (b testBackend) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func parseTestBackend(s string) (any, error) {
	switch s {
	case "scalar":
		return backendScalar, nil
	case "vector":
		return backendVector, nil
	}
	return nil, errUnknownBackend(s)
}

type errUnknownBackend string

func (e errUnknownBackend) Error() string { return "unknown backend " + string(e) }
