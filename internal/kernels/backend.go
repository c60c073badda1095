// Package kernels holds the tuned host kernels: every operation has several
// implementations and launch parameters, and a cutotune dispatcher picks
// the fastest per input class.
package kernels

import "fmt"

// BackendParam is the tunable parameter selecting the implementation.
const BackendParam = "kernel_backend"

// Backend selects the implementation a kernel runs.
type Backend uint8

const (
	BackendNaive Backend = iota
	BackendUnrolled
	BackendBlocked
	BackendParallel
)

var backendNames = [...]string{
	BackendNaive:    "naive",
	BackendUnrolled: "unrolled",
	BackendBlocked:  "blocked",
	BackendParallel: "parallel",
}

func (b Backend) String() string {
	if int(b) < len(backendNames) {
		return backendNames[b]
	}
	return fmt.Sprintf("backend(%d)", uint8(b))
}

func (b Backend) MarshalText() ([]byte, error) {
	if int(b) >= len(backendNames) {
		return nil, fmt.Errorf("kernels: invalid backend %d", uint8(b))
	}
	return []byte(b.String()), nil
}

func (b *Backend) UnmarshalText(text []byte) error {
	v, err := ParseBackend(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// ParseBackend maps a backend name back to its value.
func ParseBackend(s string) (Backend, error) {
	for i, name := range backendNames {
		if name == s {
			return Backend(i), nil
		}
	}
	return 0, fmt.Errorf("kernels: unknown backend %q", s)
}

// DecodeBackend is the cache enum decoder for BackendParam.
func DecodeBackend(s string) (any, error) {
	return ParseBackend(s)
}
