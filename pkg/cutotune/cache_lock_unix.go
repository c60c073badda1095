//go:build unix

package cutotune

import (
	"errors"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes an advisory flock on <path>.lock. Readers skip locking when
// the lock file does not exist yet, so read-only cache locations still load.
func lockFile(path string, exclusive bool) (func() error, error) {
	flag := os.O_RDONLY
	how := unix.LOCK_SH
	if exclusive {
		flag = os.O_RDWR | os.O_CREATE
		how = unix.LOCK_EX
	}
	f, err := os.OpenFile(path+".lock", flag, 0o644)
	if err != nil {
		if !exclusive && errors.Is(err, fs.ErrNotExist) {
			return func() error { return nil }, nil
		}
		return nil, err
	}
	for {
		err = unix.Flock(int(f.Fd()), how)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return func() error {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		return f.Close()
	}, nil
}
