// Package connattr keeps a process wide record of connector attributes
// (sysfs status, debugfs knobs) that were overridden, so they can be put
// back on exit or from a signal handler.
package connattr

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// Capacity is the number of attributes that can be overridden at once.
	Capacity = 32

	pathMax  = 256
	valueMax = 32
)

var (
	ErrFull     = errors.New("connector attribute registry full")
	ErrTooLong  = errors.New("connector attribute path or value too long")
	ErrNotFound = errors.New("connector attribute not registered")
)

type entry struct {
	used bool
	dir  string
	attr string

	// NUL terminated copies for RestoreAll.
	path     [pathMax]byte
	reset    [valueMax]byte
	resetLen int
}

// Registry is a fixed capacity table of overridden attributes.
type Registry struct {
	mu      sync.Mutex
	entries [Capacity]entry
}

// Default is the registry used by the display package.
var Default = &Registry{}

func (r *Registry) find(dir, attr string) *entry {
	for i := range r.entries {
		e := &r.entries[i]
		if e.used && e.dir == dir && e.attr == attr {
			return e
		}
	}
	return nil
}

func (r *Registry) alloc(dir, attr, reset string) (*entry, error) {
	path := filepath.Join(dir, attr)
	if len(path) >= pathMax || len(reset) >= valueMax {
		return nil, fmt.Errorf("%s: %w", path, ErrTooLong)
	}
	for i := range r.entries {
		e := &r.entries[i]
		if e.used {
			continue
		}
		*e = entry{used: true, dir: dir, attr: attr, resetLen: len(reset)}
		copy(e.path[:], path)
		copy(e.reset[:], reset)
		return e, nil
	}
	return nil, ErrFull
}

// write never creates the file, sysfs and debugfs attributes always exist.
func write(dir, attr, value string) error {
	f, err := os.OpenFile(filepath.Join(dir, attr), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	_, err = f.WriteString(value)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Set writes value to dir/attr and records reset as the value to restore.
// Writing the reset value itself drops the record unless forceReset is
// set, in which case it is kept and restored again later.
func (r *Registry) Set(dir, attr, value, reset string, forceReset bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := write(dir, attr, value); err != nil {
		return fmt.Errorf("set %s/%s: %w", dir, attr, err)
	}

	e := r.find(dir, attr)
	if value == reset && !forceReset {
		if e != nil {
			e.used = false
		}
		return nil
	}
	if e != nil {
		return nil
	}
	_, err := r.alloc(dir, attr, reset)
	return err
}

// Reset restores one attribute and drops its record.
func (r *Registry) Reset(dir, attr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.find(dir, attr)
	if e == nil {
		return fmt.Errorf("%s/%s: %w", dir, attr, ErrNotFound)
	}
	e.used = false
	return write(dir, attr, string(e.reset[:e.resetLen]))
}

// Len returns the number of live records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for i := range r.entries {
		if r.entries[i].used {
			n++
		}
	}
	return n
}

// RestoreAll writes back every recorded reset value and returns the
// number of failed writes. It neither locks nor allocates, so it may run
// from a signal handler. Records are kept.
func (r *Registry) RestoreAll() int {
	failed := 0
	for i := range r.entries {
		e := &r.entries[i]
		if !e.used {
			continue
		}
		if !restore(e) {
			failed++
		}
	}
	return failed
}

func restore(e *entry) bool {
	dirfd := unix.AT_FDCWD
	fd, _, errno := unix.RawSyscall6(unix.SYS_OPENAT, uintptr(dirfd),
		uintptr(unsafe.Pointer(&e.path[0])), uintptr(unix.O_WRONLY|unix.O_TRUNC|unix.O_CLOEXEC), 0, 0, 0)
	if errno != 0 {
		return false
	}
	var n uintptr
	if e.resetLen > 0 {
		n, _, errno = unix.RawSyscall(unix.SYS_WRITE, fd,
			uintptr(unsafe.Pointer(&e.reset[0])), uintptr(e.resetLen))
	}
	unix.RawSyscall(unix.SYS_CLOSE, fd, 0, 0)
	return errno == 0 && int(n) == e.resetLen
}
