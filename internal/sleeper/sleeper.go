// Package sleeper parks OS threads in the nanosleep system call so that a
// process presents a fixed number of idle threads to anything inspecting it
// from the outside.
package sleeper

import (
	"fmt"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	DefaultCount    = 41
	DefaultDuration = 42 * time.Minute
	DefaultName     = "sleeper"
)

// maxNameLen is TASK_COMM_LEN without the trailing NUL.
const maxNameLen = 15

// Sleep blocks the calling OS thread for d using nanosleep(2).
//
// Unlike time.Sleep, the goroutine keeps its thread for the whole duration,
// so the kernel reports the thread as sleeping (state S). Signals delivered
// to the thread (the Go runtime's preemption signal, for one) interrupt the
// call; it is restarted with the time the kernel says is left.
func Sleep(d time.Duration) error {
	if d <= 0 {
		return nil
	}

	ts := unix.NsecToTimespec(d.Nanoseconds())
	for {
		var left unix.Timespec
		err := unix.Nanosleep(&ts, &left)
		if err == nil {
			return nil
		}
		if err != unix.EINTR {
			return fmt.Errorf("nanosleep failed: %w", err)
		}
		ts = left
	}
}

// Pin locks the calling goroutine to its OS thread and names the thread.
//
// The lock is never released. When a pinned goroutine returns, the runtime
// terminates its thread instead of reusing it, so the name never leaks onto
// unrelated work.
func Pin(name string) error {
	runtime.LockOSThread()
	return setThreadName(name)
}

// setThreadName sets the kernel name of the calling thread, as shown in
// /proc/<pid>/task/<tid>/comm. Names longer than the kernel allows are
// truncated.
func setThreadName(name string) error {
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	p, err := unix.BytePtrFromString(name)
	if err != nil {
		return fmt.Errorf("invalid thread name %q: %w", name, err)
	}
	if err := unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(p)), 0, 0, 0); err != nil {
		return fmt.Errorf("failed to set thread name: %w", err)
	}
	return nil
}
