package proc

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"golang.org/x/sys/unix"
)

// pollInterval is how often WaitForSleepers re-reads the task list.
const pollInterval = 10 * time.Millisecond

// Thread represents a thread in the target process
type Thread struct {
	Tid   int
	Name  string // comm of the thread, not of the process
	State string
}

// Sleeping reports whether the kernel has the thread in state S.
func (t Thread) Sleeping() bool {
	return t.State == ProcStateName('S')
}

// ParseThreads parses /proc/<pid>/task/* to enumerate threads, sorted by
// tid. Threads that exit between the directory listing and the read of
// their stat file are left out.
func (fs FS) ParseThreads(pid int) ([]Thread, error) {
	tasks, err := fs.fs.AllThreads(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to read task directory: %w", err)
	}

	threads := make([]Thread, 0, len(tasks))
	for _, task := range tasks {
		stat, err := task.Stat()
		if err != nil {
			if threadGone(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read stat for thread %d: %w", task.PID, err)
		}

		threads = append(threads, Thread{
			Tid:   task.PID,
			Name:  stat.Comm,
			State: stateName(stat.State),
		})
	}

	slices.SortFunc(threads, func(a, b Thread) int {
		return cmp.Compare(a.Tid, b.Tid)
	})
	return threads, nil
}

// threadGone reports whether err means the thread exited under us.
func threadGone(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, unix.ESRCH)
}

// Footprint is what an inspector sees of a process's threads at one point
// in time.
type Footprint struct {
	Pid            int
	Threads        int
	Sleeping       int
	MainSleeping   bool // the thread whose tid equals the pid
	ByName         map[string]int
	SleepingByName map[string]int
}

// Summarize builds the footprint of pid from its thread list.
func Summarize(pid int, threads []Thread) Footprint {
	fp := Footprint{
		Pid:            pid,
		Threads:        len(threads),
		ByName:         make(map[string]int),
		SleepingByName: make(map[string]int),
	}
	for _, t := range threads {
		fp.ByName[t.Name]++
		if !t.Sleeping() {
			continue
		}
		fp.Sleeping++
		fp.SleepingByName[t.Name]++
		if t.Tid == pid {
			fp.MainSleeping = true
		}
	}
	return fp
}

// Tids returns the tids of the threads named name.
func Tids(threads []Thread, name string) []int {
	var tids []int
	for _, t := range threads {
		if t.Name == name {
			tids = append(tids, t.Tid)
		}
	}
	return tids
}

// WaitForSleepers polls the threads of pid until exactly n of them are
// named name, all n are sleeping, and so is the main thread. On timeout it
// returns the last footprint seen along with ctx's error.
func (fs FS) WaitForSleepers(ctx context.Context, pid int, name string, n int) (Footprint, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		threads, err := fs.ParseThreads(pid)
		if err != nil {
			return Footprint{}, fmt.Errorf("failed to parse threads: %w", err)
		}

		fp := Summarize(pid, threads)
		if fp.ByName[name] == n && fp.SleepingByName[name] == n && fp.MainSleeping {
			return fp, nil
		}

		select {
		case <-ctx.Done():
			return fp, fmt.Errorf("waiting for %d sleeping %q threads in process %d (have %d, %d sleeping): %w",
				n, name, pid, fp.ByName[name], fp.SleepingByName[name], ctx.Err())
		case <-ticker.C:
		}
	}
}
