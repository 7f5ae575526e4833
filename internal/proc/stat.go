package proc

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// FS is a view of a procfs tree. The root is normally /proc; tests point it
// at a directory laid out the same way.
type FS struct {
	fs procfs.FS
}

// NewFS returns an FS rooted at root.
func NewFS(root string) (FS, error) {
	fs, err := procfs.NewFS(root)
	if err != nil {
		return FS{}, fmt.Errorf("failed to open procfs at %s: %w", root, err)
	}
	return FS{fs: fs}, nil
}

// DefaultFS returns an FS rooted at /proc.
func DefaultFS() (FS, error) {
	return NewFS(procfs.DefaultMountPoint)
}

// ProcState holds the fields of /proc/<pid>/stat that describe a process's
// shape rather than its resource usage.
type ProcState struct {
	Name       string
	State      string
	Pid        int
	Ppid       int
	Pgid       int
	NumThreads int
}

// GetInfoForPid reads /proc/<pid>/stat.
func (fs FS) GetInfoForPid(pid int) (ProcState, error) {
	p, err := fs.fs.Proc(pid)
	if err != nil {
		return ProcState{}, fmt.Errorf("failed to open process %d: %w", pid, err)
	}

	stat, err := p.Stat()
	if err != nil {
		return ProcState{}, fmt.Errorf("failed to read stat for process %d: %w", pid, err)
	}

	return ProcState{
		Name:       stat.Comm,
		State:      stateName(stat.State),
		Pid:        p.PID,
		Ppid:       stat.PPID,
		Pgid:       stat.PGRP,
		NumThreads: stat.NumThreads,
	}, nil
}

// Exists reports whether /proc/<pid> is present. A zombie that has not
// been reaped still exists.
func (fs FS) Exists(pid int) bool {
	_, err := fs.fs.Proc(pid)
	return err == nil
}

// ProcStateName maps a state letter from /proc/<pid>/stat to its long form.
func ProcStateName(state byte) string {
	switch state {
	case 'R':
		return "running"
	case 'S':
		return "sleeping"
	case 'D', 'I':
		return "idle"
	case 'T':
		return "stopped"
	case 't':
		return "tracing stop"
	case 'Z':
		return "zombie"
	case 'X', 'x':
		return "dead"
	}
	return "unknown"
}

func stateName(s string) string {
	if s == "" {
		return ProcStateName(0)
	}
	return ProcStateName(s[0])
}
