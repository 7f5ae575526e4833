// Command idlethreads is a fixture for process and thread inspectors.
//
// It starts 41 threads that each sleep for 42 minutes, prints "running..."
// once all of them exist, and then sleeps on its main thread as well, for
// 42 sleeping threads in total. Arguments are ignored. The process is meant
// to be killed by whoever started it.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/bradfitz/idlethreads/internal/sleeper"
)

func init() {
	// Keep main on the main thread (tid == pid) so that thread is a sleeper too.
	runtime.LockOSThread()
}

// Config holds the configuration for idlethreads
type Config struct {
	Threads    int           // background sleepers
	Duration   time.Duration // how long every sleeper sleeps
	ThreadName string        // kernel name of the background sleepers
	Banner     string        // readiness line written to stdout
}

// defaultConfig is the only configuration main uses.
func defaultConfig() Config {
	return Config{
		Threads:    sleeper.DefaultCount,
		Duration:   sleeper.DefaultDuration,
		ThreadName: sleeper.DefaultName,
		Banner:     "running...",
	}
}

func main() {
	if err := run(defaultConfig(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run starts the background sleepers, announces readiness on w, and sleeps
// on the calling thread.
func run(config Config, w io.Writer) error {
	group, err := sleeper.New(sleeper.Config{
		Count:    config.Threads,
		Duration: config.Duration,
		Name:     config.ThreadName,
	})
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	group.Start()
	if err := group.Ready(context.Background()); err != nil {
		return fmt.Errorf("failed to start sleepers: %w", err)
	}

	// A single write, so the line is out before the long sleep begins.
	if _, err := io.WriteString(w, config.Banner+"\n"); err != nil {
		return fmt.Errorf("failed to write banner: %w", err)
	}

	if err := sleeper.Sleep(config.Duration); err != nil {
		return fmt.Errorf("main thread: %w", err)
	}
	return group.Wait()
}
