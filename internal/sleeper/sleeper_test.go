package sleeper

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sys/unix"

	"github.com/bradfitz/idlethreads/internal/proc"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSleep(t *testing.T) {
	start := time.Now()
	require.NoError(t, Sleep(50*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestSleepNonPositive(t *testing.T) {
	start := time.Now()
	require.NoError(t, Sleep(0))
	require.NoError(t, Sleep(-time.Hour))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleepRestartsAfterSignal(t *testing.T) {
	const d = 300 * time.Millisecond

	tidc := make(chan int, 1)
	errc := make(chan error, 1)
	start := time.Now()
	go func() {
		if err := Pin("sig-test"); err != nil {
			tidc <- 0
			errc <- err
			return
		}
		tidc <- unix.Gettid()
		errc <- Sleep(d)
	}()

	tid := <-tidc
	require.NotZero(t, tid)

	// SIGURG is the runtime's preemption signal; Go handles it and
	// nanosleep returns EINTR regardless of SA_RESTART.
	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, unix.Tgkill(os.Getpid(), tid, unix.SIGURG))
	}

	require.NoError(t, <-errc)
	assert.GreaterOrEqual(t, time.Since(start), d)
}

func readComm(tid int) (string, error) {
	b, err := os.ReadFile(fmt.Sprintf("/proc/self/task/%d/comm", tid))
	return strings.TrimSpace(string(b)), err
}

func TestPinTruncatesName(t *testing.T) {
	type result struct {
		comm string
		err  error
	}
	c := make(chan result, 1)
	go func() {
		if err := Pin("a-thread-name-longer-than-the-kernel-allows"); err != nil {
			c <- result{err: err}
			return
		}
		comm, err := readComm(unix.Gettid())
		c <- result{comm, err}
	}()

	r := <-c
	require.NoError(t, r.err)
	assert.Equal(t, "a-thread-name-l", r.comm)
}

func TestNewValidates(t *testing.T) {
	for _, config := range []Config{
		{Count: -1, Duration: time.Second, Name: "x"},
		{Count: 1, Duration: -time.Second, Name: "x"},
		{Count: 1, Duration: time.Second},
	} {
		_, err := New(config)
		assert.Error(t, err, "config %+v", config)
	}

	g, err := New(Config{Count: 0, Duration: time.Second, Name: DefaultName})
	require.NoError(t, err)
	assert.Equal(t, 0, g.Count())
}

func TestReadyBeforeStart(t *testing.T) {
	g, err := New(Config{Count: 1, Duration: 0, Name: "x"})
	require.NoError(t, err)
	assert.Error(t, g.Ready(context.Background()))
}

func TestStartTwicePanics(t *testing.T) {
	g, err := New(Config{Count: 0, Name: "x"})
	require.NoError(t, err)
	g.Start()
	assert.Panics(t, g.Start)
	assert.NoError(t, g.Wait())
}

func TestGroupReadyNamesThreads(t *testing.T) {
	const (
		n    = 5
		name = "grp-ready"
		d    = 500 * time.Millisecond
	)
	g, err := New(Config{Count: n, Duration: d, Name: name})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g.Start()
	require.NoError(t, g.Ready(ctx))
	require.NoError(t, g.Ready(ctx), "Ready is idempotent once every member reported")

	fs, err := proc.DefaultFS()
	require.NoError(t, err)
	threads, err := fs.ParseThreads(os.Getpid())
	require.NoError(t, err)
	assert.Len(t, proc.Tids(threads, name), n)

	require.NoError(t, g.Wait())

	// Pinned threads exit with their goroutine.
	assert.Eventually(t, func() bool {
		threads, err := fs.ParseThreads(os.Getpid())
		return err == nil && len(proc.Tids(threads, name)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGroupWait(t *testing.T) {
	const d = 30 * time.Millisecond
	g, err := New(Config{Count: 3, Duration: d, Name: "grp-wait"})
	require.NoError(t, err)

	start := time.Now()
	g.Start()
	require.NoError(t, g.Ready(context.Background()))
	require.NoError(t, g.Wait())
	assert.GreaterOrEqual(t, time.Since(start), d)
}

func TestGroupReadyContext(t *testing.T) {
	g, err := New(Config{Count: 1, Duration: 0, Name: "grp-ctx"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Not started members never report, so only ctx can end Ready.
	g.started = true
	assert.ErrorIs(t, g.Ready(ctx), context.Canceled)
}
