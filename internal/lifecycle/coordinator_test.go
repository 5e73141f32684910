package lifecycle

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func countingStep(name string, n *atomic.Int32, err error) Step {
	return Step{Name: name, Run: func(context.Context) error {
		n.Add(1)
		return err
	}}
}

func waitCode(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case code := <-ch:
		return code
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not finish")
		return -1
	}
}

func TestCoordinator_SignalDrainsInOrder(t *testing.T) {
	var order []string
	step := func(name string) Step {
		return Step{Name: name, Run: func(context.Context) error {
			order = append(order, name)
			return nil
		}}
	}
	c := NewCoordinator(zap.NewNop(), time.Second, step("http"), step("database"))
	assert.Equal(t, Running, c.State())

	signals := make(chan os.Signal, 1)
	signals <- syscall.SIGTERM

	code := c.Wait(context.Background(), signals)
	assert.Equal(t, ExitOK, code)
	assert.Equal(t, []string{"http", "database"}, order)
	assert.Equal(t, Closed, c.State())
}

func TestCoordinator_InterruptAndTerminateBehaveAlike(t *testing.T) {
	for _, sig := range []os.Signal{os.Interrupt, syscall.SIGTERM} {
		var n atomic.Int32
		c := NewCoordinator(zap.NewNop(), time.Second, countingStep("http", &n, nil))
		signals := make(chan os.Signal, 1)
		signals <- sig
		assert.Equal(t, ExitOK, c.Wait(context.Background(), signals), "signal %s", sig)
		assert.Equal(t, int32(1), n.Load())
	}
}

func TestCoordinator_StepFailureExitsNonZero(t *testing.T) {
	var first, second atomic.Int32
	c := NewCoordinator(zap.NewNop(), time.Second,
		countingStep("http", &first, errors.New("listener stuck")),
		countingStep("database", &second, nil),
	)
	signals := make(chan os.Signal, 1)
	signals <- os.Interrupt

	assert.Equal(t, ExitFailure, c.Wait(context.Background(), signals))
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(1), second.Load(), "later steps still run")
	assert.Equal(t, Closed, c.State())
}

func TestCoordinator_DrainTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	c := NewCoordinator(zap.NewNop(), 20*time.Millisecond, Step{Name: "stuck", Run: func(context.Context) error {
		<-block
		return nil
	}})

	err := c.Drain()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinator_DrainRunsOnce(t *testing.T) {
	var n atomic.Int32
	c := NewCoordinator(zap.NewNop(), time.Second, countingStep("http", &n, nil))

	signals := make(chan os.Signal, 2)
	signals <- os.Interrupt
	signals <- syscall.SIGTERM

	assert.Equal(t, ExitOK, c.Wait(context.Background(), signals))
	require.NoError(t, c.Drain())
	assert.Equal(t, int32(1), n.Load())
	assert.Equal(t, Closed, c.State())
}

func TestCoordinator_FatalWhileRunning(t *testing.T) {
	var n atomic.Int32
	c := NewCoordinator(zap.NewNop(), time.Second, countingStep("http", &n, nil))

	c.Go("worker", func() error { return errors.New("boom") })

	code := c.Wait(context.Background(), make(chan os.Signal))
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, int32(1), n.Load(), "drain still runs after a fatal error")
}

func TestCoordinator_PanicIsFatal(t *testing.T) {
	c := NewCoordinator(zap.NewNop(), time.Second)
	c.Go("worker", func() error { panic("unexpected") })
	assert.Equal(t, ExitFailure, c.Wait(context.Background(), make(chan os.Signal)))
}

func TestCoordinator_FatalDuringDrainIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	var c *Coordinator
	c = NewCoordinator(zap.New(core), time.Second, Step{Name: "http", Run: func(context.Context) error {
		c.Fatal(errors.New("late failure"))
		return nil
	}})
	signals := make(chan os.Signal, 1)
	signals <- syscall.SIGTERM

	assert.Equal(t, ExitOK, c.Wait(context.Background(), signals))
	assert.Equal(t, 1, logs.FilterMessage("background failure during shutdown").Len())
}

func TestCoordinator_ContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewCoordinator(zap.NewNop(), time.Second)
	assert.Equal(t, ExitOK, c.Wait(ctx, nil))
	assert.Equal(t, Closed, c.State())
}

func TestCoordinator_InFlightRequestDelaysExit(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		_, _ = io.WriteString(w, "done")
	})}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	c := NewCoordinator(zap.NewNop(), 5*time.Second, Step{Name: "http", Run: srv.Shutdown})
	c.Go("http server", func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	type result struct {
		body string
		err  error
	}
	resp := make(chan result, 1)
	go func() {
		res, err := http.Get("http://" + ln.Addr().String() + "/slow")
		if err != nil {
			resp <- result{err: err}
			return
		}
		defer res.Body.Close()
		b, err := io.ReadAll(res.Body)
		resp <- result{body: string(b), err: err}
	}()
	<-entered

	signals := make(chan os.Signal, 1)
	signals <- syscall.SIGTERM
	codes := make(chan int, 1)
	go func() { codes <- c.Wait(context.Background(), signals) }()

	select {
	case <-codes:
		t.Fatal("exited before the in-flight request finished")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, Draining, c.State())

	close(release)
	r := <-resp
	require.NoError(t, r.err)
	assert.Equal(t, "done", r.body)
	assert.Equal(t, ExitOK, waitCode(t, codes))
	assert.Equal(t, Closed, c.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "draining", Draining.String())
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "State(9)", State(9).String())
}
