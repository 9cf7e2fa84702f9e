package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonbobo/Capstone-UNY/internal/auth"
)

var ava = auth.Identity{UserID: 1, Username: "ava"}

// stdout returns a runner that exits 0 after printing out.
func stdout(out string) RunnerFunc {
	return func(ctx context.Context, q string) (Result, error) {
		return Result{Stdout: []byte(out)}, nil
	}
}

// blocking returns a runner that waits for ctx and reports its error.
func blocking(started chan<- struct{}) RunnerFunc {
	return func(ctx context.Context, q string) (Result, error) {
		if started != nil {
			started <- struct{}{}
		}
		<-ctx.Done()
		return Result{ExitCode: -1}, ctx.Err()
	}
}

func TestAsk_EmptyQuestionSpawnsNothing(t *testing.T) {
	var calls atomic.Int32
	b := New(RunnerFunc(func(ctx context.Context, q string) (Result, error) {
		calls.Add(1)
		return Result{}, nil
	}), Config{})

	for _, q := range []string{"", "   ", "\n\t "} {
		_, err := b.Ask(context.Background(), q, ava)
		require.ErrorIs(t, err, ErrEmptyQuestion)
	}
	assert.Zero(t, calls.Load())
}

func TestAsk_SuccessEchoesTrimmedQuestion(t *testing.T) {
	var got string
	b := New(RunnerFunc(func(ctx context.Context, q string) (Result, error) {
		got = q
		return Result{Stdout: []byte(`{"success":true,"question":"ignored","answer":"hi","timestamp":"x"}` + "\n")}, nil
	}), Config{})

	ans, err := b.Ask(context.Background(), "  hello  ", ava)
	require.NoError(t, err)
	assert.Equal(t, "hello", got, "worker receives the trimmed question")
	assert.Equal(t, "hello", ans.Question)
	assert.Equal(t, "hi", ans.Answer)
	assert.NotEmpty(t, ans.InvocationID)
	assert.False(t, ans.CompletedAt.IsZero())
}

func TestAsk_FailureMapping(t *testing.T) {
	cases := []struct {
		name   string
		res    Result
		kind   Kind
		detail string
	}{
		{"non-zero exit", Result{ExitCode: 2, Stdout: []byte(`{"answer":"x"}`), Stderr: []byte("Traceback: boom\n")}, KindWorkerFailed, "Traceback: boom"},
		{"garbage", Result{Stdout: []byte("hello there")}, KindMalformedOutput, "hello there"},
		{"empty stdout", Result{}, KindMalformedOutput, ""},
		{"array", Result{Stdout: []byte(`["hi"]`)}, KindMalformedOutput, `["hi"]`},
		{"null", Result{Stdout: []byte(`null`)}, KindMalformedOutput, "null"},
		{"two objects", Result{Stdout: []byte(`{"answer":"a"}{"answer":"b"}`)}, KindMalformedOutput, ""},
		{"trailing text", Result{Stdout: []byte(`{"answer":"a"} done`)}, KindMalformedOutput, ""},
		{"log line first", Result{Stdout: []byte("loading model...\n{\"answer\":\"a\"}")}, KindMalformedOutput, ""},
		{"neither field", Result{Stdout: []byte(`{"success":true}`)}, KindMalformedOutput, ""},
		{"null answer", Result{Stdout: []byte(`{"answer":null}`)}, KindMalformedOutput, ""},
		{"answer not string", Result{Stdout: []byte(`{"answer":42}`)}, KindMalformedOutput, ""},
		{"truncated", Result{Stdout: []byte(`{"answer":"aaaa`), StdoutTruncated: true}, KindMalformedOutput, ""},
		{"reported error", Result{Stdout: []byte(`{"error":"model not loaded"}`)}, KindWorkerReportedError, ""},
		{"reported error wins over answer", Result{Stdout: []byte(`{"answer":"a","error":"partial"}`)}, KindWorkerReportedError, ""},
		{"structured error", Result{Stdout: []byte(`{"error":{"code":7}}`)}, KindWorkerReportedError, ""},
		{"true error", Result{Stdout: []byte(`{"answer":"a","error":true}`)}, KindWorkerReportedError, ""},
		{"false error and no answer", Result{Stdout: []byte(`{"error":false}`)}, KindMalformedOutput, ""},
		{"zero error and no answer", Result{Stdout: []byte(`{"error":0}`)}, KindMalformedOutput, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := tc.res
			b := New(RunnerFunc(func(ctx context.Context, q string) (Result, error) { return res, nil }), Config{})

			ans, err := b.Ask(context.Background(), "q", ava)
			require.Nil(t, ans)
			require.Error(t, err)

			var be *Error
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tc.kind, be.Kind, "err=%v", err)
			assert.NotEmpty(t, be.Message)
			if tc.detail != "" {
				assert.Equal(t, tc.detail, be.Detail)
			}
		})
	}
}

func TestAsk_FalsyErrorFieldIsIgnored(t *testing.T) {
	for _, errField := range []string{`""`, `false`, `0`, `0.0`, `null`} {
		b := New(stdout(`{"answer":"hi","error":`+errField+`}`), Config{})
		ans, err := b.Ask(context.Background(), "q", ava)
		require.NoError(t, err, "error=%s", errField)
		assert.Equal(t, "hi", ans.Answer)
	}
}

func TestAsk_ReportedErrorMessage(t *testing.T) {
	b := New(stdout(`{"error":"  model not loaded "}`), Config{})
	_, err := b.Ask(context.Background(), "q", ava)
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "model not loaded", be.Message)
}

func TestAsk_SpawnFailure(t *testing.T) {
	b := New(RunnerFunc(func(ctx context.Context, q string) (Result, error) {
		return Result{}, fmt.Errorf("%w: %w", ErrSpawn, errors.New("exec: \"python3\": executable file not found in $PATH"))
	}), Config{})

	_, err := b.Ask(context.Background(), "q", ava)
	require.ErrorIs(t, err, ErrSpawnFailed)
	require.ErrorIs(t, err, ErrSpawn)
}

func TestAsk_Timeout(t *testing.T) {
	b := New(blocking(nil), Config{Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := b.Ask(context.Background(), "q", ava)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Contains(t, err.Error(), "50ms")
}

func TestAsk_CallerCancellation(t *testing.T) {
	started := make(chan struct{}, 1)
	b := New(blocking(started), Config{Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := b.Ask(ctx, "q", ava)
	require.ErrorIs(t, err, ErrCanceled)
	require.NotErrorIs(t, err, ErrTimeout)
}

func TestAsk_UnexpectedRunnerError(t *testing.T) {
	b := New(RunnerFunc(func(ctx context.Context, q string) (Result, error) {
		return Result{}, errors.New("read |0: bad file descriptor")
	}), Config{})
	_, err := b.Ask(context.Background(), "q", ava)
	require.ErrorIs(t, err, ErrWorkerFailed)
}

func TestAsk_BusyRejectsImmediately(t *testing.T) {
	started := make(chan struct{}, 1)
	b := New(blocking(started), Config{MaxConcurrent: 1, Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := b.Ask(ctx, "first", ava)
		done <- err
	}()
	<-started

	_, err := b.Ask(context.Background(), "second", ava)
	require.ErrorIs(t, err, ErrBusy)

	cancel()
	require.ErrorIs(t, <-done, ErrCanceled)

	// The slot is released once the first call returns.
	b.runner = stdout(`{"answer":"ok"}`)
	_, err = b.Ask(context.Background(), "third", ava)
	require.NoError(t, err)
}

func TestAsk_QueueTimeout(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var n atomic.Int32
	b := New(RunnerFunc(func(ctx context.Context, q string) (Result, error) {
		if n.Add(1) == 1 {
			started <- struct{}{}
			<-release
		}
		return Result{Stdout: []byte(`{"answer":"` + q + `"}`)}, nil
	}), Config{MaxConcurrent: 1, QueueTimeout: 30 * time.Millisecond})

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = b.Ask(context.Background(), "first", ava)
	}()
	<-started

	// Queue wait elapses while the slot is held.
	_, err := b.Ask(context.Background(), "second", ava)
	require.ErrorIs(t, err, ErrBusy)

	// A queued caller is admitted when the slot frees up in time.
	b.cfg.QueueTimeout = 5 * time.Second
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	ans, err := b.Ask(context.Background(), "third", ava)
	require.NoError(t, err)
	assert.Equal(t, "third", ans.Answer)
	<-firstDone
}

func TestAsk_QueueWaitCanceled(t *testing.T) {
	started := make(chan struct{}, 1)
	b := New(blocking(started), Config{MaxConcurrent: 1, QueueTimeout: time.Minute, Timeout: time.Minute})

	holdCtx, releaseHold := context.WithCancel(context.Background())
	held := make(chan struct{})
	go func() {
		defer close(held)
		_, _ = b.Ask(holdCtx, "first", ava)
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Ask(ctx, "second", ava)
	require.ErrorIs(t, err, ErrCanceled)

	releaseHold()
	<-held
}

func TestAsk_ConcurrentCallsNeverCrossDeliver(t *testing.T) {
	const n = 64
	b := New(RunnerFunc(func(ctx context.Context, q string) (Result, error) {
		// jitter so completions interleave
		time.Sleep(time.Duration(len(q)%7) * time.Millisecond)
		return Result{Stdout: []byte(`{"answer":"answer to ` + q + `"}`)}, nil
	}), Config{MaxConcurrent: n})

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := fmt.Sprintf("question-%d", i)
			ans, err := b.Ask(context.Background(), q, auth.Identity{UserID: uint(i + 1)})
			if err != nil {
				errs <- err
				return
			}
			if ans.Question != q || ans.Answer != "answer to "+q {
				errs <- fmt.Errorf("cross delivery: asked %q got %+v", q, ans)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestAsk_ConcurrencyCeiling(t *testing.T) {
	const limit = 3
	var cur, peak atomic.Int32
	b := New(RunnerFunc(func(ctx context.Context, q string) (Result, error) {
		c := cur.Add(1)
		for {
			p := peak.Load()
			if c <= p || peak.CompareAndSwap(p, c) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		cur.Add(-1)
		return Result{Stdout: []byte(`{"answer":"ok"}`)}, nil
	}), Config{MaxConcurrent: limit, QueueTimeout: 10 * time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Ask(context.Background(), "q", ava)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(limit))
}

func TestStatus(t *testing.T) {
	var asked string
	b := New(RunnerFunc(func(ctx context.Context, q string) (Result, error) {
		asked = q
		return Result{Stdout: []byte(`{"answer":"pong"}`)}, nil
	}), Config{ProbeQuestion: "ping"})

	rep := b.Status(context.Background())
	assert.Equal(t, StatusReport{Status: "online", WorkerReachable: true, Message: "worker is ready"}, rep)
	assert.Equal(t, "ping", asked)

	b = New(RunnerFunc(func(ctx context.Context, q string) (Result, error) {
		return Result{ExitCode: 1, Stderr: []byte("No module named torch")}, nil
	}), Config{})
	rep = b.Status(context.Background())
	assert.Equal(t, "offline", rep.Status)
	assert.False(t, rep.WorkerReachable)
	assert.Equal(t, "worker exited with status 1", rep.Message)
}

func TestNew_Defaults(t *testing.T) {
	b := New(stdout(`{"answer":"x"}`), Config{QueueTimeout: -1})
	assert.Equal(t, DefaultTimeout, b.cfg.Timeout)
	assert.Equal(t, DefaultMaxConcurrent, b.cfg.MaxConcurrent)
	assert.Equal(t, DefaultProbeQuestion, b.cfg.ProbeQuestion)
	assert.Zero(t, b.cfg.QueueTimeout)
}

func TestInvocationIDs_AreMonotonicULIDs(t *testing.T) {
	src := newIDSource()
	now := time.Now()
	prev := ""
	for i := 0; i < 1000; i++ {
		id := src.next(now) // same millisecond
		parsed, err := ulid.ParseStrict(id)
		require.NoError(t, err)
		assert.Equal(t, ulid.Timestamp(now), parsed.Time())
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestAsk_RecordsOutcomeMetrics(t *testing.T) {
	okBefore := testutil.ToFloat64(invocations.WithLabelValues("ok"))
	emptyBefore := testutil.ToFloat64(invocations.WithLabelValues("empty_question"))

	b := New(stdout(`{"answer":"x"}`), Config{})
	_, _ = b.Ask(context.Background(), "q", ava)
	_, _ = b.Ask(context.Background(), " ", ava)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(invocations.WithLabelValues("ok")))
	assert.Equal(t, emptyBefore+1, testutil.ToFloat64(invocations.WithLabelValues("empty_question")))
	assert.Zero(t, testutil.ToFloat64(inflight))
}

func TestKindStrings(t *testing.T) {
	for k := KindEmptyQuestion; k <= KindWorkerReportedError; k++ {
		s := k.String()
		assert.NotEqual(t, "unknown", s)
		assert.Equal(t, strings.ToLower(s), s)
	}
	assert.Equal(t, "unknown", Kind(0).String())
	assert.Equal(t, Kind(0), KindOf(errors.New("x")))
}
