// Package bridge turns one authenticated question into one external worker
// process and back into a structured answer.
//
// The worker is an untrusted, crash-prone black box. Every Ask spawns a fresh
// process (no pooling, nothing shared between invocations), passes the
// question as its final argument, drains stdout and stderr concurrently into
// bounded buffers, enforces a deadline, and maps the outcome to an Answer or
// a *Error. No retries are performed; retry policy belongs to the caller.
//
// Worker protocol: stdout must be exactly one JSON object carrying "answer"
// on success or "error" on failure. Other keys are ignored.
package bridge

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/jonbobo/Capstone-UNY/internal/auth"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxConcurrent = 8
	DefaultProbeQuestion = "test"
)

// Config bounds worker invocations.
type Config struct {
	Timeout       time.Duration // per invocation, after admission
	MaxConcurrent int           // workers running at once
	QueueTimeout  time.Duration // wait for a free slot; 0 rejects at once
	ProbeQuestion string        // used by Status
}

// Invocation is one in-flight Ask. It lives only for the duration of the
// call and is used for log and trace correlation.
type Invocation struct {
	ID        string
	Question  string
	Caller    auth.Identity
	StartedAt time.Time
}

// Answer is a successful invocation.
type Answer struct {
	InvocationID string
	Question     string // trimmed request question
	Answer       string
	Duration     time.Duration
	CompletedAt  time.Time
}

// StatusReport is the result of a worker probe.
type StatusReport struct {
	Status          string `json:"status"` // online|offline
	WorkerReachable bool   `json:"workerReachable"`
	Message         string `json:"message"`
}

// Bridge is safe for concurrent use.
type Bridge struct {
	runner Runner
	cfg    Config
	sem    *semaphore.Weighted
	ids    *idSource
}

// New builds a Bridge around runner.
func New(runner Runner, cfg Config) *Bridge {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.QueueTimeout < 0 {
		cfg.QueueTimeout = 0
	}
	if strings.TrimSpace(cfg.ProbeQuestion) == "" {
		cfg.ProbeQuestion = DefaultProbeQuestion
	}
	return &Bridge{
		runner: runner,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		ids:    newIDSource(),
	}
}

var errWorkerTimeout = errors.New("worker timeout")

// Ask runs one worker for question on behalf of caller.
func (b *Bridge) Ask(ctx context.Context, question string, caller auth.Identity) (*Answer, error) {
	inv := Invocation{
		ID:        b.ids.next(time.Now()),
		Question:  strings.TrimSpace(question),
		Caller:    caller,
		StartedAt: time.Now(),
	}

	tr := otel.Tracer("bridge")
	ctx, span := tr.Start(ctx, "bridge.Ask",
		trace.WithAttributes(
			attribute.String("bridge.invocation_id", inv.ID),
			attribute.Int64("user.id", int64(caller.UserID)),
		),
	)
	defer span.End()

	ans, err := b.ask(ctx, inv)

	dur := time.Since(inv.StartedAt)
	outcome := outcomeLabel(err)
	invocations.WithLabelValues(outcome).Inc()
	invocationDur.WithLabelValues(outcome).Observe(dur.Seconds())
	span.SetAttributes(attribute.String("bridge.outcome", outcome))

	lg := zerolog.Ctx(ctx).With().
		Str("invocation_id", inv.ID).
		Uint("user_id", caller.UserID).
		Str("outcome", outcome).
		Dur("duration", dur).
		Logger()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		ev := lg.Warn()
		var be *Error
		if errors.As(err, &be) {
			if be.Kind == KindEmptyQuestion || be.Kind == KindCanceled {
				ev = lg.Info()
			}
			ev = ev.Int("exit_code", be.ExitCode).Str("detail", be.Detail)
		}
		ev.Err(err).Msg("worker invocation failed")
		return nil, err
	}
	lg.Info().Msg("worker invocation")

	ans.Duration = dur
	return ans, nil
}

func (b *Bridge) ask(ctx context.Context, inv Invocation) (*Answer, error) {
	if inv.Question == "" {
		return nil, &Error{Kind: KindEmptyQuestion, Message: "question is required"}
	}

	if err := b.admit(ctx); err != nil {
		return nil, err
	}
	defer b.sem.Release(1)

	runCtx, cancel := context.WithTimeoutCause(ctx, b.cfg.Timeout, errWorkerTimeout)
	defer cancel()

	inflight.Inc()
	res, err := b.runner.Run(runCtx, inv.Question)
	inflight.Dec()
	if err != nil {
		return nil, b.runFailure(ctx, runCtx, err)
	}

	if res.ExitCode != 0 {
		return nil, &Error{
			Kind:     KindWorkerFailed,
			Message:  fmt.Sprintf("worker exited with status %d", res.ExitCode),
			Detail:   strings.TrimSpace(string(res.Stderr)),
			ExitCode: res.ExitCode,
		}
	}

	text, err := parseOutput(res)
	if err != nil {
		return nil, err
	}
	return &Answer{
		InvocationID: inv.ID,
		Question:     inv.Question,
		Answer:       text,
		CompletedAt:  time.Now(),
	}, nil
}

// admit takes a worker slot, waiting at most QueueTimeout.
func (b *Bridge) admit(ctx context.Context) error {
	if b.sem.TryAcquire(1) {
		return nil
	}
	busy := &Error{
		Kind:    KindBusy,
		Message: fmt.Sprintf("all %d workers are busy", b.cfg.MaxConcurrent),
	}
	if b.cfg.QueueTimeout == 0 {
		return busy
	}
	wctx, cancel := context.WithTimeout(ctx, b.cfg.QueueTimeout)
	defer cancel()
	if err := b.sem.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return &Error{Kind: KindCanceled, Message: "request canceled while waiting for a worker", Err: ctx.Err()}
		}
		return busy
	}
	return nil
}

func (b *Bridge) runFailure(parent, runCtx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrSpawn):
		return &Error{Kind: KindSpawnFailed, Message: "worker could not be started", Err: err}
	case errors.Is(context.Cause(runCtx), errWorkerTimeout):
		return &Error{Kind: KindTimeout, Message: fmt.Sprintf("worker did not finish within %s", b.cfg.Timeout), Err: err}
	case parent.Err() != nil:
		return &Error{Kind: KindCanceled, Message: "request canceled before the worker finished", Err: parent.Err()}
	default:
		return &Error{Kind: KindWorkerFailed, Message: "worker I/O failed", Err: err, ExitCode: -1}
	}
}

// parseOutput enforces the one-JSON-object protocol.
func parseOutput(res Result) (string, error) {
	raw := bytes.TrimSpace(res.Stdout)
	malformed := func(msg string, err error) error {
		return &Error{Kind: KindMalformedOutput, Message: msg, Detail: string(raw), Err: err}
	}

	if res.StdoutTruncated {
		return "", malformed("worker output exceeded the capture limit", nil)
	}
	if len(raw) == 0 {
		return "", malformed("worker produced no output", nil)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	var obj map[string]json.RawMessage
	if err := dec.Decode(&obj); err != nil {
		return "", malformed("worker output is not a JSON object", err)
	}
	if obj == nil {
		return "", malformed("worker output is not a JSON object", nil)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return "", malformed("worker output has data after the JSON object", err)
	}

	if msg, ok := field(obj, "error"); ok && !falsy(msg) {
		if text := stringOrRaw(msg); text != "" {
			return "", &Error{Kind: KindWorkerReportedError, Message: text}
		}
	}
	ansRaw, ok := field(obj, "answer")
	if !ok {
		return "", malformed("worker output has neither answer nor error", nil)
	}
	var answer string
	if err := json.Unmarshal(ansRaw, &answer); err != nil {
		return "", malformed("worker answer is not a string", err)
	}
	return answer, nil
}

// field returns obj[key] unless it is absent or JSON null.
func field(obj map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	v, ok := obj[key]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false
	}
	return v, true
}

// falsy reports whether v is false, a zero number or an empty string. Such
// an error field means no error.
func falsy(v json.RawMessage) bool {
	var x any
	if err := json.Unmarshal(v, &x); err != nil {
		return false
	}
	switch t := x.(type) {
	case bool:
		return !t
	case float64:
		return t == 0
	case string:
		return t == ""
	}
	return false
}

func stringOrRaw(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(v))
}

// Status probes the full spawn path with the configured probe question.
func (b *Bridge) Status(ctx context.Context) StatusReport {
	if _, err := b.Ask(ctx, b.cfg.ProbeQuestion, auth.SystemIdentity); err != nil {
		msg := err.Error()
		var be *Error
		if errors.As(err, &be) {
			msg = be.Message
		}
		return StatusReport{Status: "offline", WorkerReachable: false, Message: msg}
	}
	return StatusReport{Status: "online", WorkerReachable: true, Message: "worker is ready"}
}

// idSource hands out ULIDs: millisecond timestamp plus monotonic entropy, so
// ids sort by start time even within one millisecond.
type idSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newIDSource() *idSource {
	return &idSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *idSource) next(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), s.entropy)
	if err != nil {
		// monotonic overflow within one millisecond; fall back to fresh entropy
		return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
	}
	return id.String()
}
