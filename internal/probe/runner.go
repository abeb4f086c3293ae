// internal/probe/runner.go
package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/CodeMonkeyCybersecurity/oidhunt/internal/config"
	"github.com/CodeMonkeyCybersecurity/oidhunt/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/oidhunt/internal/logger"
	"github.com/CodeMonkeyCybersecurity/oidhunt/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/oidhunt/pkg/objectid"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Observer receives progress callbacks from a hunt. Calls happen on the
// hunting goroutine, in probe order.
type Observer interface {
	OnTimestamp(id objectid.ID)
	OnAttempt(id string, attempt, total int)
	OnOutcome(outcome Outcome)
}

type noopObserver struct{}

func (noopObserver) OnTimestamp(objectid.ID)    {}
func (noopObserver) OnAttempt(string, int, int) {}
func (noopObserver) OnOutcome(Outcome)          {}

// Runner guesses identifiers one at a time against the accounts endpoint.
type Runner struct {
	client    *resty.Client
	target    config.TargetConfig
	baseURL   string
	logger    *logger.Logger
	telemetry telemetry.Telemetry
	observer  Observer
}

// Option customises a Runner.
type Option func(*Runner)

// WithObserver routes progress callbacks to o.
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithTelemetry records probe metrics through t.
func WithTelemetry(t telemetry.Telemetry) Option {
	return func(r *Runner) {
		if t != nil {
			r.telemetry = t
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) {
		if c != nil {
			r.client = newRestyClient(c, r.target, r.logger)
		}
	}
}

// NewRunner builds a Runner for target. Requests carry the browser header
// set and are bounded by target.Timeout; nothing is retried.
func NewRunner(target config.TargetConfig, log *logger.Logger, opts ...Option) *Runner {
	if log == nil {
		log = logger.NewNop()
	}

	clientConfig := httpclient.DefaultConfig()
	clientConfig.Timeout = target.Timeout
	clientConfig.BlockPrivate = target.BlockPrivate
	httpClient := httpclient.NewClient(clientConfig)

	log = log.WithComponent("probe")
	r := &Runner{
		client:    newRestyClient(httpClient, target, log),
		target:    target,
		baseURL:   target.BaseURL(),
		logger:    log,
		telemetry: telemetry.NewNoop(),
		observer:  noopObserver{},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func newRestyClient(c *http.Client, target config.TargetConfig, log *logger.Logger) *resty.Client {
	client := resty.NewWithClient(c)
	client.SetLogger(restyLogger{log})
	client.SetHeaders(BrowserHeaders(target))
	client.SetTimeout(target.Timeout)
	client.SetRetryCount(0)
	return client
}

// restyLogger routes the client's own messages to debug.
type restyLogger struct{ log *logger.Logger }

func (l restyLogger) Errorf(format string, v ...interface{}) { l.log.Debugf("resty: "+format, v...) }
func (l restyLogger) Warnf(format string, v ...interface{})  { l.log.Debugf("resty: "+format, v...) }
func (l restyLogger) Debugf(format string, v ...interface{}) { l.log.Debugf("resty: "+format, v...) }

// URL returns the request URL for identifier id.
func (r *Runner) URL(id string) string {
	return r.baseURL + id
}

// Probe issues one GET for id and classifies the response. Transport
// failures are folded into the outcome, never returned.
func (r *Runner) Probe(ctx context.Context, id string) Outcome {
	outcome := Outcome{ID: id, URL: r.URL(id)}

	start := time.Now()
	resp, err := r.client.R().
		SetContext(ctx).
		Get(outcome.URL)
	outcome.Duration = time.Since(start)

	r.classify(&outcome, resp, err)
	r.telemetry.RecordProbe(ctx, string(outcome.Kind), outcome.Duration)
	r.logger.LogProbe(ctx, id, outcome.URL, string(outcome.Kind), outcome.StatusCode, outcome.Duration, outcome.Err)

	return outcome
}

// classify maps a response or transport error onto an OutcomeKind.
func (r *Runner) classify(outcome *Outcome, resp *resty.Response, err error) {
	if err != nil {
		outcome.Err = err
		if httpclient.IsTimeout(err) {
			outcome.Kind = OutcomeTimeout
		} else {
			outcome.Kind = OutcomeTransport
		}
		return
	}

	outcome.StatusCode = resp.StatusCode()
	if outcome.StatusCode != http.StatusOK {
		outcome.Kind = OutcomeBadStatus
		return
	}

	body, err := decodeBody(resp.Header().Get("Content-Encoding"), resp.Body())
	if err != nil {
		outcome.Kind = OutcomeMissingSecret
		outcome.Err = err
		return
	}
	outcome.Body = body

	if hasSecret(body, r.target.SecretField) {
		outcome.Kind = OutcomeFound
		return
	}
	outcome.Kind = OutcomeMissingSecret
}

// Run walks the candidates around base in order and stops at the first
// response carrying the secret field. A nil error with Status exhausted
// means every candidate missed. The only error returned is context
// cancellation.
func (r *Runner) Run(ctx context.Context, base objectid.ID, ranges objectid.Ranges) (result *Result, err error) {
	runID := uuid.NewString()
	log := r.logger.WithRunID(runID)

	start := time.Now()
	ctx, span := log.StartOperation(ctx, "probe.Run",
		"base_id", base.String(),
		"timestamp_max", ranges.TimestampMax,
		"counter_max", ranges.CounterMax,
	)

	result = &Result{
		Status:  StatusExhausted,
		RunID:   runID,
		Misses:  make(map[OutcomeKind]int),
		Started: start,
	}

	defer func() {
		result.Elapsed = time.Since(start)
		log.FinishOperation(ctx, span, "probe.Run", start, err,
			"status", result.Status,
			"attempts", result.Attempts,
		)
		r.telemetry.RecordRun(ctx, string(result.Status), result.Attempts)
	}()

	total := objectid.Count(base, ranges)
	lastTimestamp := int64(-1)

	for candidate := range objectid.Candidates(base, ranges) {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("hunt interrupted after %d attempts: %w", result.Attempts, err)
		}

		if ts := int64(candidate.ID.Timestamp); ts != lastTimestamp {
			lastTimestamp = ts
			r.observer.OnTimestamp(candidate.ID)
		}

		id, err := objectid.Construct(candidate.ID.Timestamp, candidate.ID.RandomHex(), candidate.ID.Counter)
		if err != nil {
			return result, fmt.Errorf("failed to render candidate: %w", err)
		}

		result.Attempts++
		r.observer.OnAttempt(id, result.Attempts, total)

		outcome := r.Probe(ctx, id)
		if outcome.Kind == OutcomeFound {
			r.observer.OnOutcome(outcome)
			result.Status = StatusFound
			result.ID = id
			result.URL = outcome.URL
			result.Body = outcome.Body
			log.Infow("Secret field found",
				"id", id,
				"attempts", result.Attempts,
				"timestamp_delta", candidate.TimestampDelta,
				"counter_delta", candidate.CounterDelta,
			)
			return result, nil
		}

		// A miss after cancellation is the cancellation itself, not a result.
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("hunt interrupted after %d attempts: %w", result.Attempts, err)
		}
		r.observer.OnOutcome(outcome)
		result.Misses[outcome.Kind]++
	}

	log.Infow("Candidate space exhausted",
		"attempts", result.Attempts,
		"timeouts", result.Misses[OutcomeTimeout],
		"transport_errors", result.Misses[OutcomeTransport],
		"bad_status", result.Misses[OutcomeBadStatus],
		"missing_secret", result.Misses[OutcomeMissingSecret],
	)
	return result, nil
}
