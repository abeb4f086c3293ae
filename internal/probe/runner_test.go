package probe

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/oidhunt/internal/config"
	"github.com/CodeMonkeyCybersecurity/oidhunt/pkg/objectid"
	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const observedID = "6865f8370954c90009033a70"

// oracle is a fake accounts API that records every identifier it is asked for.
type oracle struct {
	mu      sync.Mutex
	seen    []string
	headers http.Header
	handle  func(w http.ResponseWriter, r *http.Request, id string)
}

func (o *oracle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := path.Base(r.URL.Path)

	o.mu.Lock()
	o.seen = append(o.seen, id)
	o.headers = r.Header.Clone()
	o.mu.Unlock()

	o.handle(w, r, id)
}

func (o *oracle) requests() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.seen...)
}

func notFound(w http.ResponseWriter, _ *http.Request, _ string) {
	http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
}

func newOracle(t *testing.T, handle func(w http.ResponseWriter, r *http.Request, id string)) (*oracle, *httptest.Server) {
	t.Helper()
	o := &oracle{handle: handle}
	server := httptest.NewServer(o)
	t.Cleanup(server.Close)
	return o, server
}

func testTarget(t *testing.T, serverURL string) config.TargetConfig {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)

	target := config.DefaultConfig().Target
	target.Scheme = u.Scheme
	target.Host = u.Host
	target.Timeout = 2 * time.Second
	return target
}

func mustBase(t *testing.T) objectid.ID {
	t.Helper()
	base, err := objectid.Parse(observedID)
	require.NoError(t, err)
	return base
}

func candidateID(t *testing.T, base objectid.ID, tsDelta, counterDelta uint32) string {
	t.Helper()
	id, err := objectid.Construct(base.Timestamp-tsDelta, base.RandomHex(), base.Counter-counterDelta)
	require.NoError(t, err)
	return id
}

func TestRun_ShortCircuitsOnFirstSuccess(t *testing.T) {
	base := mustBase(t)
	winner := candidateID(t, base, 2, 1)

	o, server := newOracle(t, func(w http.ResponseWriter, r *http.Request, id string) {
		if id == winner {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"_id":"` + id + `","username":"admin","PTLAB_KEY":"PTLAB{idor_by_time}"}`))
			return
		}
		notFound(w, r, id)
	})

	runner := NewRunner(testTarget(t, server.URL), nil)
	result, err := runner.Run(context.Background(), base, objectid.Ranges{TimestampMax: 10, CounterMax: 3})
	require.NoError(t, err)

	require.True(t, result.Found())
	assert.Equal(t, winner, result.ID)
	assert.Equal(t, server.URL+"/api/v1/accounts/"+winner, result.URL)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 2, result.Misses[OutcomeBadStatus])
	assert.Equal(t, "PTLAB{idor_by_time}", result.Secret("PTLAB_KEY"))
	assert.NotEmpty(t, result.RunID)

	assert.Equal(t, []string{
		candidateID(t, base, 1, 1),
		candidateID(t, base, 1, 2),
		winner,
	}, o.requests())
}

func TestRun_ExhaustionWithSingleSlot(t *testing.T) {
	base := mustBase(t)
	o, server := newOracle(t, notFound)

	runner := NewRunner(testTarget(t, server.URL), nil)
	result, err := runner.Run(context.Background(), base, objectid.Ranges{TimestampMax: 2, CounterMax: 2})
	require.NoError(t, err)

	assert.False(t, result.Found())
	assert.Equal(t, StatusExhausted, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.Len(t, o.requests(), 1)
	assert.Equal(t, 1, result.Misses[OutcomeBadStatus])
	assert.Empty(t, result.Body)
}

func TestRun_TimeoutDoesNotStopHunt(t *testing.T) {
	base := mustBase(t)
	slow := candidateID(t, base, 1, 1)

	o, server := newOracle(t, func(w http.ResponseWriter, r *http.Request, id string) {
		if id == slow {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		notFound(w, r, id)
	})

	target := testTarget(t, server.URL)
	target.Timeout = 100 * time.Millisecond

	runner := NewRunner(target, nil)
	result, err := runner.Run(context.Background(), base, objectid.Ranges{TimestampMax: 2, CounterMax: 3})
	require.NoError(t, err)

	assert.Equal(t, StatusExhausted, result.Status)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 1, result.Misses[OutcomeTimeout])
	assert.Equal(t, 1, result.Misses[OutcomeBadStatus])
	assert.Len(t, o.requests(), 2)
}

func TestRun_ContextCancelled(t *testing.T) {
	base := mustBase(t)
	_, server := newOracle(t, notFound)

	ctx, cancel := context.WithCancel(context.Background())
	obs := &cancellingObserver{after: 2, cancel: cancel}

	runner := NewRunner(testTarget(t, server.URL), nil, WithObserver(obs))
	result, err := runner.Run(ctx, base, objectid.DefaultRanges())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusExhausted, result.Status)
	assert.Equal(t, 2, result.Attempts)
}

// cancelOnResponse cancels the hunt once a response has been fully received.
type cancelOnResponse struct {
	next   http.RoundTripper
	cancel context.CancelFunc
}

func (c *cancelOnResponse) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := c.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	c.cancel()
	return resp, err
}

func TestRun_HitSurvivesCancellation(t *testing.T) {
	base := mustBase(t)
	winner := candidateID(t, base, 1, 1)

	_, server := newOracle(t, func(w http.ResponseWriter, r *http.Request, id string) {
		if id == winner {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"PTLAB_KEY":"late"}`))
			return
		}
		notFound(w, r, id)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &http.Client{Transport: &cancelOnResponse{next: http.DefaultTransport, cancel: cancel}}

	obs := &recordingObserver{}
	runner := NewRunner(testTarget(t, server.URL), nil, WithHTTPClient(client), WithObserver(obs))
	result, err := runner.Run(ctx, base, objectid.DefaultRanges())

	require.NoError(t, err)
	assert.True(t, result.Found())
	assert.Equal(t, winner, result.ID)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, []OutcomeKind{OutcomeFound}, obs.outcomes)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestRun_MissAfterCancellationIsNotCounted(t *testing.T) {
	base := mustBase(t)
	_, server := newOracle(t, notFound)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &http.Client{Transport: &cancelOnResponse{next: http.DefaultTransport, cancel: cancel}}

	obs := &recordingObserver{}
	runner := NewRunner(testTarget(t, server.URL), nil, WithHTTPClient(client), WithObserver(obs))
	result, err := runner.Run(ctx, base, objectid.DefaultRanges())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, result.Misses)
	assert.Empty(t, obs.outcomes)
}

type cancellingObserver struct {
	noopObserver
	after  int
	cancel context.CancelFunc
}

func (c *cancellingObserver) OnAttempt(_ string, attempt, _ int) {
	if attempt == c.after {
		c.cancel()
	}
}

type recordingObserver struct {
	buckets  []uint32
	attempts []string
	totals   []int
	outcomes []OutcomeKind
}

func (r *recordingObserver) OnTimestamp(id objectid.ID) { r.buckets = append(r.buckets, id.Timestamp) }
func (r *recordingObserver) OnAttempt(id string, _ int, total int) {
	r.attempts = append(r.attempts, id)
	r.totals = append(r.totals, total)
}
func (r *recordingObserver) OnOutcome(o Outcome) { r.outcomes = append(r.outcomes, o.Kind) }

func TestRun_ObserverSeesBucketsInOrder(t *testing.T) {
	base := mustBase(t)
	_, server := newOracle(t, notFound)

	obs := &recordingObserver{}
	runner := NewRunner(testTarget(t, server.URL), nil, WithObserver(obs))
	_, err := runner.Run(context.Background(), base, objectid.Ranges{TimestampMax: 3, CounterMax: 3})
	require.NoError(t, err)

	assert.Equal(t, []uint32{base.Timestamp - 1, base.Timestamp - 2}, obs.buckets)
	assert.Len(t, obs.attempts, 4)
	assert.Equal(t, []int{4, 4, 4, 4}, obs.totals)
	assert.Equal(t, []OutcomeKind{OutcomeBadStatus, OutcomeBadStatus, OutcomeBadStatus, OutcomeBadStatus}, obs.outcomes)
}

func TestProbe_Classification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   OutcomeKind
	}{
		{name: "secret present", status: 200, body: `{"PTLAB_KEY":"flag"}`, want: OutcomeFound},
		{name: "secret is object", status: 200, body: `{"PTLAB_KEY":{"v":1}}`, want: OutcomeFound},
		{name: "secret is false", status: 200, body: `{"PTLAB_KEY":false}`, want: OutcomeFound},
		{name: "secret null", status: 200, body: `{"PTLAB_KEY":null}`, want: OutcomeMissingSecret},
		{name: "secret absent", status: 200, body: `{"username":"someone"}`, want: OutcomeMissingSecret},
		{name: "nested only", status: 200, body: `{"data":{"PTLAB_KEY":"flag"}}`, want: OutcomeMissingSecret},
		{name: "array body", status: 200, body: `[{"PTLAB_KEY":"flag"}]`, want: OutcomeMissingSecret},
		{name: "not json", status: 200, body: `<html>PTLAB_KEY</html>`, want: OutcomeMissingSecret},
		{name: "forbidden with secret", status: 403, body: `{"PTLAB_KEY":"flag"}`, want: OutcomeBadStatus},
		{name: "created", status: 201, body: `{"PTLAB_KEY":"flag"}`, want: OutcomeBadStatus},
		{name: "server error", status: 500, body: ``, want: OutcomeBadStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, server := newOracle(t, func(w http.ResponseWriter, r *http.Request, id string) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			runner := NewRunner(testTarget(t, server.URL), nil)
			outcome := runner.Probe(context.Background(), observedID)

			assert.Equal(t, tt.want, outcome.Kind)
			assert.Equal(t, tt.status, outcome.StatusCode)
			assert.NoError(t, outcome.Err)
		})
	}
}

func TestProbe_TransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	target := testTarget(t, server.URL)
	server.Close()

	runner := NewRunner(target, nil)
	outcome := runner.Probe(context.Background(), observedID)

	assert.Equal(t, OutcomeTransport, outcome.Kind)
	assert.Error(t, outcome.Err)
	assert.Zero(t, outcome.StatusCode)
}

func TestProbe_BlockPrivate(t *testing.T) {
	_, server := newOracle(t, notFound)

	target := testTarget(t, server.URL)
	target.BlockPrivate = true

	runner := NewRunner(target, nil)
	outcome := runner.Probe(context.Background(), observedID)

	assert.Equal(t, OutcomeTransport, outcome.Kind)
	require.Error(t, outcome.Err)
	assert.Contains(t, outcome.Err.Error(), "private address blocked")
}

func TestProbe_SendsBrowserHeaders(t *testing.T) {
	o, server := newOracle(t, notFound)

	target := testTarget(t, server.URL)
	runner := NewRunner(target, nil)
	runner.Probe(context.Background(), observedID)

	o.mu.Lock()
	headers := o.headers
	o.mu.Unlock()

	for name, value := range BrowserHeaders(target) {
		if name == "Connection" || name == "Te" {
			// hop-by-hop, consumed by the server
			continue
		}
		assert.Equal(t, value, headers.Get(name), name)
	}
	assert.Equal(t, server.URL, headers.Get("Origin"))
	assert.Equal(t, server.URL+"/", headers.Get("Referer"))
}

func TestProbe_BrotliBody(t *testing.T) {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	_, err := bw.Write([]byte(`{"PTLAB_KEY":"compressed"}`))
	require.NoError(t, err)
	require.NoError(t, bw.Close())

	_, server := newOracle(t, func(w http.ResponseWriter, r *http.Request, id string) {
		w.Header().Set("Content-Encoding", "br")
		w.Header().Set("Content-Type", "application/json")
		w.Write(buf.Bytes())
	})

	runner := NewRunner(testTarget(t, server.URL), nil)
	outcome := runner.Probe(context.Background(), observedID)

	assert.Equal(t, OutcomeFound, outcome.Kind)
	assert.JSONEq(t, `{"PTLAB_KEY":"compressed"}`, string(outcome.Body))
}

func TestWithHTTPClient(t *testing.T) {
	_, server := newOracle(t, func(w http.ResponseWriter, r *http.Request, id string) {
		w.Write([]byte(`{"PTLAB_KEY":"x"}`))
	})

	runner := NewRunner(testTarget(t, server.URL), nil, WithHTTPClient(server.Client()))
	outcome := runner.Probe(context.Background(), observedID)

	assert.Equal(t, OutcomeFound, outcome.Kind)
}
