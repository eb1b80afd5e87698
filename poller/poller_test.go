package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iskay/usdc-flow-engine/backend"
	"github.com/iskay/usdc-flow-engine/flow"
)

// scriptedClient returns one scripted response per GetFlowStatus call and
// repeats the last entry once the script runs out.
type scriptedClient struct {
	mu     sync.Mutex
	script []scriptedResponse
	calls  int
}

type scriptedResponse struct {
	status *flow.Status
	err    error
}

func pendingStatus() *flow.Status {
	return &flow.Status{Status: flow.BackendPending}
}

func completedStatus() *flow.Status {
	return &flow.Status{Status: flow.BackendCompleted}
}

func (c *scriptedClient) GetFlowStatus(_ context.Context, _ string) (*flow.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.calls
	c.calls++
	if idx >= len(c.script) {
		idx = len(c.script) - 1
	}
	resp := c.script[idx]
	return resp.status, resp.err
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *scriptedClient) StartFlowTracking(context.Context, backend.StartTrackingInput) (*backend.StartTrackingResult, error) {
	return nil, errors.New("not implemented")
}

func (c *scriptedClient) ReportClientStage(context.Context, string, flow.Stage) error {
	return nil
}

func testSettings() Settings {
	return Settings{
		ShortInterval:  20 * time.Millisecond,
		LongInterval:   200 * time.Millisecond,
		SlowThreshold:  10,
		DefaultTimeout: time.Minute,
		CacheTTL:       time.Minute,
	}
}

func newTestPoller(client backend.TrackingClient, settings Settings) *Poller {
	return New(client, settings, zerolog.Nop(), nil)
}

func TestPoller_FirstPollIsImmediate(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{{status: pendingStatus()}}}
	p := newTestPoller(client, testSettings())
	defer p.StopAll()

	updates := make(chan *flow.Status, 1)
	p.StartPolling("flow-1", func(s *flow.Status) {
		select {
		case updates <- s:
		default:
		}
	}, nil, 0)

	select {
	case s := <-updates:
		assert.Equal(t, flow.BackendPending, s.Status)
	case <-time.After(time.Second):
		t.Fatal("first poll did not fire immediately")
	}
	assert.True(t, p.IsPolling("flow-1"))
}

func TestPoller_ErrorsThenTerminal(t *testing.T) {
	fetchErr := errors.New("backend unreachable")
	client := &scriptedClient{script: []scriptedResponse{
		{err: fetchErr},
		{err: fetchErr},
		{err: fetchErr},
		{status: completedStatus()},
	}}
	p := newTestPoller(client, testSettings())
	defer p.StopAll()

	var mu sync.Mutex
	var updates []*flow.Status
	p.StartPolling("flow-1", func(s *flow.Status) {
		mu.Lock()
		updates = append(updates, s)
		mu.Unlock()
	}, nil, 0)

	// Fetch errors keep the cadence going; the terminal status on the
	// fourth poll stops the job.
	require.Eventually(t, func() bool {
		return !p.IsPolling("flow-1")
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 4, client.callCount())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, updates, 1)
	assert.Equal(t, flow.BackendCompleted, updates[0].Status)
}

func TestPoller_StartIsIdempotent(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{{status: pendingStatus()}}}
	p := newTestPoller(client, testSettings())
	defer p.StopAll()

	var mu sync.Mutex
	firstCalls, secondCalls := 0, 0
	p.StartPolling("flow-1", func(*flow.Status) {
		mu.Lock()
		firstCalls++
		mu.Unlock()
	}, nil, 0)

	require.Eventually(t, func() bool {
		return p.PollCount("flow-1") >= 2
	}, 2*time.Second, 5*time.Millisecond)
	countAtReattach := p.PollCount("flow-1")

	// Re-attaching replaces the callback but must not restart the cadence
	// or reset the poll counter.
	p.StartPolling("flow-1", func(*flow.Status) {
		mu.Lock()
		secondCalls++
		mu.Unlock()
	}, nil, 0)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return secondCalls >= 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, p.PollCount("flow-1"), countAtReattach)

	// At most one delivery to the old callback can race the re-attach.
	mu.Lock()
	firstAfter := firstCalls
	mu.Unlock()
	p.StopPolling("flow-1")
	mu.Lock()
	assert.LessOrEqual(t, firstCalls-firstAfter, 1, "old callback kept firing after re-attach")
	mu.Unlock()
}

func TestPoller_StopResetsPollCounter(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{{status: pendingStatus()}}}
	p := newTestPoller(client, testSettings())
	defer p.StopAll()

	p.StartPolling("flow-1", func(*flow.Status) {}, nil, 0)
	require.Eventually(t, func() bool {
		return p.PollCount("flow-1") >= 2
	}, 2*time.Second, 5*time.Millisecond)

	p.StopPolling("flow-1")
	assert.False(t, p.IsPolling("flow-1"))
	assert.Equal(t, 0, p.PollCount("flow-1"))

	// A fresh start is a fresh job with a zeroed counter.
	p.StartPolling("flow-1", func(*flow.Status) {}, nil, 0)
	require.Eventually(t, func() bool {
		count := p.PollCount("flow-1")
		return count >= 1 && count < 5
	}, time.Second, 5*time.Millisecond)
}

// blockingClient parks every GetFlowStatus call until released, so tests
// can hold a fetch in flight across StopPolling and StartPolling.
type blockingClient struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (c *blockingClient) GetFlowStatus(_ context.Context, _ string) (*flow.Status, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	c.entered <- struct{}{}
	<-c.release
	return pendingStatus(), nil
}

func (c *blockingClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *blockingClient) StartFlowTracking(context.Context, backend.StartTrackingInput) (*backend.StartTrackingResult, error) {
	return nil, errors.New("not implemented")
}

func (c *blockingClient) ReportClientStage(context.Context, string, flow.Stage) error {
	return nil
}

func TestPoller_StopDuringFetchThenRestart(t *testing.T) {
	client := &blockingClient{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	settings := testSettings()
	settings.ShortInterval = time.Hour
	p := newTestPoller(client, settings)
	defer p.StopAll()

	var mu sync.Mutex
	staleUpdates, updates := 0, 0
	p.StartPolling("flow-1", func(*flow.Status) {
		mu.Lock()
		staleUpdates++
		mu.Unlock()
	}, nil, 0)
	<-client.entered

	// Stop and restart while the first fetch is still in flight. The stale
	// cycle must die instead of grafting onto the replacement job: a single
	// flow never runs two timer chains.
	p.StopPolling("flow-1")
	p.StartPolling("flow-1", func(*flow.Status) {
		mu.Lock()
		updates++
		mu.Unlock()
	}, nil, 0)
	<-client.entered

	client.release <- struct{}{}
	client.release <- struct{}{}

	require.Eventually(t, func() bool {
		return p.PollCount("flow-1") == 1
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, p.PollCount("flow-1"), "stale cycle scheduled onto the restarted job")
	assert.Equal(t, 2, client.callCount())
	mu.Lock()
	assert.Equal(t, 1, updates)
	assert.Equal(t, 0, staleUpdates, "stopped job's callback fired after restart")
	mu.Unlock()
}

func TestPoller_StopPollingUnknownFlowIsSafe(t *testing.T) {
	p := newTestPoller(&scriptedClient{script: []scriptedResponse{{status: pendingStatus()}}}, testSettings())
	p.StopPolling("never-started")
	assert.False(t, p.IsPolling("never-started"))
}

func TestPoller_TimeoutStopsAndNotifies(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{{status: pendingStatus()}}}
	p := newTestPoller(client, testSettings())
	defer p.StopAll()

	timedOut := make(chan struct{})
	p.StartPolling("flow-1", func(*flow.Status) {}, func() {
		close(timedOut)
	}, 80*time.Millisecond)

	select {
	case <-timedOut:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout callback never fired")
	}

	require.Eventually(t, func() bool {
		return !p.IsPolling("flow-1")
	}, time.Second, 5*time.Millisecond)
}

func TestPoller_ReattachRearmsTimeout(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{{status: pendingStatus()}}}
	p := newTestPoller(client, testSettings())
	defer p.StopAll()

	firstTimeout := make(chan struct{})
	p.StartPolling("flow-1", func(*flow.Status) {}, func() {
		close(firstTimeout)
	}, 100*time.Millisecond)

	// Re-attach with a much longer timeout before the first one fires. The
	// original timer must be disarmed.
	secondTimeout := make(chan struct{})
	p.StartPolling("flow-1", nil, func() {
		close(secondTimeout)
	}, 5*time.Second)

	select {
	case <-firstTimeout:
		t.Fatal("re-armed timeout still fired on the original schedule")
	case <-time.After(300 * time.Millisecond):
	}
	assert.True(t, p.IsPolling("flow-1"))
}

func TestPoller_TerminalStatusDisarmsTimeout(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{{status: completedStatus()}}}
	p := newTestPoller(client, testSettings())
	defer p.StopAll()

	timedOut := make(chan struct{})
	p.StartPolling("flow-1", func(*flow.Status) {}, func() {
		close(timedOut)
	}, 100*time.Millisecond)

	require.Eventually(t, func() bool {
		return !p.IsPolling("flow-1")
	}, time.Second, 5*time.Millisecond)

	select {
	case <-timedOut:
		t.Fatal("timeout fired after the flow already completed")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestPoller_OrphanedJobStops(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{{status: pendingStatus()}}}
	p := newTestPoller(client, testSettings())
	defer p.StopAll()

	// No update callback registered: the first successful poll detects the
	// orphan and tears the job down.
	p.StartPolling("flow-1", nil, nil, 0)

	require.Eventually(t, func() bool {
		return !p.IsPolling("flow-1")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, client.callCount())
}

func TestPoller_CachedStatus(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{{status: completedStatus()}}}
	p := newTestPoller(client, testSettings())
	defer p.StopAll()

	_, ok := p.CachedStatus("flow-1")
	assert.False(t, ok)

	p.StartPolling("flow-1", func(*flow.Status) {}, nil, 0)
	require.Eventually(t, func() bool {
		_, ok := p.CachedStatus("flow-1")
		return ok
	}, time.Second, 5*time.Millisecond)

	// The cache outlives the job so status queries keep working after the
	// flow completes.
	require.Eventually(t, func() bool {
		return !p.IsPolling("flow-1")
	}, time.Second, 5*time.Millisecond)
	cached, ok := p.CachedStatus("flow-1")
	require.True(t, ok)
	assert.Equal(t, flow.BackendCompleted, cached.Status)
}

func TestPoller_EmptyFlowIDIgnored(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{{status: pendingStatus()}}}
	p := newTestPoller(client, testSettings())

	p.StartPolling("", func(*flow.Status) {}, nil, 0)
	assert.False(t, p.IsPolling(""))
	assert.Equal(t, 0, client.callCount())
}

func TestPoller_StopAll(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{{status: pendingStatus()}}}
	p := newTestPoller(client, testSettings())

	p.StartPolling("flow-1", func(*flow.Status) {}, nil, 0)
	p.StartPolling("flow-2", func(*flow.Status) {}, nil, 0)

	p.StopAll()
	assert.False(t, p.IsPolling("flow-1"))
	assert.False(t, p.IsPolling("flow-2"))
}

func TestSettingsFromConfig(t *testing.T) {
	p := newTestPoller(&scriptedClient{script: []scriptedResponse{{status: pendingStatus()}}}, Settings{
		DefaultTimeout: 30 * time.Minute,
	})
	assert.Equal(t, 30*time.Minute, p.DefaultTimeout())
}
