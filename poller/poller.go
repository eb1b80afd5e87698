// Package poller schedules background polling of the backend tracking API,
// one job per backend flow id. A poll only schedules its successor after it
// completes, so cycles for the same flow never overlap; fetch errors are
// folded into the same cadence so an unreachable backend settles to the
// slow interval instead of hot-looping.
package poller

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/iskay/usdc-flow-engine/backend"
	"github.com/iskay/usdc-flow-engine/config"
	"github.com/iskay/usdc-flow-engine/flow"
	"github.com/iskay/usdc-flow-engine/telemetry"
)

// UpdateFunc receives each successfully fetched backend snapshot.
type UpdateFunc func(status *flow.Status)

// TimeoutFunc is invoked when a flow's polling timeout fires. It signals
// "gave up, fall back to manual verification" as opposed to "still
// tracking, just slow"; the flow's last known state is left untouched.
type TimeoutFunc func()

// Poller runs one polling job per backend flow id and caches the latest
// snapshot per flow, last-value-wins.
type Poller struct {
	client  backend.TrackingClient
	cache   *gocache.Cache
	logger  zerolog.Logger
	metrics *telemetry.Metrics

	shortInterval  time.Duration
	longInterval   time.Duration
	slowThreshold  int
	defaultTimeout time.Duration

	mu   sync.Mutex
	jobs map[string]*pollJob
}

type pollJob struct {
	flowID       string
	pollCount    int
	startedAt    time.Time
	onUpdate     UpdateFunc
	onTimeout    TimeoutFunc
	pollTimer    *time.Timer
	timeoutTimer *time.Timer
}

// Settings holds the poller's cadence and cache parameters.
type Settings struct {
	ShortInterval  time.Duration // cadence for the first SlowThreshold polls
	LongInterval   time.Duration // cadence thereafter
	SlowThreshold  int           // polls before slowing down
	DefaultTimeout time.Duration // per-flow timeout when callers pass none
	CacheTTL       time.Duration // status cache retention
}

// SettingsFromConfig derives poller settings from the engine config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		ShortInterval:  cfg.ShortPollInterval(),
		LongInterval:   cfg.LongPollInterval(),
		SlowThreshold:  cfg.SlowPollThreshold,
		DefaultTimeout: cfg.DefaultPollTimeout(),
		CacheTTL:       cfg.StatusCacheTTL(),
	}
}

// New creates a Poller with the given cadence settings.
func New(client backend.TrackingClient, settings Settings, log zerolog.Logger, metrics *telemetry.Metrics) *Poller {
	ttl := settings.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Poller{
		client:         client,
		cache:          gocache.New(ttl, 2*ttl),
		logger:         log.With().Str("component", "flow_poller").Logger(),
		metrics:        metrics,
		shortInterval:  settings.ShortInterval,
		longInterval:   settings.LongInterval,
		slowThreshold:  settings.SlowThreshold,
		defaultTimeout: settings.DefaultTimeout,
		jobs:           make(map[string]*pollJob),
	}
}

// StartPolling begins (or re-attaches to) the polling job for flowID.
//
// If the flow is already being polled this replaces whichever callbacks are
// supplied and, when timeout is positive, re-arms the timeout timer; the
// poll cadence itself is not restarted. For a new flow the first poll is
// issued immediately, with no initial delay. A timeout of zero disables the
// timeout timer entirely.
func (p *Poller) StartPolling(flowID string, onUpdate UpdateFunc, onTimeout TimeoutFunc, timeout time.Duration) {
	if flowID == "" {
		p.logger.Warn().Msg("start polling ignored: empty flow id")
		return
	}

	p.mu.Lock()
	if job, ok := p.jobs[flowID]; ok {
		if onUpdate != nil {
			job.onUpdate = onUpdate
		}
		if onTimeout != nil {
			job.onTimeout = onTimeout
		}
		if timeout > 0 {
			if job.timeoutTimer != nil {
				job.timeoutTimer.Stop()
			}
			job.timeoutTimer = time.AfterFunc(timeout, func() { p.handleTimeout(job) })
		}
		p.mu.Unlock()

		p.logger.Debug().Str("flow_id", flowID).Msg("re-attached to existing polling job")
		return
	}

	job := &pollJob{
		flowID:    flowID,
		startedAt: time.Now(),
		onUpdate:  onUpdate,
		onTimeout: onTimeout,
	}
	if timeout > 0 {
		job.timeoutTimer = time.AfterFunc(timeout, func() { p.handleTimeout(job) })
	}
	p.jobs[flowID] = job
	p.mu.Unlock()

	p.metrics.AddActiveJobs(1)
	p.logger.Info().
		Str("flow_id", flowID).
		Dur("timeout", timeout).
		Msg("polling started")

	go p.poll(job)
}

// StopPolling clears the poll timer, timeout timer, and all per-flow
// bookkeeping for flowID. Safe to call whether or not the flow is polled.
func (p *Poller) StopPolling(flowID string) {
	p.mu.Lock()
	job, ok := p.jobs[flowID]
	if ok {
		p.stopLocked(job)
	}
	p.mu.Unlock()

	if ok {
		p.logger.Info().Str("flow_id", flowID).Msg("polling stopped")
	}
}

// StopAll stops every active polling job; used on engine shutdown.
func (p *Poller) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, job := range p.jobs {
		p.stopLocked(job)
	}
}

// IsPolling reports whether flowID has an active polling job.
func (p *Poller) IsPolling(flowID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.jobs[flowID]
	return ok
}

// PollCount returns how many polls have completed for flowID in the
// current job.
func (p *Poller) PollCount(flowID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if job, ok := p.jobs[flowID]; ok {
		return job.pollCount
	}
	return 0
}

// CachedStatus returns the most recently fetched snapshot for flowID, if
// one is still cached.
func (p *Poller) CachedStatus(flowID string) (*flow.Status, bool) {
	v, ok := p.cache.Get(flowID)
	if !ok {
		return nil, false
	}
	status, ok := v.(*flow.Status)
	return status, ok
}

// DefaultTimeout returns the configured per-flow polling timeout.
func (p *Poller) DefaultTimeout() time.Duration {
	return p.defaultTimeout
}

// poll runs one cycle for a job: fetch, cache, notify, then either stop or
// schedule the successor. Every step re-checks that the job is still the
// one registered for its flow id; a cycle whose fetch was in flight when
// the job was stopped (or stopped and restarted) must die silently instead
// of grafting itself onto the replacement job's timer chain.
func (p *Poller) poll(job *pollJob) {
	flowID := job.flowID
	if !p.isCurrent(job) {
		return
	}

	p.metrics.IncPoll()
	status, err := p.client.GetFlowStatus(context.Background(), flowID)
	if err != nil {
		// Errors count toward the backoff schedule: a persistently
		// unreachable backend settles to the slow interval.
		p.metrics.IncPollError()
		p.logger.Warn().
			Err(err).
			Str("flow_id", flowID).
			Msg("flow status fetch failed")
		p.scheduleNext(job)
		return
	}

	p.mu.Lock()
	if p.jobs[flowID] != job {
		// Stopped or replaced while the fetch was in flight.
		p.mu.Unlock()
		return
	}
	p.cache.Set(flowID, status, gocache.DefaultExpiration)
	onUpdate := job.onUpdate
	if onUpdate == nil {
		// Nobody is listening: treat as an orphaned job and stop rather
		// than leak a timer chain.
		p.stopLocked(job)
		p.mu.Unlock()
		p.logger.Warn().Str("flow_id", flowID).Msg("no update callback registered, stopping orphaned polling job")
		return
	}
	p.mu.Unlock()

	onUpdate(status)

	if status.Status.Terminal() {
		p.StopPolling(flowID)
		p.logger.Info().
			Str("flow_id", flowID).
			Str("status", string(status.Status)).
			Msg("flow reached terminal backend status")
		return
	}

	p.scheduleNext(job)
}

// scheduleNext increments the poll counter and arms the next poll timer:
// the short interval for the first slowThreshold polls, the long interval
// thereafter. A job that is no longer registered schedules nothing.
func (p *Poller) scheduleNext(job *pollJob) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.jobs[job.flowID] != job {
		return
	}

	job.pollCount++
	interval := p.shortInterval
	if job.pollCount > p.slowThreshold {
		interval = p.longInterval
	}
	job.pollTimer = time.AfterFunc(interval, func() { p.poll(job) })
}

// handleTimeout fires when a job's one-shot timeout timer elapses while the
// job is still registered.
func (p *Poller) handleTimeout(job *pollJob) {
	p.mu.Lock()
	if p.jobs[job.flowID] != job {
		p.mu.Unlock()
		return
	}
	onTimeout := job.onTimeout
	count := job.pollCount
	p.stopLocked(job)
	p.mu.Unlock()

	p.logger.Warn().
		Str("flow_id", job.flowID).
		Int("polls", count).
		Msg("polling timed out")

	if onTimeout != nil {
		onTimeout()
	}
}

// isCurrent reports whether job is still the registered job for its flow
// id.
func (p *Poller) isCurrent(job *pollJob) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobs[job.flowID] == job
}

// stopLocked tears down a job's timers and bookkeeping. Callers hold the
// mutex.
func (p *Poller) stopLocked(job *pollJob) {
	if job.pollTimer != nil {
		job.pollTimer.Stop()
	}
	if job.timeoutTimer != nil {
		job.timeoutTimer.Stop()
	}
	delete(p.jobs, job.flowID)
	p.metrics.AddActiveJobs(-1)
}
