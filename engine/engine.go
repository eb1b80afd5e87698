// Package engine is the composition root of the flow tracking engine. The
// host application constructs one Engine per user session and passes it
// down; all services (store, poller, recorder, initiator) live on it as a
// single long-lived instance instead of package-level singletons.
package engine

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/iskay/usdc-flow-engine/backend"
	"github.com/iskay/usdc-flow-engine/config"
	engerr "github.com/iskay/usdc-flow-engine/errors"
	"github.com/iskay/usdc-flow-engine/flow"
	"github.com/iskay/usdc-flow-engine/initiation"
	"github.com/iskay/usdc-flow-engine/kvstore"
	"github.com/iskay/usdc-flow-engine/logger"
	"github.com/iskay/usdc-flow-engine/poller"
	"github.com/iskay/usdc-flow-engine/reconcile"
	"github.com/iskay/usdc-flow-engine/recorder"
	"github.com/iskay/usdc-flow-engine/telemetry"
	"github.com/iskay/usdc-flow-engine/txstore"
)

// Options configures a new Engine. Storage, Backend and Chains are
// required; everything else has a default.
type Options struct {
	Config  *config.Config
	Storage kvstore.Storage
	Backend backend.TrackingClient
	Chains  backend.ChainConfigProvider

	// Logger is used by every component. Nil builds one from the config's
	// log settings.
	Logger *zerolog.Logger

	// Metrics optionally registers the engine's collectors. Nil disables
	// registration but keeps counters usable.
	Metrics prometheus.Registerer

	// RemoteStageReporting selects the client-stage recording strategy:
	// when true, recorded stages are additionally reported to the backend.
	RemoteStageReporting bool
}

// Engine owns the engine's services and wires them together.
type Engine struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *telemetry.Metrics

	store     *txstore.Store
	poller    *poller.Poller
	recorder  *recorder.Recorder
	initiator *initiation.Initiator
}

// New constructs the engine: loads the persisted transaction collection,
// then builds the poller, recorder, and initiator around it.
func New(opts Options) (*Engine, error) {
	if opts.Storage == nil {
		return nil, engerr.NewValidationError("", "engine requires storage")
	}
	if opts.Backend == nil {
		return nil, engerr.NewValidationError("", "engine requires a backend tracking client")
	}
	if opts.Chains == nil {
		return nil, engerr.NewValidationError("", "engine requires a chain config provider")
	}

	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadDefaultConfig()
		if err != nil {
			return nil, engerr.Wrap(err, "failed to load default config")
		}
		cfg = loaded
	}

	metrics := telemetry.New(opts.Metrics)

	baseLog := opts.Logger
	if baseLog == nil {
		built := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogSampler)
		baseLog = &built
	}
	log := baseLog.With().Str("component", "flow_engine").Logger()

	store, err := txstore.New(opts.Storage, cfg.TransactionsStorageKey, *baseLog, metrics)
	if err != nil {
		return nil, engerr.Wrap(err, "failed to open transaction store")
	}

	var sink recorder.Sink = recorder.LocalSink{}
	if opts.RemoteStageReporting {
		sink = recorder.NewRemoteSink(opts.Backend, *baseLog)
	}

	return &Engine{
		cfg:       cfg,
		logger:    log,
		metrics:   metrics,
		store:     store,
		poller:    poller.New(opts.Backend, poller.SettingsFromConfig(cfg), *baseLog, metrics),
		recorder:  recorder.New(store, sink, *baseLog, metrics),
		initiator: initiation.New(store, opts.Backend, opts.Chains, cfg, *baseLog),
	}, nil
}

// Store returns the transaction store.
func (e *Engine) Store() *txstore.Store { return e.store }

// Poller returns the flow status poller.
func (e *Engine) Poller() *poller.Poller { return e.poller }

// Recorder returns the client stage recorder.
func (e *Engine) Recorder() *recorder.Recorder { return e.recorder }

// Initiator returns the flow initiator.
func (e *Engine) Initiator() *initiation.Initiator { return e.initiator }

// StartTracking registers the transaction's flow with the backend and, on
// success, begins polling it with the engine's default callbacks.
func (e *Engine) StartTracking(ctx context.Context, txID, firstTxHash string, extra map[string]string) (string, error) {
	flowID, err := e.initiator.RegisterWithBackend(ctx, txID, firstTxHash, extra)
	if err != nil {
		return "", err
	}
	e.TrackFlow(txID, flowID)
	return flowID, nil
}

// TrackFlow starts polling flowID, writing each snapshot back onto the
// transaction and marking the polling state timed out if the poller gives
// up. Re-attaching to an already polled flow refreshes the callbacks only.
func (e *Engine) TrackFlow(txID, flowID string) {
	onUpdate := func(status *flow.Status) {
		e.store.Update(txID, txstore.Patch{FlowStatusSnapshot: status})
	}
	onTimeout := func() {
		e.markPollingTimeout(txID)
	}
	e.poller.StartPolling(flowID, onUpdate, onTimeout, e.cfg.DefaultPollTimeout())
}

// ResumeTracking restarts polling for every in-progress transaction that
// has a backend flow id. Called once after construction so flows survive
// page reloads; returns the number of flows resumed.
func (e *Engine) ResumeTracking() int {
	resumed := 0
	for _, tx := range e.store.ListInProgress() {
		if tx.FlowID == "" {
			continue
		}
		e.TrackFlow(tx.ID, tx.FlowID)
		resumed++
	}
	if resumed > 0 {
		e.logger.Info().Int("flows", resumed).Msg("resumed tracking in-progress flows")
	}
	return resumed
}

// Status returns the reconciled effective status for a transaction, or
// StatusIdle when the id is unknown.
func (e *Engine) Status(txID string) flow.TxStatus {
	return reconcile.EffectiveStatus(e.store.Get(txID))
}

// Progress returns the reconciled progress percentage for a transaction.
func (e *Engine) Progress(txID string) int {
	tx := e.store.Get(txID)
	if tx == nil {
		return 0
	}
	return reconcile.ProgressPercentage(tx, tx.Direction)
}

// Timeline returns the merged stage timeline for a transaction.
func (e *Engine) Timeline(txID string) []reconcile.TimelineEntry {
	tx := e.store.Get(txID)
	if tx == nil {
		return nil
	}
	return reconcile.StageTimeline(tx, tx.Direction)
}

// EstimatedTimeRemaining returns the coarse ETA string for a transaction.
func (e *Engine) EstimatedTimeRemaining(txID string) string {
	tx := e.store.Get(txID)
	if tx == nil {
		return ""
	}
	return reconcile.EstimatedTimeRemaining(tx, tx.Direction)
}

// PruneTerminal removes terminal transactions older than the configured
// retention period. Exposed for explicit host invocation only.
func (e *Engine) PruneTerminal() (int, error) {
	return e.store.PruneTerminal(e.cfg.RetentionPeriod())
}

// Close stops all polling jobs. The store needs no teardown; every write
// is already durable.
func (e *Engine) Close() {
	e.poller.StopAll()
}

// markPollingTimeout folds a polling timeout into the transaction's local
// polling state without touching its last known stages.
func (e *Engine) markPollingTimeout(txID string) {
	tx := e.store.Get(txID)
	if tx == nil {
		return
	}

	ps := tx.PollingState
	if ps == nil {
		ps = &flow.PollingState{}
	}
	ps.FlowStatus = flow.LocalPollingTimeout
	e.store.Update(txID, txstore.Patch{PollingState: ps})

	e.logger.Warn().
		Str("tx_id", txID).
		Time("updated_at", time.Now()).
		Msg("flow polling timed out, manual verification required")
}
