// Package recorder appends locally-observed events (wallet signing,
// gasless-swap progress) to a transaction's client-stage list. Recording is
// best-effort by contract: it never blocks and never fails the caller's
// build/sign/broadcast path, so every failure here is logged and swallowed.
package recorder

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/iskay/usdc-flow-engine/flow"
	"github.com/iskay/usdc-flow-engine/telemetry"
)

// Store is the subset of the transaction store the recorder needs.
type Store interface {
	Get(id string) *flow.Transaction
	GetByLocalID(localID string) *flow.Transaction
	GetByFlowID(flowID string) *flow.Transaction
	AppendClientStage(id string, stage flow.Stage) error
	UpdateClientStageStatus(id, stageID string, status flow.StageStatus) (bool, error)
}

// Details carries the optional attributes of a reported stage.
type Details struct {
	Status   flow.StageStatus
	TxHash   string
	Message  string
	Metadata map[string]string
}

// Recorder records client stages against the store and forwards them
// through the configured sink.
type Recorder struct {
	store   Store
	sink    Sink
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// New creates a Recorder. A nil sink defaults to local-only recording.
func New(store Store, sink Sink, log zerolog.Logger, metrics *telemetry.Metrics) *Recorder {
	if sink == nil {
		sink = &LocalSink{}
	}
	return &Recorder{
		store:   store,
		sink:    sink,
		logger:  log.With().Str("component", "stage_recorder").Logger(),
		metrics: metrics,
	}
}

// ReportStage appends a client stage to the transaction resolved from
// identifier. Resolution order: transaction id, then local flow id, then
// backend flow id; first match wins. An unresolvable identifier is logged
// and dropped.
//
// The chain is stored inside the stage's metadata rather than the chain
// column: client stages are recorded before the engine necessarily knows
// which canonical chain slot they belong to.
func (r *Recorder) ReportStage(identifier string, chain flow.Chain, stageID string, details Details) {
	tx := r.resolve(identifier)
	if tx == nil {
		r.logger.Debug().
			Str("identifier", identifier).
			Str("stage_id", stageID).
			Msg("client stage dropped: no matching transaction")
		return
	}

	status := details.Status
	if status == "" {
		status = flow.StagePending
	}

	metadata := make(map[string]string, len(details.Metadata)+1)
	for k, v := range details.Metadata {
		metadata[k] = v
	}
	if chain != "" {
		metadata[flow.MetadataChainKey] = string(chain)
	}

	stage := flow.Stage{
		StageID:    stageID,
		Status:     status,
		OccurredAt: time.Now(),
		TxHash:     details.TxHash,
		Message:    details.Message,
		Source:     flow.SourceClient,
		Metadata:   metadata,
	}

	if err := r.store.AppendClientStage(tx.ID, stage); err != nil {
		r.logger.Warn().
			Err(err).
			Str("tx_id", tx.ID).
			Str("stage_id", stageID).
			Msg("failed to record client stage")
		return
	}
	r.metrics.IncStageReport()

	if tx.FlowID != "" {
		r.sink.Deliver(tx.FlowID, stage)
	}
}

// UpdateStageStatus overwrites the status of the most recent client stage
// with the given stage id. A missing transaction or stage is logged and
// ignored.
func (r *Recorder) UpdateStageStatus(identifier, stageID string, status flow.StageStatus) {
	tx := r.resolve(identifier)
	if tx == nil {
		r.logger.Debug().
			Str("identifier", identifier).
			Str("stage_id", stageID).
			Msg("stage status update dropped: no matching transaction")
		return
	}

	found, err := r.store.UpdateClientStageStatus(tx.ID, stageID, status)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("tx_id", tx.ID).
			Str("stage_id", stageID).
			Msg("failed to update client stage status")
		return
	}
	if !found {
		r.logger.Debug().
			Str("tx_id", tx.ID).
			Str("stage_id", stageID).
			Msg("stage status update dropped: no matching stage")
	}
}

// ReportWalletStage records a wallet-interaction stage (signing prompts and
// the like). Thin parameter binding over ReportStage.
func (r *Recorder) ReportWalletStage(identifier string, chain flow.Chain, stageID string, status flow.StageStatus) {
	r.ReportStage(identifier, chain, stageID, Details{Status: status})
}

// ReportGaslessStage records gasless-swap progress. Thin parameter binding
// over ReportStage.
func (r *Recorder) ReportGaslessStage(identifier string, chain flow.Chain, stageID string, status flow.StageStatus) {
	r.ReportStage(identifier, chain, stageID, Details{Status: status})
}

func (r *Recorder) resolve(identifier string) *flow.Transaction {
	if identifier == "" {
		return nil
	}
	if tx := r.store.Get(identifier); tx != nil {
		return tx
	}
	if tx := r.store.GetByLocalID(identifier); tx != nil {
		return tx
	}
	return r.store.GetByFlowID(identifier)
}
