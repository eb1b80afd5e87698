// Package initiation creates local flow records before any backend call
// exists and upgrades them with a backend-issued flow id once the first
// on-chain transaction is broadcast. Registration failure is terminal for
// registration only: the metadata is retained and the flow can still
// complete through local polling.
package initiation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iskay/usdc-flow-engine/backend"
	"github.com/iskay/usdc-flow-engine/config"
	engerr "github.com/iskay/usdc-flow-engine/errors"
	"github.com/iskay/usdc-flow-engine/flow"
	"github.com/iskay/usdc-flow-engine/txstore"
)

// DestinationChainKey is the extra-metadata key a payment caller may use to
// name the destination chain explicitly.
const DestinationChainKey = "destinationChain"

// Initiator drives the flow registration state machine
// (initiating -> tracking | failed).
type Initiator struct {
	store  *txstore.Store
	client backend.TrackingClient
	chains backend.ChainConfigProvider
	cfg    *config.Config
	logger zerolog.Logger
}

// New creates an Initiator.
func New(
	store *txstore.Store,
	client backend.TrackingClient,
	chains backend.ChainConfigProvider,
	cfg *config.Config,
	log zerolog.Logger,
) *Initiator {
	return &Initiator{
		store:  store,
		client: client,
		chains: chains,
		cfg:    cfg,
		logger: log.With().Str("component", "flow_initiator").Logger(),
	}
}

// CreateInput describes a flow at the moment the user initiates it.
type CreateInput struct {
	FlowType         flow.Type
	InitialChain     string
	InitialChainType flow.Chain
	Amount           string
	Token            string
	ShieldedMetadata map[string]string
}

// CreateFlowMetadata generates a local flow id and a fully-populated
// initiation record with no backend flow id yet. The caller attaches it to
// the transaction's flow metadata through the store.
func (i *Initiator) CreateFlowMetadata(in CreateInput) *flow.InitiationMetadata {
	meta := &flow.InitiationMetadata{
		LocalID:          uuid.NewString(),
		FlowType:         in.FlowType,
		InitialChain:     in.InitialChain,
		InitialChainType: in.InitialChainType,
		Amount:           in.Amount,
		Token:            in.Token,
		ShieldedMetadata: in.ShieldedMetadata,
		InitiatedAt:      time.Now(),
		Status:           flow.TrackingInitiating,
	}

	i.logger.Debug().
		Str("local_id", meta.LocalID).
		Str("flow_type", string(meta.FlowType)).
		Msg("flow metadata created")
	return meta
}

// RegisterWithBackend registers a broadcast flow with the backend tracking
// API and stores the returned flow id. An unknown transaction id or missing
// flow metadata is a programmer error and returns a FlowError; a backend
// failure marks the metadata failed but retains it for retry or local-only
// tracking.
func (i *Initiator) RegisterWithBackend(
	ctx context.Context,
	txID, firstTxHash string,
	extra map[string]string,
) (string, error) {
	tx := i.store.Get(txID)
	if tx == nil {
		return "", engerr.NewNotFoundError("", "transaction not found: "+txID)
	}
	if tx.FlowMetadata == nil {
		return "", engerr.NewValidationError("", "transaction has no flow metadata: "+txID)
	}

	meta := *tx.FlowMetadata
	destination := i.resolveDestinationChain(ctx, meta.FlowType, extra)

	result, err := i.client.StartFlowTracking(ctx, backend.StartTrackingInput{
		LocalID:          meta.LocalID,
		FlowType:         meta.FlowType,
		FirstTxHash:      firstTxHash,
		SourceChain:      meta.InitialChain,
		DestinationChain: destination,
		Amount:           meta.Amount,
		Token:            meta.Token,
		Metadata:         extra,
	})
	if err != nil {
		// Keep the metadata: the flow is not lost, only registration is.
		meta.Status = flow.TrackingFailed
		i.store.Update(txID, txstore.Patch{FlowMetadata: &meta})

		i.logger.Warn().
			Err(err).
			Str("tx_id", txID).
			Str("local_id", meta.LocalID).
			Msg("flow registration failed, falling back to local tracking")
		return "", engerr.WrapFlowError(err, engerr.ErrCodeNetwork, "", "failed to register flow with backend")
	}

	meta.FlowID = result.ID
	meta.Status = flow.TrackingActive
	flowID := result.ID
	i.store.Update(txID, txstore.Patch{FlowMetadata: &meta, FlowID: &flowID})

	i.logger.Info().
		Str("tx_id", txID).
		Str("flow_id", flowID).
		Str("destination_chain", destination).
		Msg("flow registered with backend")
	return flowID, nil
}

// resolveDestinationChain infers the destination chain for registration.
// Deposits always land on the configured Namada chain; payments use
// caller-supplied metadata, then the configured default EVM chain, then the
// first configured EVM chain. Every fallback step is logged as a warning.
func (i *Initiator) resolveDestinationChain(ctx context.Context, flowType flow.Type, extra map[string]string) string {
	if flowType == flow.TypeDeposit {
		chain, err := i.chains.NamadaChain(ctx)
		if err == nil && chain != "" {
			return chain
		}
		i.logger.Warn().
			Err(err).
			Str("fallback", i.cfg.FallbackNamadaChain).
			Msg("namada chain config unavailable, using hardcoded testnet chain")
		return i.cfg.FallbackNamadaChain
	}

	if dest := extra[DestinationChainKey]; dest != "" {
		return dest
	}
	i.logger.Warn().Msg("payment destination chain not supplied, trying configured default")

	if chain, err := i.chains.DefaultEVMChain(ctx); err == nil && chain != "" {
		return chain
	}
	i.logger.Warn().Msg("default EVM chain unavailable, trying first configured EVM chain")

	if chains, err := i.chains.EVMChains(ctx); err == nil && len(chains) > 0 {
		return chains[0]
	}
	i.logger.Warn().
		Str("fallback", i.cfg.FallbackEVMChain).
		Msg("no configured EVM chains, using hardcoded fallback")
	return i.cfg.FallbackEVMChain
}
