// Package backend declares the external collaborators the engine consumes:
// the backend tracking API and the chain configuration service. Both are
// implemented by the host application; the engine only ever holds the
// interfaces and tests supply fakes.
package backend

import (
	"context"

	"github.com/iskay/usdc-flow-engine/flow"
)

// StartTrackingInput describes a flow being registered for backend
// tracking, sent once the first on-chain transaction is broadcast.
type StartTrackingInput struct {
	LocalID          string            `json:"localId"`
	FlowType         flow.Type         `json:"flowType"`
	FirstTxHash      string            `json:"firstTxHash"`
	SourceChain      string            `json:"sourceChain"`
	DestinationChain string            `json:"destinationChain"`
	Amount           string            `json:"amount"`
	Token            string            `json:"token"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// StartTrackingResult carries the backend-issued flow id.
type StartTrackingResult struct {
	ID string `json:"id"`
}

// TrackingClient is the backend tracking API.
type TrackingClient interface {
	// StartFlowTracking registers a flow and returns its backend flow id.
	StartFlowTracking(ctx context.Context, input StartTrackingInput) (*StartTrackingResult, error)

	// GetFlowStatus fetches the backend's current snapshot for a flow.
	GetFlowStatus(ctx context.Context, flowID string) (*flow.Status, error)

	// ReportClientStage forwards a client-observed stage to the backend.
	// Best-effort; callers swallow errors.
	ReportClientStage(ctx context.Context, flowID string, stage flow.Stage) error
}

// ChainConfigProvider resolves default and fallback chain keys, used for
// destination-chain inference during flow registration.
type ChainConfigProvider interface {
	// NamadaChain returns the configured Namada chain key.
	NamadaChain(ctx context.Context) (string, error)

	// DefaultEVMChain returns the configured default EVM chain key.
	DefaultEVMChain(ctx context.Context) (string, error)

	// EVMChains returns all configured EVM chain keys.
	EVMChains(ctx context.Context) ([]string, error)
}
