// Package flow defines the data model shared by every component of the
// cross-chain USDC flow tracking engine: flow and chain identifiers, stage
// records, backend status snapshots, local polling state, and the
// StoredTransaction aggregate persisted by the transaction store.
package flow

import (
	"time"
)

// Type identifies the direction of a cross-chain flow.
type Type string

const (
	// TypeDeposit moves USDC from an EVM chain through Noble into Namada.
	TypeDeposit Type = "deposit"
	// TypePayment moves USDC from Namada through Noble to an EVM chain.
	TypePayment Type = "payment"
)

// Chain identifies one of the three chains a flow crosses.
type Chain string

const (
	ChainEVM    Chain = "evm"
	ChainNoble  Chain = "noble"
	ChainNamada Chain = "namada"
)

// StageStatus is the lifecycle of a single stage record. The only legal
// transitions are pending -> confirmed and pending -> failed.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageConfirmed StageStatus = "confirmed"
	StageFailed    StageStatus = "failed"
)

// StageSource records which information source produced a stage entry.
type StageSource string

const (
	// SourceClient marks stages observed locally (wallet interaction,
	// gasless-swap progress) before or outside backend visibility.
	SourceClient StageSource = "client"
	// SourcePoller marks stages obtained from backend or local polling.
	SourcePoller StageSource = "poller"
)

// MetadataChainKey is the metadata key under which client-reported stages
// carry their chain, since the canonical chain slot may not be known yet
// when the stage is recorded.
const MetadataChainKey = "chain"

// Stage is a discrete, named milestone within a flow on a specific chain.
type Stage struct {
	StageID    string            `json:"stageId"`
	Chain      Chain             `json:"chain,omitempty"`
	Status     StageStatus       `json:"status"`
	OccurredAt time.Time         `json:"occurredAt"`
	TxHash     string            `json:"txHash,omitempty"`
	Message    string            `json:"message,omitempty"`
	Source     StageSource       `json:"source"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// MetadataChain returns the chain tag stored in the stage's metadata, or ""
// if none was recorded.
func (s Stage) MetadataChain() Chain {
	if s.Chain != "" {
		return s.Chain
	}
	if s.Metadata != nil {
		return Chain(s.Metadata[MetadataChainKey])
	}
	return ""
}

// BackendStatus is the coarse flow status reported by the backend tracking
// API.
type BackendStatus string

const (
	BackendPending      BackendStatus = "pending"
	BackendCompleted    BackendStatus = "completed"
	BackendFailed       BackendStatus = "failed"
	BackendUndetermined BackendStatus = "undetermined"
)

// Terminal reports whether the backend considers the flow finished.
func (s BackendStatus) Terminal() bool {
	return s == BackendCompleted || s == BackendFailed || s == BackendUndetermined
}

// ChainProgress is the backend's view of one chain's progress within a flow.
type ChainProgress struct {
	Stages        []Stage `json:"stages,omitempty"`
	GaslessStages []Stage `json:"gaslessStages,omitempty"`
}

// Status is the backend tracking API's snapshot of one flow. It is cached
// verbatim and treated as a read-only external artifact.
type Status struct {
	Status        BackendStatus           `json:"status"`
	ChainProgress map[Chain]ChainProgress `json:"chainProgress,omitempty"`
}

// LocalStatus is the flow status derived from local polling against chain
// RPCs, used when no backend snapshot is available. It is deliberately a
// distinct enum from BackendStatus.
type LocalStatus string

const (
	LocalPending            LocalStatus = "pending"
	LocalSuccess            LocalStatus = "success"
	LocalTxError            LocalStatus = "tx_error"
	LocalPollingError       LocalStatus = "polling_error"
	LocalPollingTimeout     LocalStatus = "polling_timeout"
	LocalUserActionRequired LocalStatus = "user_action_required"
	LocalCancelled          LocalStatus = "cancelled"
)

// ChainPollingState holds locally-polled stages and metadata for one chain.
type ChainPollingState struct {
	Stages   []Stage           `json:"stages,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PollingState aggregates local polling results for a transaction.
type PollingState struct {
	FlowStatus  LocalStatus                 `json:"flowStatus,omitempty"`
	ChainStatus map[Chain]ChainPollingState `json:"chainStatus,omitempty"`
}

// TrackingState is the registration lifecycle of a flow with the backend.
type TrackingState string

const (
	// TrackingInitiating means the flow exists locally but has not been
	// registered with the backend yet.
	TrackingInitiating TrackingState = "initiating"
	// TrackingActive means the backend issued a flow id and is tracking.
	TrackingActive TrackingState = "tracking"
	// TrackingFailed means registration errored. Terminal for registration
	// only; the flow may still complete via local polling.
	TrackingFailed TrackingState = "failed"
)

// InitiationMetadata describes a flow from the moment it is initiated,
// before any backend call exists. LocalID is client-generated; FlowID is
// backend-assigned and appears only after successful registration.
type InitiationMetadata struct {
	LocalID          string            `json:"localId"`
	FlowID           string            `json:"flowId,omitempty"`
	FlowType         Type              `json:"flowType"`
	InitialChain     string            `json:"initialChain"`
	InitialChainType Chain             `json:"initialChainType"`
	Amount           string            `json:"amount"`
	Token            string            `json:"token"`
	ShieldedMetadata map[string]string `json:"shieldedMetadata,omitempty"`
	InitiatedAt      time.Time         `json:"initiatedAt"`
	Status           TrackingState     `json:"status"`
}

// TxStatus is the coarse top-level status of a stored transaction, used as
// the lowest-priority input to status reconciliation.
type TxStatus string

const (
	StatusIdle               TxStatus = "idle"
	StatusConnectingWallet   TxStatus = "connecting-wallet"
	StatusBuilding           TxStatus = "building"
	StatusSigning            TxStatus = "signing"
	StatusSubmitting         TxStatus = "submitting"
	StatusBroadcasted        TxStatus = "broadcasted"
	StatusFinalized          TxStatus = "finalized"
	StatusError              TxStatus = "error"
	StatusUndetermined       TxStatus = "undetermined"
	StatusUserActionRequired TxStatus = "user_action_required"
)

// DepositDetails carries deposit-specific fields. Populated only when the
// transaction's Direction is TypeDeposit.
type DepositDetails struct {
	SourceAddress     string `json:"sourceAddress,omitempty"`
	ForwardingAddress string `json:"forwardingAddress,omitempty"`
	ShieldedTarget    string `json:"shieldedTarget,omitempty"`
}

// PaymentDetails carries payment-specific fields. Populated only when the
// transaction's Direction is TypePayment.
type PaymentDetails struct {
	Recipient   string `json:"recipient,omitempty"`
	Memo        string `json:"memo,omitempty"`
	GaslessSwap bool   `json:"gaslessSwap,omitempty"`
}

// Transaction is the aggregate root persisted by the transaction store: one
// record per flow, mutated at every phase transition and by stage updates
// from any of the three information sources.
//
// Invariants: at most one of DepositDetails/PaymentDetails is populated,
// matching Direction; ClientStages only ever grows or has individual
// entries' status updated, entries are never removed or reordered.
type Transaction struct {
	ID          string    `json:"id"`
	Direction   Type      `json:"direction"`
	Status      TxStatus  `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Hash        string    `json:"hash,omitempty"`
	BlockHeight uint64    `json:"blockHeight,omitempty"`
	Chain       Chain     `json:"chain,omitempty"`

	FlowID             string              `json:"flowId,omitempty"`
	FlowMetadata       *InitiationMetadata `json:"flowMetadata,omitempty"`
	PollingState       *PollingState       `json:"pollingState,omitempty"`
	FlowStatusSnapshot *Status             `json:"flowStatusSnapshot,omitempty"`
	ClientStages       []Stage             `json:"clientStages,omitempty"`

	DepositDetails *DepositDetails `json:"depositDetails,omitempty"`
	PaymentDetails *PaymentDetails `json:"paymentDetails,omitempty"`
}

// LocalID returns the client-generated flow id, or "" if the transaction
// has no flow metadata.
func (t *Transaction) LocalID() string {
	if t.FlowMetadata == nil {
		return ""
	}
	return t.FlowMetadata.LocalID
}
