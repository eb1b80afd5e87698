// Package stages holds the static stage progression model: the ordered,
// canonical stage identifiers expected for each (flow type, chain) pair.
// The tables are consulted defensively from many call sites, so lookups
// never fail; unknown inputs yield empty results.
package stages

import (
	"github.com/iskay/usdc-flow-engine/flow"
)

// Canonical stage identifiers for deposits (EVM -> Noble -> Namada).
const (
	StageEVMBurnPolling    = "evm_burn_polling"
	StageEVMBurnConfirmed  = "evm_burn_confirmed"
	StageNobleMintPolling  = "noble_mint_polling"
	StageNobleCCTPMinted   = "noble_cctp_minted"
	StageNobleFwdPolling   = "noble_forward_polling"
	StageNobleForwarded    = "noble_forwarded"
	StageNamadaRecvPolling = "namada_receive_polling"
	StageNamadaRecvDone    = "namada_receive_confirmed"
)

// Canonical stage identifiers for payments (Namada -> Noble -> EVM).
const (
	StageNamadaTxPolling  = "namada_tx_polling"
	StageNamadaTxDone     = "namada_tx_confirmed"
	StageNobleRecvPolling = "noble_receive_polling"
	StageNobleReceived    = "noble_received"
	StageNobleBurnPolling = "noble_burn_polling"
	StageNobleCCTPBurned  = "noble_cctp_burned"
	StageEVMMintPolling   = "evm_mint_polling"
	StageEVMMintConfirmed = "evm_mint_confirmed"
)

// Sentinel stage identifiers emitted when a flow reaches a terminal state.
const (
	StageCompleted = "completed"
	StageFailed    = "failed"
)

var chainOrders = map[flow.Type][]flow.Chain{
	flow.TypeDeposit: {flow.ChainEVM, flow.ChainNoble, flow.ChainNamada},
	flow.TypePayment: {flow.ChainNamada, flow.ChainNoble, flow.ChainEVM},
}

var progressions = map[flow.Type]map[flow.Chain][]string{
	flow.TypeDeposit: {
		flow.ChainEVM:    {StageEVMBurnPolling, StageEVMBurnConfirmed},
		flow.ChainNoble:  {StageNobleMintPolling, StageNobleCCTPMinted, StageNobleFwdPolling, StageNobleForwarded},
		flow.ChainNamada: {StageNamadaRecvPolling, StageNamadaRecvDone},
	},
	flow.TypePayment: {
		flow.ChainNamada: {StageNamadaTxPolling, StageNamadaTxDone},
		flow.ChainNoble:  {StageNobleRecvPolling, StageNobleReceived, StageNobleBurnPolling, StageNobleCCTPBurned},
		flow.ChainEVM:    {StageEVMMintPolling, StageEVMMintConfirmed},
	},
}

// ChainOrder returns the chains a flow of the given type crosses, in order.
// Unknown flow types return nil.
func ChainOrder(flowType flow.Type) []flow.Chain {
	return chainOrders[flowType]
}

// ExpectedStages returns the ordered canonical stage ids expected for the
// given flow type on the given chain. Unknown inputs return nil.
func ExpectedStages(flowType flow.Type, chain flow.Chain) []string {
	byChain, ok := progressions[flowType]
	if !ok {
		return nil
	}
	return byChain[chain]
}

// ExpectedStageSet returns the union of expected stage ids across all chains
// of the flow type, used as the progress denominator.
func ExpectedStageSet(flowType flow.Type) map[string]struct{} {
	set := make(map[string]struct{})
	for _, chain := range ChainOrder(flowType) {
		for _, id := range ExpectedStages(flowType, chain) {
			set[id] = struct{}{}
		}
	}
	return set
}

// IsValidStage reports whether stageID belongs to the progression for the
// given flow type and chain.
func IsValidStage(stageID string, flowType flow.Type, chain flow.Chain) bool {
	for _, id := range ExpectedStages(flowType, chain) {
		if id == stageID {
			return true
		}
	}
	return false
}

// NextStage returns the stage that follows stageID within its chain's
// progression, or "" when stageID is last, unknown, or the inputs are
// unknown.
func NextStage(stageID string, flowType flow.Type, chain flow.Chain) string {
	expected := ExpectedStages(flowType, chain)
	for i, id := range expected {
		if id == stageID && i+1 < len(expected) {
			return expected[i+1]
		}
	}
	return ""
}

// ChainForStage reverse-looks-up the chain a canonical stage id belongs to
// within the given flow type, or "" when the stage id is not part of the
// progression.
func ChainForStage(stageID string, flowType flow.Type) flow.Chain {
	for _, chain := range ChainOrder(flowType) {
		for _, id := range ExpectedStages(flowType, chain) {
			if id == stageID {
				return chain
			}
		}
	}
	return ""
}

// IsTerminalStage reports whether stageID is one of the terminal sentinel
// identifiers.
func IsTerminalStage(stageID string) bool {
	return stageID == StageCompleted || stageID == StageFailed
}
