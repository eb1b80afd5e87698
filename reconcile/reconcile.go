// Package reconcile derives the user-facing view of a flow from three
// possibly-inconsistent sources: the cached backend snapshot, local polling
// state, and client-observed stages. Every function here is pure and never
// errors; absent data yields safe defaults.
package reconcile

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/iskay/usdc-flow-engine/flow"
	"github.com/iskay/usdc-flow-engine/stages"
)

// Client-only ephemeral stage prefixes. These are UI feedback, not flow
// milestones, and never count toward progress.
const (
	WalletStagePrefix  = "wallet_"
	GaslessStagePrefix = "gasless_"
)

// EffectiveStatus reconciles a transaction's status with defined priority:
// the backend snapshot when present, then local polling state, then the
// stored top-level status verbatim.
func EffectiveStatus(tx *flow.Transaction) flow.TxStatus {
	if tx == nil {
		return flow.StatusIdle
	}

	if snap := tx.FlowStatusSnapshot; snap != nil {
		switch snap.Status {
		case flow.BackendCompleted:
			return flow.StatusFinalized
		case flow.BackendFailed:
			return flow.StatusError
		case flow.BackendUndetermined:
			return flow.StatusUndetermined
		default:
			// Backend still pending: broadcasted once any chain shows a
			// confirmed stage, submitting before that.
			if anyConfirmed(snap) {
				return flow.StatusBroadcasted
			}
			return flow.StatusSubmitting
		}
	}

	if ps := tx.PollingState; ps != nil && ps.FlowStatus != "" {
		switch ps.FlowStatus {
		case flow.LocalSuccess:
			return flow.StatusFinalized
		case flow.LocalTxError:
			return flow.StatusError
		case flow.LocalPollingError, flow.LocalPollingTimeout:
			// The transaction may have succeeded; we could not verify.
			return flow.StatusUndetermined
		case flow.LocalUserActionRequired:
			return flow.StatusUserActionRequired
		case flow.LocalCancelled:
			// Resumable, still counted as in-progress.
			return flow.StatusBroadcasted
		}
	}

	return tx.Status
}

// IsTerminal reports whether a status is terminal for presentation
// purposes. Undetermined is terminal but distinct from error: the flow may
// have succeeded on-chain even though verification gave up.
func IsTerminal(status flow.TxStatus) bool {
	switch status {
	case flow.StatusFinalized, flow.StatusError, flow.StatusUndetermined:
		return true
	}
	return false
}

// IsSuccessTerminal reports whether a status is the success terminal.
func IsSuccessTerminal(status flow.TxStatus) bool {
	return status == flow.StatusFinalized
}

// IsInProgress reports whether the transaction's effective status is
// non-terminal.
func IsInProgress(tx *flow.Transaction) bool {
	return !IsTerminal(EffectiveStatus(tx))
}

// TimelineEntry is one stage in the merged, ordered view of a flow.
// Duration is the gap to the next entry, or the elapsed time since the
// entry occurred while it is still pending and last.
type TimelineEntry struct {
	Stage    flow.Stage
	Chain    flow.Chain
	Duration time.Duration
}

// StageTimeline merges client stages, locally-polled stages, and backend
// snapshot stages (including gasless sub-stages) into a single timeline
// ordered by occurrence.
func StageTimeline(tx *flow.Transaction, flowType flow.Type) []TimelineEntry {
	return StageTimelineAt(tx, flowType, time.Now())
}

// StageTimelineAt is StageTimeline with an explicit reference time for the
// trailing pending entry's duration.
func StageTimelineAt(tx *flow.Transaction, flowType flow.Type, now time.Time) []TimelineEntry {
	if tx == nil {
		return nil
	}

	var entries []TimelineEntry
	add := func(st flow.Stage, chain flow.Chain) {
		entries = append(entries, TimelineEntry{
			Stage: st,
			Chain: resolveChain(st, chain, flowType),
		})
	}

	for _, st := range tx.ClientStages {
		add(st, "")
	}
	if ps := tx.PollingState; ps != nil {
		for chain, cs := range ps.ChainStatus {
			for _, st := range cs.Stages {
				add(st, chain)
			}
		}
	}
	if snap := tx.FlowStatusSnapshot; snap != nil {
		for chain, cp := range snap.ChainProgress {
			for _, st := range cp.Stages {
				add(st, chain)
			}
			for _, st := range cp.GaslessStages {
				add(st, chain)
			}
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Stage.OccurredAt.Before(entries[j].Stage.OccurredAt)
	})

	for i := range entries {
		if i+1 < len(entries) {
			entries[i].Duration = entries[i+1].Stage.OccurredAt.Sub(entries[i].Stage.OccurredAt)
			continue
		}
		if entries[i].Stage.Status == flow.StagePending {
			entries[i].Duration = now.Sub(entries[i].Stage.OccurredAt)
		}
	}
	return entries
}

// resolveChain picks the chain slot for a stage: explicit tag first, then
// reverse lookup through the progression table, then the EVM default.
func resolveChain(st flow.Stage, explicit flow.Chain, flowType flow.Type) flow.Chain {
	if explicit != "" {
		return explicit
	}
	if tagged := st.MetadataChain(); tagged != "" {
		return tagged
	}
	if chain := stages.ChainForStage(st.StageID, flowType); chain != "" {
		return chain
	}
	return flow.ChainEVM
}

// ProgressPercentage derives a 0-100 progress value: 100 only on the
// success terminal, 0 on a confirmed error, otherwise the share of expected
// stages confirmed so far, capped at 99 so a last-stage race never flashes
// 100% before completion is confirmed.
func ProgressPercentage(tx *flow.Transaction, flowType flow.Type) int {
	status := EffectiveStatus(tx)
	if IsSuccessTerminal(status) {
		return 100
	}
	if status == flow.StatusError {
		return 0
	}

	expected := stages.ExpectedStageSet(flowType)
	if len(expected) == 0 {
		return 0
	}

	confirmed := make(map[string]struct{})
	for _, entry := range StageTimelineAt(tx, flowType, time.Time{}) {
		st := entry.Stage
		if st.Status != flow.StageConfirmed {
			continue
		}
		if isEphemeralStage(st.StageID) {
			continue
		}
		if _, ok := expected[st.StageID]; !ok {
			continue
		}
		confirmed[st.StageID] = struct{}{}
	}

	pct := int(math.Round(float64(len(confirmed)) / float64(len(expected)) * 100))
	if pct > 99 {
		pct = 99
	}
	return pct
}

func isEphemeralStage(stageID string) bool {
	return strings.HasPrefix(stageID, WalletStagePrefix) ||
		strings.HasPrefix(stageID, GaslessStagePrefix)
}

// CurrentActiveStage returns the first non-terminal timeline entry, or the
// last entry when every stage has settled. Nil when the timeline is empty.
func CurrentActiveStage(tx *flow.Transaction, flowType flow.Type) *TimelineEntry {
	timeline := StageTimeline(tx, flowType)
	if len(timeline) == 0 {
		return nil
	}
	for i := range timeline {
		if timeline[i].Stage.Status == flow.StagePending {
			return &timeline[i]
		}
	}
	return &timeline[len(timeline)-1]
}

// chainETAs is a static per-chain estimate. No dynamic estimation: these
// are coarse ranges shown while a chain's stages are pending.
var chainETAs = map[flow.Chain]string{
	flow.ChainEVM:    "1-3 minutes",
	flow.ChainNoble:  "1-2 minutes",
	flow.ChainNamada: "2-5 minutes",
}

// EstimatedTimeRemaining returns a coarse "N-M minutes" estimate for the
// currently active chain, or "" once the flow is terminal or has no active
// stage.
func EstimatedTimeRemaining(tx *flow.Transaction, flowType flow.Type) string {
	if IsTerminal(EffectiveStatus(tx)) {
		return ""
	}
	active := CurrentActiveStage(tx, flowType)
	if active == nil || active.Stage.Status != flow.StagePending {
		return ""
	}
	return chainETAs[active.Chain]
}

func anyConfirmed(snap *flow.Status) bool {
	for _, cp := range snap.ChainProgress {
		for _, st := range cp.Stages {
			if st.Status == flow.StageConfirmed {
				return true
			}
		}
		for _, st := range cp.GaslessStages {
			if st.Status == flow.StageConfirmed {
				return true
			}
		}
	}
	return false
}
