package txstore

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iskay/usdc-flow-engine/flow"
	"github.com/iskay/usdc-flow-engine/kvstore"
)

const testKey = "test_transactions"

func newTestStore(t *testing.T) (*Store, kvstore.Storage) {
	t.Helper()
	storage := kvstore.NewMemoryStorage()
	store, err := New(storage, testKey, zerolog.Nop(), nil)
	require.NoError(t, err)
	return store, storage
}

func depositTx(id string) *flow.Transaction {
	return &flow.Transaction{
		ID:        id,
		Direction: flow.TypeDeposit,
		Status:    flow.StatusBuilding,
		FlowMetadata: &flow.InitiationMetadata{
			LocalID:  "local-" + id,
			FlowType: flow.TypeDeposit,
			Status:   flow.TrackingInitiating,
		},
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	store, _ := newTestStore(t)

	tx := depositTx("tx-1")
	require.NoError(t, store.Save(tx))

	got := store.Get("tx-1")
	require.NotNil(t, got)
	assert.Equal(t, "tx-1", got.ID)
	assert.Equal(t, flow.StatusBuilding, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())

	assert.Nil(t, store.Get("missing"))
}

func TestStore_GetReturnsCopy(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Save(depositTx("tx-1")))

	got := store.Get("tx-1")
	got.Status = flow.StatusError
	got.FlowMetadata.LocalID = "tampered"

	fresh := store.Get("tx-1")
	assert.Equal(t, flow.StatusBuilding, fresh.Status)
	assert.Equal(t, "local-tx-1", fresh.FlowMetadata.LocalID)
}

func TestStore_SecondaryLookups(t *testing.T) {
	store, _ := newTestStore(t)

	tx := depositTx("tx-1")
	tx.FlowID = "flow-9"
	tx.FlowMetadata.FlowID = "flow-9"
	require.NoError(t, store.Save(tx))
	require.NoError(t, store.Save(depositTx("tx-2")))

	byLocal := store.GetByLocalID("local-tx-1")
	require.NotNil(t, byLocal)
	assert.Equal(t, "tx-1", byLocal.ID)

	byFlow := store.GetByFlowID("flow-9")
	require.NotNil(t, byFlow)
	assert.Equal(t, "tx-1", byFlow.ID)

	assert.Nil(t, store.GetByLocalID("nope"))
	assert.Nil(t, store.GetByFlowID("nope"))
	assert.Nil(t, store.GetByLocalID(""))
	assert.Nil(t, store.GetByFlowID(""))
}

func TestStore_PersistsAcrossReload(t *testing.T) {
	storage := kvstore.NewMemoryStorage()

	store, err := New(storage, testKey, zerolog.Nop(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(depositTx("tx-1")))
	status := flow.StatusBroadcasted
	store.Update("tx-1", Patch{Status: &status})

	reloaded, err := New(storage, testKey, zerolog.Nop(), nil)
	require.NoError(t, err)

	got := reloaded.Get("tx-1")
	require.NotNil(t, got)
	assert.Equal(t, flow.StatusBroadcasted, got.Status)
	assert.Equal(t, "local-tx-1", got.FlowMetadata.LocalID)
}

func TestStore_UpdateMergesFields(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Save(depositTx("tx-1")))

	hash := "0xabc"
	status := flow.StatusSubmitting
	store.Update("tx-1", Patch{Status: &status, Hash: &hash})

	got := store.Get("tx-1")
	assert.Equal(t, flow.StatusSubmitting, got.Status)
	assert.Equal(t, "0xabc", got.Hash)
	// Untouched fields survive the merge.
	require.NotNil(t, got.FlowMetadata)
	assert.Equal(t, "local-tx-1", got.FlowMetadata.LocalID)
}

func TestStore_UpdateDetachesPatchPointers(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Save(depositTx("tx-1")))

	ps := &flow.PollingState{FlowStatus: flow.LocalPending}
	snap := &flow.Status{Status: flow.BackendPending}
	store.Update("tx-1", Patch{PollingState: ps, FlowStatusSnapshot: snap})

	// Mutating the patch pointers afterwards must not reach stored state.
	ps.FlowStatus = flow.LocalTxError
	snap.Status = flow.BackendFailed

	got := store.Get("tx-1")
	require.NotNil(t, got.PollingState)
	assert.Equal(t, flow.LocalPending, got.PollingState.FlowStatus)
	require.NotNil(t, got.FlowStatusSnapshot)
	assert.Equal(t, flow.BackendPending, got.FlowStatusSnapshot.Status)
}

func TestStore_UpdateUnknownIDIsSilent(t *testing.T) {
	store, _ := newTestStore(t)

	status := flow.StatusError
	// Must not panic or create a record.
	store.Update("missing", Patch{Status: &status})
	assert.Nil(t, store.Get("missing"))
	assert.Empty(t, store.ListAll())
}

func TestStore_ClientStages(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Save(depositTx("tx-1")))

	first := flow.Stage{StageID: "wallet_signing", Status: flow.StagePending, OccurredAt: time.Now(), Source: flow.SourceClient}
	second := flow.Stage{StageID: "wallet_signing", Status: flow.StagePending, OccurredAt: time.Now().Add(time.Second), Source: flow.SourceClient}
	require.NoError(t, store.AppendClientStage("tx-1", first))
	require.NoError(t, store.AppendClientStage("tx-1", second))

	// Most recent matching entry gets the status update.
	found, err := store.UpdateClientStageStatus("tx-1", "wallet_signing", flow.StageConfirmed)
	require.NoError(t, err)
	assert.True(t, found)

	got := store.Get("tx-1")
	require.Len(t, got.ClientStages, 2)
	assert.Equal(t, flow.StagePending, got.ClientStages[0].Status)
	assert.Equal(t, flow.StageConfirmed, got.ClientStages[1].Status)

	found, err = store.UpdateClientStageStatus("tx-1", "no_such_stage", flow.StageFailed)
	require.NoError(t, err)
	assert.False(t, found)

	err = store.AppendClientStage("missing", first)
	assert.Error(t, err)
}

func TestStore_ListInProgress(t *testing.T) {
	store, _ := newTestStore(t)

	active := depositTx("tx-active")
	require.NoError(t, store.Save(active))

	done := depositTx("tx-done")
	done.Status = flow.StatusFinalized
	require.NoError(t, store.Save(done))

	undetermined := depositTx("tx-undetermined")
	undetermined.Status = flow.StatusBroadcasted
	undetermined.PollingState = &flow.PollingState{FlowStatus: flow.LocalPollingTimeout}
	require.NoError(t, store.Save(undetermined))

	inProgress := store.ListInProgress()
	require.Len(t, inProgress, 1)
	assert.Equal(t, "tx-active", inProgress[0].ID)

	assert.Len(t, store.ListAll(), 3)
}

func TestStore_Delete(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Save(depositTx("tx-1")))

	require.NoError(t, store.Delete("tx-1"))
	assert.Nil(t, store.Get("tx-1"))

	// Deleting a missing id is not an error.
	require.NoError(t, store.Delete("tx-1"))
}

func TestStore_PruneTerminal(t *testing.T) {
	store, _ := newTestStore(t)

	old := depositTx("tx-old")
	old.Status = flow.StatusFinalized
	require.NoError(t, store.Save(old))

	active := depositTx("tx-active")
	require.NoError(t, store.Save(active))

	// Nothing is old enough yet.
	removed, err := store.PruneTerminal(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	// With zero retention every terminal transaction qualifies.
	removed, err = store.PruneTerminal(-time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Nil(t, store.Get("tx-old"))
	assert.NotNil(t, store.Get("tx-active"))
}

func TestStore_SaveRequiresID(t *testing.T) {
	store, _ := newTestStore(t)
	assert.Error(t, store.Save(&flow.Transaction{}))
	assert.Error(t, store.Save(nil))
}
