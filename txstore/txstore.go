// Package txstore is the single source of truth for flow transactions. It
// owns persistence and identity resolution: every other component reads
// transactions from here and reports mutations back through the update API.
// The whole collection is serialized as one blob into kvstore.Storage, and
// every write is durable before the call returns.
package txstore

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	engerr "github.com/iskay/usdc-flow-engine/errors"
	"github.com/iskay/usdc-flow-engine/flow"
	"github.com/iskay/usdc-flow-engine/kvstore"
	"github.com/iskay/usdc-flow-engine/reconcile"
	"github.com/iskay/usdc-flow-engine/telemetry"
)

// Store is the persisted collection of flow transactions, keyed by id with
// secondary lookup by local flow id and backend flow id.
type Store struct {
	storage kvstore.Storage
	key     string
	logger  zerolog.Logger
	metrics *telemetry.Metrics

	mu  sync.Mutex
	txs map[string]*flow.Transaction
}

// New creates a Store bound to the given storage key and loads any
// previously persisted collection.
func New(storage kvstore.Storage, key string, log zerolog.Logger, metrics *telemetry.Metrics) (*Store, error) {
	s := &Store{
		storage: storage,
		key:     key,
		logger:  log.With().Str("component", "tx_store").Logger(),
		metrics: metrics,
		txs:     make(map[string]*flow.Transaction),
	}

	blob, found, err := storage.LoadItem(key)
	if err != nil {
		return nil, engerr.Wrap(err, "failed to load transaction collection")
	}
	if found && len(blob) > 0 {
		var txs []*flow.Transaction
		if err := json.Unmarshal(blob, &txs); err != nil {
			return nil, engerr.Wrap(err, "failed to decode transaction collection")
		}
		for _, tx := range txs {
			if tx != nil && tx.ID != "" {
				s.txs[tx.ID] = tx
			}
		}
		s.logger.Info().Int("count", len(s.txs)).Msg("transaction collection loaded")
	}
	return s, nil
}

// Get returns a copy of the transaction with the given id, or nil.
func (s *Store) Get(id string) *flow.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTx(s.txs[id])
}

// GetByLocalID returns a copy of the transaction whose flow metadata
// carries the given client-generated local id, or nil. Linear scan: the
// collection is user-scoped and small.
func (s *Store) GetByLocalID(localID string) *flow.Transaction {
	if localID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if tx.LocalID() == localID {
			return cloneTx(tx)
		}
	}
	return nil
}

// GetByFlowID returns a copy of the transaction tracked under the given
// backend flow id, or nil.
func (s *Store) GetByFlowID(flowID string) *flow.Transaction {
	if flowID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if tx.FlowID == flowID {
			return cloneTx(tx)
		}
		if tx.FlowMetadata != nil && tx.FlowMetadata.FlowID == flowID {
			return cloneTx(tx)
		}
	}
	return nil
}

// Save upserts the transaction by id. The write is durable before Save
// returns.
func (s *Store) Save(tx *flow.Transaction) error {
	if tx == nil || tx.ID == "" {
		return engerr.NewValidationError("", "cannot save transaction without an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneTx(tx)
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.txs[stored.ID] = stored

	return s.persistLocked()
}

// Patch is a shallow field merge applied by Update. Nil fields are left
// untouched; each field in practice has exactly one writer sequence.
type Patch struct {
	Status             *flow.TxStatus
	Hash               *string
	BlockHeight        *uint64
	Chain              *flow.Chain
	FlowID             *string
	FlowMetadata       *flow.InitiationMetadata
	PollingState       *flow.PollingState
	FlowStatusSnapshot *flow.Status
	DepositDetails     *flow.DepositDetails
	PaymentDetails     *flow.PaymentDetails
}

// Update shallow-merges the patch into the stored transaction. A missing id
// is logged and ignored, since many callers update optimistically.
func (s *Store) Update(id string, patch Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		s.logger.Warn().Str("tx_id", id).Msg("update for unknown transaction ignored")
		return
	}

	if patch.Status != nil {
		tx.Status = *patch.Status
	}
	if patch.Hash != nil {
		tx.Hash = *patch.Hash
	}
	if patch.BlockHeight != nil {
		tx.BlockHeight = *patch.BlockHeight
	}
	if patch.Chain != nil {
		tx.Chain = *patch.Chain
	}
	if patch.FlowID != nil {
		tx.FlowID = *patch.FlowID
	}
	if patch.FlowMetadata != nil {
		tx.FlowMetadata = patch.FlowMetadata
	}
	if patch.PollingState != nil {
		tx.PollingState = patch.PollingState
	}
	if patch.FlowStatusSnapshot != nil {
		tx.FlowStatusSnapshot = patch.FlowStatusSnapshot
	}
	if patch.DepositDetails != nil {
		tx.DepositDetails = patch.DepositDetails
	}
	if patch.PaymentDetails != nil {
		tx.PaymentDetails = patch.PaymentDetails
	}
	tx.UpdatedAt = time.Now()

	// Detach the merged record from the caller's patch pointers; stored
	// state must only change through the store.
	s.txs[id] = cloneTx(tx)

	if err := s.persistLocked(); err != nil {
		s.logger.Error().Err(err).Str("tx_id", id).Msg("failed to persist transaction update")
	}
}

// AppendClientStage appends a client-observed stage to the transaction's
// stage list. Client stages only ever grow.
func (s *Store) AppendClientStage(id string, stage flow.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return engerr.NewNotFoundError("", "transaction not found: "+id)
	}

	tx.ClientStages = append(tx.ClientStages, stage)
	tx.UpdatedAt = time.Now()
	return s.persistLocked()
}

// UpdateClientStageStatus overwrites the status of the most recent client
// stage with the given stage id. Returns false when no stage matches.
func (s *Store) UpdateClientStageStatus(id, stageID string, status flow.StageStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return false, engerr.NewNotFoundError("", "transaction not found: "+id)
	}

	for i := len(tx.ClientStages) - 1; i >= 0; i-- {
		if tx.ClientStages[i].StageID == stageID {
			tx.ClientStages[i].Status = status
			tx.UpdatedAt = time.Now()
			return true, s.persistLocked()
		}
	}
	return false, nil
}

// ListAll returns copies of every stored transaction, newest first.
func (s *Store) ListAll() []*flow.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(func(*flow.Transaction) bool { return true })
}

// ListInProgress returns copies of every transaction whose effective status
// is non-terminal, newest first. Derived through the reconciler rather than
// a stored flag, so the store and presentation can never drift.
func (s *Store) ListInProgress() []*flow.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(reconcile.IsInProgress)
}

// Delete removes a single transaction. Intended for explicit user action
// only; automated reconciliation never deletes.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txs[id]; !ok {
		return nil
	}
	delete(s.txs, id)
	return s.persistLocked()
}

// PruneTerminal removes terminal transactions not updated within the
// retention period and returns how many were removed. Invoked explicitly
// by the host, never on a schedule.
func (s *Store) PruneTerminal(retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	removed := 0
	for id, tx := range s.txs {
		if reconcile.IsInProgress(tx) {
			continue
		}
		if tx.UpdatedAt.After(cutoff) {
			continue
		}
		delete(s.txs, id)
		removed++
	}
	if removed == 0 {
		return 0, nil
	}

	s.logger.Info().Int("removed", removed).Msg("pruned terminal transactions")
	return removed, s.persistLocked()
}

func (s *Store) listLocked(keep func(*flow.Transaction) bool) []*flow.Transaction {
	out := make([]*flow.Transaction, 0, len(s.txs))
	for _, tx := range s.txs {
		if keep(tx) {
			out = append(out, cloneTx(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// persistLocked serializes the whole collection and writes it under the
// store's key. Callers hold the mutex.
func (s *Store) persistLocked() error {
	txs := make([]*flow.Transaction, 0, len(s.txs))
	for _, tx := range s.txs {
		txs = append(txs, tx)
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].ID < txs[j].ID })

	blob, err := json.Marshal(txs)
	if err != nil {
		return engerr.Wrap(err, "failed to encode transaction collection")
	}
	if err := s.storage.SaveItem(s.key, blob); err != nil {
		return engerr.Wrap(err, "failed to persist transaction collection")
	}
	s.metrics.IncStoreWrite()
	return nil
}

// cloneTx deep-copies a transaction through its JSON form so callers can
// never mutate the persisted copy directly.
func cloneTx(tx *flow.Transaction) *flow.Transaction {
	if tx == nil {
		return nil
	}
	blob, err := json.Marshal(tx)
	if err != nil {
		return nil
	}
	var out flow.Transaction
	if err := json.Unmarshal(blob, &out); err != nil {
		return nil
	}
	return &out
}
