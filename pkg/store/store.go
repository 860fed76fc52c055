package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uptrace/bun"

	"github.com/onebridge/evm-bridge/pkg/bridge"
)

// ErrLogNotFound is returned when a lookup by tx hash or id finds no
// matching committed record.
var ErrLogNotFound = errors.New("bridge log not found")

// stateRowID is the fixed primary key of the singleton bridge_state
// row.
const stateRowID = 1

// Store is the postgres-backed implementation of the durable store,
// wrapping the three bun-mapped tables.
type Store struct {
	db *bun.DB
}

// NewStore builds a Store over an already-connected bun.DB.
func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func txHashOf(tx bridge.BridgeTx) *string {
	evm, ok := tx.(bridge.EvmTx)
	if !ok {
		return nil
	}
	h := common.Hash(evm.TxHash).Hex()
	return &h
}

// Append implements bridge.Store: it commits a finalized BridgeLog to
// the append-only log. The assigned id is the record's zero-based
// append index; the backing serial column starts at 1, so ids are
// offset by one from the row key.
func (s *Store) Append(ctx context.Context, log bridge.BridgeLog) (uint64, error) {
	payload, err := EncodeBridgeLog(&log)
	if err != nil {
		return 0, fmt.Errorf("encode bridge log: %w", err)
	}

	dao := &BridgeLogDao{
		User:        log.User,
		Payload:     payload,
		FromTxHash:  txHashOf(log.FromTx),
		ToTxHash:    txHashOf(log.ToTx),
		CreatedAt:   log.CreatedAt,
		FinalizedAt: log.FinalizedAt,
	}

	if _, err := s.db.NewInsert().Model(dao).Exec(ctx); err != nil {
		return 0, fmt.Errorf("append bridge log: %w", err)
	}
	return uint64(dao.ID) - 1, nil
}

// IndexUser implements bridge.Store: it records that id belongs to
// user's per-user index set.
func (s *Store) IndexUser(ctx context.Context, user string, id uint64) error {
	_, err := s.db.NewInsert().
		Model(&BridgeLogUserIndexDao{User: user, LogID: int64(id)}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("index user bridge log: %w", err)
	}
	return nil
}

// UserIndex returns the sorted ids of every finalized log belonging to
// user.
func (s *Store) UserIndex(ctx context.Context, user string) ([]uint64, error) {
	var rows []BridgeLogUserIndexDao
	err := s.db.NewSelect().
		Model(&rows).
		Where("\"user\" = ?", user).
		OrderExpr("log_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("user index: %w", err)
	}
	ids := make([]uint64, len(rows))
	for i, r := range rows {
		ids[i] = uint64(r.LogID)
	}
	return ids, nil
}

// daoToBridgeLog decodes a stored row's payload and stitches the
// row's zero-based log id into the result.
func daoToBridgeLog(dao *BridgeLogDao) (bridge.BridgeLog, error) {
	log, err := DecodeBridgeLog(dao.Payload)
	if err != nil {
		return bridge.BridgeLog{}, err
	}
	id := uint64(dao.ID) - 1
	log.ID = &id
	return log, nil
}

// PagedFinalized implements the global finalized-log query: take is
// clamped by the caller; prev, if set, is an exclusive upper bound
// on id (strictly-descending pagination, newest first).
func (s *Store) PagedFinalized(ctx context.Context, take int, prev *uint64) ([]bridge.BridgeLog, error) {
	query := s.db.NewSelect().Model((*BridgeLogDao)(nil)).OrderExpr("id DESC").Limit(take)
	if prev != nil {
		// Exposed ids are row ids minus one, so "id < prev" on the
		// exposed scale is "id <= prev" on the row scale.
		query = query.Where("id <= ?", *prev)
	}

	var daos []BridgeLogDao
	if err := query.Scan(ctx, &daos); err != nil {
		return nil, fmt.Errorf("paged finalized logs: %w", err)
	}

	logs := make([]bridge.BridgeLog, 0, len(daos))
	for i := range daos {
		log, err := daoToBridgeLog(&daos[i])
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, nil
}

// PagedFinalizedForUser implements my_finalized_logs: the same
// pagination law as PagedFinalized, scoped to one user's index.
func (s *Store) PagedFinalizedForUser(ctx context.Context, user string, take int, prev *uint64) ([]bridge.BridgeLog, error) {
	query := s.db.NewSelect().
		Model((*BridgeLogDao)(nil)).
		Where("\"user\" = ?", user).
		OrderExpr("id DESC").
		Limit(take)
	if prev != nil {
		query = query.Where("id <= ?", *prev)
	}

	var daos []BridgeLogDao
	if err := query.Scan(ctx, &daos); err != nil {
		return nil, fmt.Errorf("paged finalized logs for user: %w", err)
	}

	logs := make([]bridge.BridgeLog, 0, len(daos))
	for i := range daos {
		log, err := daoToBridgeLog(&daos[i])
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, nil
}

// ByTxHash implements my_bridge_log(from_tx): lookup by the source
// side's EVM transaction hash.
func (s *Store) ByTxHash(ctx context.Context, hash string) (bridge.BridgeLog, error) {
	dao := new(BridgeLogDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("from_tx_hash = ?", hash).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return bridge.BridgeLog{}, ErrLogNotFound
		}
		return bridge.BridgeLog{}, fmt.Errorf("lookup bridge log by tx hash: %w", err)
	}
	return daoToBridgeLog(dao)
}

// TotalBridgeCount returns the durable log's length, for info()'s
// total_bridge_count.
func (s *Store) TotalBridgeCount(ctx context.Context) (uint64, error) {
	count, err := s.db.NewSelect().Model((*BridgeLogDao)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count bridge log: %w", err)
	}
	return uint64(count), nil
}

// CheckpointState persists a state snapshot into the singleton
// bridge_state row, standing in for the pre_upgrade write.
func (s *Store) CheckpointState(ctx context.Context, snap bridge.Snapshot) error {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encode state snapshot: %w", err)
	}

	dao := &BridgeStateDao{ID: stateRowID, Payload: payload}
	_, err = s.db.NewInsert().
		Model(dao).
		On("CONFLICT (id) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("updated_at = current_timestamp").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("checkpoint state: %w", err)
	}
	return nil
}

// RestoreState loads the most recently checkpointed state snapshot, if
// one exists, standing in for the post_upgrade read.
func (s *Store) RestoreState(ctx context.Context) (*bridge.Snapshot, error) {
	dao := new(BridgeStateDao)
	err := s.db.NewSelect().Model(dao).Where("id = ?", stateRowID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("restore state: %w", err)
	}

	snap, err := decodeSnapshot(dao.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode state snapshot: %w", err)
	}
	return &snap, nil
}
