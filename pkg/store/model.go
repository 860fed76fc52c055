package store

import "time"

// BridgeStateDao maps to the 'bridge_state' table: a single-row blob
// holding the latest state checkpoint. Row id is always 1; writes
// upsert in place.
type BridgeStateDao struct {
	tableName struct{}  `bun:"table:bridge_state"` //nolint:unused // bun table-mapping marker.
	ID        int64     `bun:",pk"`
	Payload   []byte    `bun:",notnull,type:bytea"`
	UpdatedAt time.Time `bun:",nullzero,default:current_timestamp"`
}

// BridgeLogDao maps to the 'bridge_log' table: the append-only stable
// log of committed BridgeLog records. Payload carries the msgpack
// dual-named encoding; user/created_at/finalized_at
// are denormalized alongside it so pagination and lookups don't need
// to decode every row's payload.
type BridgeLogDao struct {
	tableName   struct{}  `bun:"table:bridge_log"` //nolint:unused // bun table-mapping marker.
	ID          int64     `bun:",pk,autoincrement"`
	User        string    `bun:",notnull"`
	Payload     []byte    `bun:",notnull,type:bytea"`
	FromTxHash  *string   `bun:",type:varchar(66)"`
	ToTxHash    *string   `bun:",type:varchar(66)"`
	CreatedAt   int64     `bun:",notnull"`
	FinalizedAt int64     `bun:",notnull"`
	InsertedAt  time.Time `bun:",nullzero,default:current_timestamp"`
}

// BridgeLogUserIndexDao maps to the 'bridge_log_user_index' table: the
// stable-map segment, a per-user set of finalized log
// ids. One row per (user, log id) pair rather than a single array
// column, so concurrent appends never need a read-modify-write on the
// same row.
type BridgeLogUserIndexDao struct {
	tableName struct{} `bun:"table:bridge_log_user_index"` //nolint:unused // bun table-mapping marker.
	User      string   `bun:",pk"`
	LogID     int64    `bun:",pk"`
}
