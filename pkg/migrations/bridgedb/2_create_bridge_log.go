package bridgedb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	mghelper "github.com/onebridge/evm-bridge/pkg/pgutil/migrations"
	"github.com/onebridge/evm-bridge/pkg/store"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating bridge_log table...")
		if err := mghelper.CreateSchema(ctx, db, &store.BridgeLogDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &store.BridgeLogDao{}, "user", "from_tx_hash", "to_tx_hash")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping bridge_log table...")
		return mghelper.DropTables(ctx, db, &store.BridgeLogDao{})
	})
}
