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
		log.Println("creating bridge_log_user_index table...")
		return mghelper.CreateSchema(ctx, db, &store.BridgeLogUserIndexDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping bridge_log_user_index table...")
		return mghelper.DropTables(ctx, db, &store.BridgeLogUserIndexDao{})
	})
}
