package bridgedb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"github.com/onebridge/evm-bridge/pkg/store"
	mghelper "github.com/onebridge/evm-bridge/pkg/pgutil/migrations"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating bridge_state table...")
		return mghelper.CreateSchema(ctx, db, &store.BridgeStateDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping bridge_state table...")
		return mghelper.DropTables(ctx, db, &store.BridgeStateDao{})
	})
}
