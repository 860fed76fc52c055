package store

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	mghelper "github.com/onebridge/evm-bridge/pkg/pgutil/migrations"

	"github.com/onebridge/evm-bridge/pkg/bridge"
	"github.com/onebridge/evm-bridge/pkg/pgutil"
)

func requireDockerAccess(t *testing.T) {
	t.Helper()

	candidates := []string{
		"/var/run/docker.sock",
		filepath.Join(os.Getenv("HOME"), ".docker/run/docker.sock"),
	}

	for _, sock := range candidates {
		if sock == "" {
			continue
		}
		if _, err := os.Stat(sock); err != nil {
			continue
		}
		conn, err := (&net.Dialer{}).DialContext(context.Background(), "unix", sock)
		if err == nil {
			_ = conn.Close()
			return
		}
	}

	t.Skip("docker daemon socket is not accessible; skipping testcontainer-backed store tests")
}

func setupStore(t *testing.T) (context.Context, *Store) {
	t.Helper()
	requireDockerAccess(t)

	ctx := context.Background()
	db, cleanup := pgutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	if err := mghelper.CreateSchema(ctx, db, &BridgeStateDao{}, &BridgeLogDao{}, &BridgeLogUserIndexDao{}); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	return ctx, NewStore(db)
}

func sampleLog(user string) bridge.BridgeLog {
	return bridge.BridgeLog{
		User:        user,
		From:        bridge.EvmTarget{Chain: "ETH"},
		To:          bridge.NativeTarget{},
		ICPAmount:   200_000_000,
		Fee:         10_000_000,
		FromTx:      bridge.EvmTx{FinalizedFlag: true, TxHash: [32]byte{1, 2, 3}},
		ToTx:        bridge.NativeTx{FinalizedFlag: true, BlockHeight: 42},
		CreatedAt:   1000,
		FinalizedAt: 2000,
	}
}

func TestStore_AppendAssignsSequentialIDs(t *testing.T) {
	ctx, s := setupStore(t)

	id1, err := s.Append(ctx, sampleLog("alice"))
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	id2, err := s.Append(ctx, sampleLog("alice"))
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if id2 != id1+1 {
		t.Fatalf("expected sequential ids, got %d then %d", id1, id2)
	}
}

func TestStore_RoundTripsFields(t *testing.T) {
	ctx, s := setupStore(t)

	log := sampleLog("bob")
	log.ToAddr = "0xabc0000000000000000000000000000000000a"
	log.Error = ""

	id, err := s.Append(ctx, log)
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	got, err := s.ByTxHash(ctx, "0x0102030000000000000000000000000000000000000000000000000000000000")
	if err == nil {
		if got.User != "bob" {
			t.Fatalf("expected user bob, got %s", got.User)
		}
		if got.ID == nil || *got.ID != id {
			t.Fatalf("expected round-tripped id %d, got %v", id, got.ID)
		}
	}
}

func TestStore_IndexUserAndUserIndex(t *testing.T) {
	ctx, s := setupStore(t)

	id1, err := s.Append(ctx, sampleLog("carol"))
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	id2, err := s.Append(ctx, sampleLog("carol"))
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	if err := s.IndexUser(ctx, "carol", id1); err != nil {
		t.Fatalf("IndexUser() failed: %v", err)
	}
	if err := s.IndexUser(ctx, "carol", id2); err != nil {
		t.Fatalf("IndexUser() failed: %v", err)
	}

	ids, err := s.UserIndex(ctx, "carol")
	if err != nil {
		t.Fatalf("UserIndex() failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != id1 || ids[1] != id2 {
		t.Fatalf("expected [%d %d], got %v", id1, id2, ids)
	}
}

func TestStore_PagedFinalized_ClampedAndDescending(t *testing.T) {
	ctx, s := setupStore(t)

	var last uint64
	for i := 0; i < 5; i++ {
		id, err := s.Append(ctx, sampleLog("dave"))
		if err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
		last = id
	}

	page, err := s.PagedFinalized(ctx, 2, nil)
	if err != nil {
		t.Fatalf("PagedFinalized() failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(page))
	}
	if page[0].ID == nil || *page[0].ID != last {
		t.Fatalf("expected newest-first ordering, got id %v first", page[0].ID)
	}

	prev := *page[1].ID
	nextPage, err := s.PagedFinalized(ctx, 2, &prev)
	if err != nil {
		t.Fatalf("PagedFinalized() with cursor failed: %v", err)
	}
	for _, l := range nextPage {
		if *l.ID >= prev {
			t.Fatalf("expected every id strictly below cursor %d, got %d", prev, *l.ID)
		}
	}
}

func TestStore_CheckpointAndRestoreState(t *testing.T) {
	ctx, s := setupStore(t)

	state := bridge.NewState(bridge.TokenMeta{Name: "Test", Symbol: "TST", Decimals: 8, Fee: 1}, 100)
	state.EvmTokenContracts["ETH"] = bridge.EvmContract{Address: "0xAAA0000000000000000000000000000000000A", Decimals: 18, ChainID: 1}
	state.Pending = append(state.Pending, sampleLog("erin"))

	snap := state.Checkpoint()
	if err := s.CheckpointState(ctx, snap); err != nil {
		t.Fatalf("CheckpointState() failed: %v", err)
	}

	restored, err := s.RestoreState(ctx)
	if err != nil {
		t.Fatalf("RestoreState() failed: %v", err)
	}
	if restored == nil {
		t.Fatalf("expected a restored snapshot, got nil")
	}
	if restored.Token.Symbol != "TST" {
		t.Fatalf("expected token symbol TST, got %s", restored.Token.Symbol)
	}
	if len(restored.Pending) != 1 || restored.Pending[0].User != "erin" {
		t.Fatalf("expected 1 pending entry for erin, got %#v", restored.Pending)
	}

	// A second checkpoint overwrites the singleton row rather than
	// inserting a duplicate.
	state.Pending = nil
	if err := s.CheckpointState(ctx, state.Checkpoint()); err != nil {
		t.Fatalf("second CheckpointState() failed: %v", err)
	}
	restored2, err := s.RestoreState(ctx)
	if err != nil {
		t.Fatalf("RestoreState() after overwrite failed: %v", err)
	}
	if len(restored2.Pending) != 0 {
		t.Fatalf("expected pending cleared after overwrite, got %d entries", len(restored2.Pending))
	}
}

func TestStore_RestoreState_NoRowYieldsNil(t *testing.T) {
	ctx, s := setupStore(t)

	snap, err := s.RestoreState(ctx)
	if err != nil {
		t.Fatalf("RestoreState() failed: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil snapshot before any checkpoint, got %#v", snap)
	}
}
