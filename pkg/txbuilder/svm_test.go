package txbuilder

import (
	"bytes"
	"context"
	"testing"
)

func TestBuildSOLTransferBlobShape(t *testing.T) {
	b, _, _ := testBuilder(t)
	ctx := context.Background()

	var to, blockhash [32]byte
	to[31] = 1
	blockhash[0] = 0xaa

	blob, err := b.BuildSOLTransfer(ctx, "user-1", to, 5_000, blockhash)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	// compact-u16 signature count (1) + 64-byte signature + header.
	if blob[0] != 1 {
		t.Fatalf("signature count = %d, want 1", blob[0])
	}
	msg := blob[1+64:]
	if !bytes.Equal(msg[0:3], []byte{1, 0, 1}) {
		t.Fatalf("message header = %v", msg[0:3])
	}
	if msg[3] != 3 {
		t.Fatalf("account count = %d, want 3", msg[3])
	}

	// Rebuilding yields an identical blob: derivation and signing are
	// deterministic.
	again, err := b.BuildSOLTransfer(ctx, "user-1", to, 5_000, blockhash)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if !bytes.Equal(blob, again) {
		t.Fatal("SOL transfer construction is not deterministic")
	}
}

func TestBuildSPLTransferRejectsSameAccounts(t *testing.T) {
	b, _, _ := testBuilder(t)

	var acct, blockhash [32]byte
	acct[0] = 7

	if _, err := b.BuildSPLTransfer(context.Background(), "user-1", acct, acct, 10, blockhash); err == nil {
		t.Fatal("expected error for identical source and destination accounts")
	}
}
