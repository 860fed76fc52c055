package keys

import (
	"bytes"
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/onebridge/evm-bridge/pkg/apperrors"
)

func testSigner(t *testing.T) *LocalSigner {
	t.Helper()
	seed := bytes.Repeat([]byte{0x42}, 32)
	s, err := NewLocalSigner(seed)
	if err != nil {
		t.Fatalf("NewLocalSigner: %v", err)
	}
	return s
}

func TestLocalSignerDeriveSubkeyDeterministic(t *testing.T) {
	s := testSigner(t)
	ctx := context.Background()

	pub1, cc1, err := s.DeriveSubkey(ctx, "aaaaa-aa")
	if err != nil {
		t.Fatalf("DeriveSubkey: %v", err)
	}
	pub2, cc2, err := s.DeriveSubkey(ctx, "aaaaa-aa")
	if err != nil {
		t.Fatalf("DeriveSubkey: %v", err)
	}
	if !bytes.Equal(pub1, pub2) || !bytes.Equal(cc1, cc2) {
		t.Fatal("DeriveSubkey must be deterministic for the same principal")
	}

	pub3, _, err := s.DeriveSubkey(ctx, "bbbbb-bb")
	if err != nil {
		t.Fatalf("DeriveSubkey: %v", err)
	}
	if bytes.Equal(pub1, pub3) {
		t.Fatal("distinct principals must derive distinct subkeys")
	}
}

func TestLocalSignerSignAndRecover(t *testing.T) {
	s := testSigner(t)
	ctx := context.Background()

	pub, _, err := s.DeriveSubkey(ctx, "aaaaa-aa")
	if err != nil {
		t.Fatalf("DeriveSubkey: %v", err)
	}
	addr, err := PubkeyToEVMAddress(pub)
	if err != nil {
		t.Fatalf("PubkeyToEVMAddress: %v", err)
	}

	var hash [32]byte
	copy(hash[:], bytes.Repeat([]byte{0x07}, 32))

	rs, err := s.SignPrehash(ctx, "aaaaa-aa", hash)
	if err != nil {
		t.Fatalf("SignPrehash: %v", err)
	}

	v, err := RecoverYParity(hash, rs, addr)
	if err != nil {
		t.Fatalf("RecoverYParity: %v", err)
	}
	if v != 0 && v != 1 {
		t.Fatalf("unexpected recovery id %d", v)
	}
}

func TestRecoverYParityWrongAddressFails(t *testing.T) {
	s := testSigner(t)
	ctx := context.Background()

	var hash [32]byte
	copy(hash[:], bytes.Repeat([]byte{0x09}, 32))

	rs, err := s.SignPrehash(ctx, "aaaaa-aa", hash)
	if err != nil {
		t.Fatalf("SignPrehash: %v", err)
	}

	var wrongAddr common.Address
	if _, err := RecoverYParity(hash, rs, wrongAddr); err == nil {
		t.Fatal("expected recovery to fail against an unrelated address")
	} else if !apperrors.Is(err, apperrors.CategorySigRecoveryFailed) {
		t.Errorf("expected CategorySigRecoveryFailed, got %v", err)
	}
}

func TestCostForSignKnownAndUnknown(t *testing.T) {
	known, err := CostForSign("dfx_test_key")
	if err != nil {
		t.Fatalf("CostForSign: %v", err)
	}
	if known == 0 {
		t.Fatal("expected non-zero cost for known key")
	}

	unknown, err := CostForSign("some_unprovisioned_key")
	if err != nil {
		t.Fatalf("CostForSign unknown key should still resolve: %v", err)
	}
	if unknown != defaultSignCost {
		t.Errorf("CostForSign(unknown) = %d, want default %d", unknown, defaultSignCost)
	}

	if _, err := CostForSign(""); err == nil {
		t.Fatal("expected error for empty key name")
	}
}

func TestBase58RoundTrip(t *testing.T) {
	cases := [][]byte{
		{0x00, 0x00, 0x01},
		bytes.Repeat([]byte{0xff}, 32),
		{0x7f},
	}
	for _, raw := range cases {
		enc := EncodeBase58(raw)
		dec, err := DecodeBase58(enc)
		if err != nil {
			t.Fatalf("DecodeBase58(%q): %v", enc, err)
		}
		if !bytes.Equal(raw, dec) {
			t.Errorf("round trip mismatch: %x -> %q -> %x", raw, enc, dec)
		}
	}

	if _, err := DecodeBase58("0OIl"); err == nil {
		t.Error("expected error for characters outside the base58 alphabet")
	}
}

func TestDecodeSVMAccountLength(t *testing.T) {
	s := testSigner(t)
	pub, _, err := s.DeriveSubkey(context.Background(), "aaaaa-aa")
	if err != nil {
		t.Fatalf("DeriveSubkey: %v", err)
	}
	account := SVMAccount(pub)

	got, err := DecodeSVMAccount(EncodeBase58(account[:]))
	if err != nil {
		t.Fatalf("DecodeSVMAccount: %v", err)
	}
	if got != account {
		t.Error("account key did not survive base58 round trip")
	}

	if _, err := DecodeSVMAccount("abc"); err == nil {
		t.Error("expected error for a key shorter than 32 bytes")
	}
}
