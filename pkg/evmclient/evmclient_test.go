package evmclient

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/onebridge/evm-bridge/pkg/apperrors"
)

func TestNewClientRejectsLowConfirmations(t *testing.T) {
	if _, err := NewClient("ethereum", []string{"https://rpc.example.com"}, 1, nil); err == nil {
		t.Fatal("expected error for max_confirmations < 2")
	}
}

func TestNewClientRejectsNonHTTPS(t *testing.T) {
	if _, err := NewClient("ethereum", []string{"http://rpc.example.com"}, 12, nil); err == nil {
		t.Fatal("expected error for non-https provider URL")
	}
}

func TestNewClientRejectsEmptyProviders(t *testing.T) {
	if _, err := NewClient("ethereum", nil, 12, nil); err == nil {
		t.Fatal("expected error for no providers")
	}
}

func TestReduceMajority(t *testing.T) {
	c := &Client{chainName: "ethereum", maxConfirmations: 12, providers: make([]*ethclient.Client, 3), logger: zap.NewNop()}
	results := []interface{}{"a", "a", "b"}
	errs := []error{nil, nil, nil}

	v, err := c.reduce("test_method", results, errs, func(v interface{}) string { return v.(string) })
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if v.(string) != "a" {
		t.Errorf("reduce() = %q, want %q", v, "a")
	}
}

func TestReduceNoQuorum(t *testing.T) {
	c := &Client{chainName: "ethereum", maxConfirmations: 12, providers: make([]*ethclient.Client, 3), logger: zap.NewNop()}
	results := []interface{}{"a", "b", "c"}
	errs := []error{nil, nil, nil}

	_, err := c.reduce("test_method", results, errs, func(v interface{}) string { return v.(string) })
	if !apperrors.Is(err, apperrors.CategoryRPCNoQuorum) {
		t.Errorf("expected RpcNoQuorum, got %v", err)
	}
}

func TestReduceAllProvidersFail(t *testing.T) {
	c := &Client{chainName: "ethereum", maxConfirmations: 12, providers: make([]*ethclient.Client, 3), logger: zap.NewNop()}
	results := []interface{}{nil, nil, nil}
	errs := []error{errors.New("boom"), errors.New("boom"), errors.New("boom")}

	_, err := c.reduce("test_method", results, errs, func(v interface{}) string { return "" })
	if !apperrors.Is(err, apperrors.CategoryRPCProviderError) {
		t.Errorf("expected RpcProviderError, got %v", err)
	}
}
