package ledger

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/onebridge/evm-bridge/pkg/apperrors"
)

func TestMapGRPCErrorKnownCodes(t *testing.T) {
	cases := []struct {
		code codes.Code
		want apperrors.Category
	}{
		{codes.InvalidArgument, apperrors.CategoryLedgerRejected},
		{codes.ResourceExhausted, apperrors.CategoryLedgerRejected},
		{codes.Unavailable, apperrors.CategoryLedgerRejected},
		{codes.Unknown, apperrors.CategoryLedgerRejected},
	}
	for _, c := range cases {
		err := mapGRPCError("transfer", status.Error(c.code, "boom"))
		if !apperrors.Is(err, c.want) {
			t.Errorf("mapGRPCError(%v) category mismatch, err=%v", c.code, err)
		}
	}
}

func TestMapGRPCErrorNonStatus(t *testing.T) {
	err := mapGRPCError("transfer", errors.New("plain network error"))
	if !apperrors.Is(err, apperrors.CategoryLedgerRejected) {
		t.Errorf("expected LedgerRejected for non-status error, got %v", err)
	}
}

func TestParseHeight(t *testing.T) {
	if h, ok := parseHeight("12345"); !ok || h != 12345 {
		t.Errorf("parseHeight(12345) = (%d, %v), want (12345, true)", h, ok)
	}
	if _, ok := parseHeight("not-a-number"); ok {
		t.Error("expected parseHeight to reject non-numeric input")
	}
	if _, ok := parseHeight("99999999999999999999999999999999"); ok {
		t.Error("expected parseHeight to reject a value wider than u64")
	}
}
