// Package ledger implements the bridge's native ledger adapter: a
// thin gRPC client for the out-of-scope ICRC-like
// transfer/transfer_from RPC of the home-chain ledger service.
package ledger

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/onebridge/evm-bridge/internal/metrics"
	"github.com/onebridge/evm-bridge/pkg/apperrors"
)

// Ledger wraps the two native-ledger calls the bridge depends on.
type Ledger interface {
	// TransferFrom pulls amount from user's native balance into the
	// bridge's custodial canister balance, returning the ledger's
	// commit block height.
	TransferFrom(ctx context.Context, user, canister string, amount uint64) (height uint64, err error)
	// Transfer pays amount out of the bridge's custodial canister
	// balance to recipient, returning the ledger's commit block
	// height.
	Transfer(ctx context.Context, canister, recipient string, amount uint64) (height uint64, err error)
}

// GRPCLedger is the production Ledger, a gRPC client against the
// native ledger service.
type GRPCLedger struct {
	conn    *grpc.ClientConn
	logger  *zap.Logger
	timeout time.Duration
}

// Dial connects to the native ledger's gRPC endpoint.
func Dial(target string, tlsEnabled bool, timeout time.Duration, logger *zap.Logger) (*GRPCLedger, error) {
	var opts []grpc.DialOption
	if tlsEnabled {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)))

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial native ledger: %w", err)
	}

	logger.Info("connected to native ledger", zap.String("target", target))

	return &GRPCLedger{conn: conn, logger: logger, timeout: timeout}, nil
}

// Close closes the underlying gRPC connection.
func (l *GRPCLedger) Close() error {
	return l.conn.Close()
}

type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type transferResponse struct {
	// Height is a string to tolerate a ledger that reports a height
	// wider than a u64 — decoded explicitly so overflow maps to
	// BlockHeightTooLarge instead of a silent wraparound.
	Height string `json:"height"`
}

func (l *GRPCLedger) invoke(ctx context.Context, method string, fullMethod string, req *transferRequest) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	var resp transferResponse
	err := l.conn.Invoke(ctx, fullMethod, req, &resp)
	metrics.LedgerRPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, mapGRPCError(method, err)
	}

	height, ok := parseHeight(resp.Height)
	if !ok {
		return 0, apperrors.BlockHeightTooLarge(fmt.Sprintf("ledger %s returned height %q, does not fit u64", method, resp.Height))
	}
	return height, nil
}

// TransferFrom implements Ledger.
func (l *GRPCLedger) TransferFrom(ctx context.Context, user, canister string, amount uint64) (uint64, error) {
	req := &transferRequest{From: user, To: canister, Amount: amount}
	return l.invoke(ctx, "transfer_from", "/onebridge.ledger.v1.Ledger/TransferFrom", req)
}

// Transfer implements Ledger.
func (l *GRPCLedger) Transfer(ctx context.Context, canister, recipient string, amount uint64) (uint64, error) {
	req := &transferRequest{From: canister, To: recipient, Amount: amount}
	return l.invoke(ctx, "transfer", "/onebridge.ledger.v1.Ledger/Transfer", req)
}

func parseHeight(s string) (uint64, bool) {
	var height uint64
	_, err := fmt.Sscanf(s, "%d", &height)
	if err != nil {
		return 0, false
	}
	// Sscanf skips leading spaces and stops at the first non-digit,
	// ignoring what follows; re-render and compare to reject anything
	// but the plain decimal digits of the value.
	if fmt.Sprintf("%d", height) != s {
		return 0, false
	}
	return height, true
}

// mapGRPCError translates a gRPC status into the bridge's
// LedgerRejected error category.
func mapGRPCError(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return apperrors.LedgerRejected(method, err)
	}
	switch st.Code() {
	case codes.OK:
		return nil
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return apperrors.LedgerRejected("rejected: "+st.Message(), err)
	case codes.NotFound:
		return apperrors.LedgerRejected("unknown account: "+st.Message(), err)
	case codes.ResourceExhausted:
		return apperrors.LedgerRejected("insufficient funds: "+st.Message(), err)
	case codes.Unavailable, codes.DeadlineExceeded:
		return apperrors.LedgerRejected("unavailable: "+st.Message(), err)
	default:
		return apperrors.LedgerRejected(st.Code().String()+": "+st.Message(), err)
	}
}
