// Package admin implements the bridge's administrative surface:
// chain/provider registration, fee collection, and the read-only
// query methods. Every mutating call has a Validate* twin that
// returns the canonical form of the request for governance review
// without touching state.
package admin

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/onebridge/evm-bridge/pkg/apperrors"
	"github.com/onebridge/evm-bridge/pkg/auth"
	"github.com/onebridge/evm-bridge/pkg/bridge"
	"github.com/onebridge/evm-bridge/pkg/keys"
	"github.com/onebridge/evm-bridge/pkg/ledger"
)

// EVMClient is the subset of the quorum client the admin surface uses
// to probe a chain during onboarding.
type EVMClient interface {
	ChainID(ctx context.Context) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	MaxPriorityFeePerGas(ctx context.Context) (*big.Int, error)
	Erc20Symbol(ctx context.Context, token common.Address) (string, error)
	Erc20Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// ClientFactory dials a quorum client for a chain's provider set. The
// production factory also registers the dialed client for the
// finalization engine and transaction builder to use.
type ClientFactory func(chain string, urls []string, maxConfirmations int) (EVMClient, error)

// Store is the durable-store read surface the query methods consume.
type Store interface {
	PagedFinalized(ctx context.Context, take int, prev *uint64) ([]bridge.BridgeLog, error)
	PagedFinalizedForUser(ctx context.Context, user string, take int, prev *uint64) ([]bridge.BridgeLog, error)
	ByTxHash(ctx context.Context, hash string) (bridge.BridgeLog, error)
	TotalBridgeCount(ctx context.Context) (uint64, error)
}

// Service wires the admin and query surface over the shared state.
type Service struct {
	State   *bridge.State
	Store   Store
	Ledger  ledger.Ledger
	Signer  keys.Signer
	Factory ClientFactory
	Logger  *zap.Logger

	// CanisterPrincipal is the bridge's own custodial identity on the
	// native ledger, the source of fee payouts.
	CanisterPrincipal string
	// Governance, when set, is the only principal allowed to call the
	// mutating admin methods.
	Governance auth.Principal

	PaginationMin int
	PaginationMax int
}

// chainNameRe is the shape of a registrable chain name: 1-8 uppercase
// characters.
var chainNameRe = regexp.MustCompile(`^[A-Z]{1,8}$`)

// nativeChainName is reserved for the native ledger and never appears
// in the EVM contract map.
const nativeChainName = "ICP"

func (s *Service) requireGovernance(caller auth.Principal) error {
	if s.Governance == "" {
		return nil
	}
	if caller != s.Governance {
		return apperrors.Unauthorized("caller is not the governance principal")
	}
	return nil
}

// isChecksummed reports whether addr is a valid EIP-55 checksummed
// hex address.
func isChecksummed(addr string) bool {
	return common.IsHexAddress(addr) && auth.ChecksumAddress(addr) == addr
}

func validateChainName(name string) error {
	if !chainNameRe.MatchString(name) {
		return apperrors.BadRequest(fmt.Sprintf("chain name %q must be 1-8 uppercase characters", name), nil)
	}
	if name == nativeChainName {
		return apperrors.BadRequest("chain name ICP is reserved for the native ledger", nil)
	}
	return nil
}

// AddEVMContractRequest is the canonical form of an add_evm_contract
// call, rendered by the validate twin for governance review.
type AddEVMContractRequest struct {
	ChainName string `yaml:"chain_name"`
	ChainID   uint64 `yaml:"chain_id"`
	Address   string `yaml:"address"`
}

// checkAddEVMContract runs every state-independent and state-read-only
// validation of an add_evm_contract request.
func (s *Service) checkAddEVMContract(req AddEVMContractRequest) (bridge.EvmProviderConfig, error) {
	if err := validateChainName(req.ChainName); err != nil {
		return bridge.EvmProviderConfig{}, err
	}
	if !isChecksummed(req.Address) {
		return bridge.EvmProviderConfig{}, apperrors.BadRequest("contract address must be EIP-55 checksummed", nil)
	}

	s.State.Lock()
	defer s.State.Unlock()

	if _, exists := s.State.EvmTokenContracts[req.ChainName]; exists {
		return bridge.EvmProviderConfig{}, apperrors.BadRequest("chain "+req.ChainName+" is already registered", nil)
	}
	for name, c := range s.State.EvmTokenContracts {
		if c.ChainID == req.ChainID {
			return bridge.EvmProviderConfig{}, apperrors.BadRequest(
				fmt.Sprintf("chain id %d is already registered as %s", req.ChainID, name), nil)
		}
	}
	providers, ok := s.State.EvmProviders[req.ChainName]
	if !ok {
		return bridge.EvmProviderConfig{}, apperrors.BadRequest(
			"no providers configured for "+req.ChainName+"; call set_evm_providers first", nil)
	}
	return providers, nil
}

// AddEVMContract registers the token's ERC-20 contract on a new EVM
// chain: it probes the chain through the configured providers,
// requires the advertised chain id and token symbol to match, then
// inserts the contract and seeds the gas cache.
func (s *Service) AddEVMContract(ctx context.Context, caller auth.Principal, req AddEVMContractRequest) error {
	if err := s.requireGovernance(caller); err != nil {
		return err
	}
	providers, err := s.checkAddEVMContract(req)
	if err != nil {
		return err
	}

	client, err := s.Factory(req.ChainName, providers.URLs, providers.MaxConfirmations)
	if err != nil {
		return err
	}

	var (
		wg       sync.WaitGroup
		chainID  uint64
		gasPrice *big.Int
		tip      *big.Int
		symbol   string
		decimals uint8
		errs     [5]error
	)
	token := common.HexToAddress(req.Address)
	wg.Add(5)
	go func() { defer wg.Done(); chainID, errs[0] = client.ChainID(ctx) }()
	go func() { defer wg.Done(); gasPrice, errs[1] = client.GasPrice(ctx) }()
	go func() { defer wg.Done(); tip, errs[2] = client.MaxPriorityFeePerGas(ctx) }()
	go func() { defer wg.Done(); symbol, errs[3] = client.Erc20Symbol(ctx, token) }()
	go func() { defer wg.Done(); decimals, errs[4] = client.Erc20Decimals(ctx, token) }()
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			return e
		}
	}

	if chainID != req.ChainID {
		return apperrors.BadRequest(fmt.Sprintf("advertised chain id %d does not match chain's %d", req.ChainID, chainID), nil)
	}
	s.State.Lock()
	tokenSymbol := s.State.Token.Symbol
	s.State.Unlock()
	if symbol != tokenSymbol {
		return apperrors.BadRequest(fmt.Sprintf("contract symbol %q does not match bridged token %q", symbol, tokenSymbol), nil)
	}

	now := bridge.RealClock()
	s.State.Lock()
	defer s.State.Unlock()
	if _, exists := s.State.EvmTokenContracts[req.ChainName]; exists {
		return apperrors.BadRequest("chain "+req.ChainName+" is already registered", nil)
	}
	s.State.EvmTokenContracts[req.ChainName] = bridge.EvmContract{
		Address:  req.Address,
		Decimals: decimals,
		ChainID:  req.ChainID,
	}
	s.State.EvmLatestGas[req.ChainName] = bridge.GasSnapshot{UpdatedAtMs: now, GasPrice: gasPrice, Tip: tip}

	s.Logger.Info("registered EVM contract",
		zap.String("chain", req.ChainName),
		zap.Uint64("chain_id", req.ChainID),
		zap.String("address", req.Address),
		zap.Uint8("decimals", decimals))
	return nil
}

// ValidateAddEVMContract checks an add_evm_contract request and
// returns its canonical YAML rendering without mutating state.
func (s *Service) ValidateAddEVMContract(req AddEVMContractRequest) (string, error) {
	if _, err := s.checkAddEVMContract(req); err != nil {
		return "", err
	}
	return canonicalYAML("add_evm_contract", req)
}

// SetEVMProvidersRequest is the canonical form of a set_evm_providers
// call.
type SetEVMProvidersRequest struct {
	ChainName        string   `yaml:"chain_name"`
	MaxConfirmations int      `yaml:"max_confirmations"`
	Providers        []string `yaml:"providers"`
}

func (s *Service) checkSetEVMProviders(req SetEVMProvidersRequest) error {
	if err := validateChainName(req.ChainName); err != nil {
		return err
	}
	if req.MaxConfirmations < 2 {
		return apperrors.BadRequest(fmt.Sprintf("max_confirmations must be >= 2, got %d", req.MaxConfirmations), nil)
	}
	if len(req.Providers) == 0 {
		return apperrors.BadRequest("at least one provider URL is required", nil)
	}
	return nil
}

// SetEVMProviders configures the provider quorum for a chain, dialing
// a fresh client to prove the URLs are acceptable before committing.
func (s *Service) SetEVMProviders(ctx context.Context, caller auth.Principal, req SetEVMProvidersRequest) error {
	if err := s.requireGovernance(caller); err != nil {
		return err
	}
	if err := s.checkSetEVMProviders(req); err != nil {
		return err
	}

	// The factory re-validates URL shape (HTTPS) and dials; a broken
	// provider list never reaches state.
	if _, err := s.Factory(req.ChainName, req.Providers, req.MaxConfirmations); err != nil {
		return err
	}

	s.State.Lock()
	defer s.State.Unlock()
	s.State.EvmProviders[req.ChainName] = bridge.EvmProviderConfig{
		MaxConfirmations: req.MaxConfirmations,
		URLs:             append([]string(nil), req.Providers...),
	}

	s.Logger.Info("set EVM providers",
		zap.String("chain", req.ChainName),
		zap.Int("max_confirmations", req.MaxConfirmations),
		zap.Int("provider_count", len(req.Providers)))
	return nil
}

// ValidateSetEVMProviders checks a set_evm_providers request and
// returns its canonical YAML rendering without mutating state.
func (s *Service) ValidateSetEVMProviders(req SetEVMProvidersRequest) (string, error) {
	if err := s.checkSetEVMProviders(req); err != nil {
		return "", err
	}
	return canonicalYAML("set_evm_providers", req)
}

// CollectFeesRequest is the canonical form of a collect_fees call.
type CollectFeesRequest struct {
	To     string `yaml:"to"`
	Amount uint64 `yaml:"amount"`
}

func (s *Service) checkCollectFees(req CollectFeesRequest) error {
	if req.Amount == 0 {
		return apperrors.BadRequest("amount must be positive", nil)
	}
	if _, err := auth.ParsePrincipal(req.To); err != nil {
		return apperrors.BadRequest("to must be a valid principal", err)
	}

	s.State.Lock()
	defer s.State.Unlock()
	available := s.State.TotalCollectedFees - s.State.TotalWithdrawnFees
	if req.Amount > available {
		return apperrors.BadRequest(fmt.Sprintf("amount %d exceeds withdrawable fees %d", req.Amount, available), nil)
	}
	return nil
}

// CollectFees pays out accumulated bridge fees from the custodial
// balance, incrementing total_withdrawn_fees only after the ledger
// accepts the transfer.
func (s *Service) CollectFees(ctx context.Context, caller auth.Principal, req CollectFeesRequest) (uint64, error) {
	if err := s.requireGovernance(caller); err != nil {
		return 0, err
	}
	if err := s.checkCollectFees(req); err != nil {
		return 0, err
	}

	height, err := s.Ledger.Transfer(ctx, s.CanisterPrincipal, req.To, req.Amount)
	if err != nil {
		return 0, err
	}

	s.State.Lock()
	s.State.TotalWithdrawnFees += req.Amount
	s.State.Unlock()

	s.Logger.Info("collected fees",
		zap.String("to", req.To),
		zap.Uint64("amount", req.Amount),
		zap.Uint64("block_height", height))
	return height, nil
}

// ValidateCollectFees checks a collect_fees request and returns its
// canonical YAML rendering without mutating state.
func (s *Service) ValidateCollectFees(req CollectFeesRequest) (string, error) {
	if err := s.checkCollectFees(req); err != nil {
		return "", err
	}
	return canonicalYAML("collect_fees", req)
}

// canonicalYAML renders a mutating request in its canonical reviewed
// form: a single-key document named after the method.
func canonicalYAML(method string, req interface{}) (string, error) {
	out, err := yaml.Marshal(map[string]interface{}{method: req})
	if err != nil {
		return "", apperrors.Internal(err)
	}
	return string(out), nil
}
