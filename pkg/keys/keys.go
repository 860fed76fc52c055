// Package keys implements the bridge's key derivation and signing
// seam: per-user subkey derivation and raw prehash signing, backed in
// production by an out-of-scope threshold-ECDSA service and backed in
// tests by a local secp256k1 derivation, both speaking secp256k1 so
// the bridge's EVM address math is identical either way.
package keys

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"

	"github.com/onebridge/evm-bridge/pkg/apperrors"
)

// Signer is the key-derivation and signing seam:
// derive a per-principal subkey and sign a 32-byte prehash with it.
// The production implementation delegates to an out-of-scope
// threshold-ECDSA service; LocalSigner is an in-memory stand-in for
// tests and local development.
type Signer interface {
	// DeriveSubkey returns the principal's compressed secp256k1 public
	// key and the chain code used to derive it.
	DeriveSubkey(ctx context.Context, principal string) (pubkey []byte, chainCode []byte, err error)
	// SignPrehash signs a 32-byte digest with the principal's subkey,
	// returning the 64-byte (r||s) signature.
	SignPrehash(ctx context.Context, principal string, hash [32]byte) (rs [64]byte, err error)
	// CostForSign reports the cycle cost of a sign_prehash call for
	// the named key, so callers can enforce caller-pays-cycles.
	CostForSign(keyName string) (cycles uint64, err error)
}

// signCosts is the static per-key-name cycle-cost table consulted by
// the evm_sign RPC before admitting a caller-pays-cycles request.
var signCosts = map[string]uint64{
	"dfx_test_key":     10_000_000_000,
	"test_key_1":       10_000_000_000,
	"key_1":            26_153_846_153,
	"production_key_1": 26_153_846_153,
}

// defaultSignCost is used for key names not present in signCosts.
const defaultSignCost uint64 = 26_153_846_153

// CostForSign looks up the signing cost for keyName in the shared
// static table. Unknown key names still resolve to a cost rather than
// erroring, since the threshold-ECDSA service accepts any key name it
// was provisioned with.
func CostForSign(keyName string) (uint64, error) {
	if keyName == "" {
		return 0, apperrors.BadRequest("key_name must not be empty", nil)
	}
	if cost, ok := signCosts[keyName]; ok {
		return cost, nil
	}
	return defaultSignCost, nil
}

// ThresholdSigner is the production Signer, calling the out-of-scope
// threshold-ECDSA signing service's derive_subkey/sign_prehash RPCs
// over HTTP. It carries no key material itself.
type ThresholdSigner struct {
	endpoint   string
	keyName    string
	httpClient *http.Client
}

// NewThresholdSigner builds a ThresholdSigner against the configured
// signing service endpoint and key name.
func NewThresholdSigner(endpoint, keyName string) *ThresholdSigner {
	return &ThresholdSigner{
		endpoint: endpoint,
		keyName:  keyName,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type derivePubkeyRequest struct {
	KeyName   string `json:"key_name"`
	Principal string `json:"principal"`
}

type derivePubkeyResponse struct {
	PublicKey []byte `json:"public_key"`
	ChainCode []byte `json:"chain_code"`
}

func (s *ThresholdSigner) DeriveSubkey(ctx context.Context, principal string) ([]byte, []byte, error) {
	resp, err := s.call(ctx, "derive_subkey", derivePubkeyRequest{KeyName: s.keyName, Principal: principal})
	if err != nil {
		return nil, nil, err
	}
	var out derivePubkeyResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, nil, apperrors.Internal(fmt.Errorf("decode derive_subkey response: %w", err))
	}
	return out.PublicKey, out.ChainCode, nil
}

type signPrehashRequest struct {
	KeyName   string `json:"key_name"`
	Principal string `json:"principal"`
	Hash      []byte `json:"hash"`
}

type signPrehashResponse struct {
	Signature []byte `json:"signature"`
}

func (s *ThresholdSigner) SignPrehash(ctx context.Context, principal string, hash [32]byte) ([64]byte, error) {
	var rs [64]byte
	resp, err := s.call(ctx, "sign_prehash", signPrehashRequest{KeyName: s.keyName, Principal: principal, Hash: hash[:]})
	if err != nil {
		return rs, err
	}
	var out signPrehashResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return rs, apperrors.Internal(fmt.Errorf("decode sign_prehash response: %w", err))
	}
	if len(out.Signature) != 64 {
		return rs, apperrors.Internal(fmt.Errorf("threshold signer returned %d-byte signature, want 64", len(out.Signature)))
	}
	copy(rs[:], out.Signature)
	return rs, nil
}

func (s *ThresholdSigner) CostForSign(keyName string) (uint64, error) {
	return CostForSign(keyName)
}

func (s *ThresholdSigner) call(ctx context.Context, method string, body interface{}) ([]byte, error) {
	if s.endpoint == "" {
		return nil, apperrors.Internal(fmt.Errorf("threshold signer endpoint not configured"))
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("encode %s request: %w", method, err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/"+method, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("build %s request: %w", method, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.SigRecoveryFailed(fmt.Sprintf("threshold signer %s unreachable: %v", method, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("read %s response: %w", method, err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.SigRecoveryFailed(fmt.Sprintf("threshold signer %s returned status %d", method, resp.StatusCode))
	}
	return data, nil
}

// LocalSigner is an in-memory Signer that derives real secp256k1
// subkeys deterministically from a local master seed, using the same
// HKDF-SHA256 expansion per principal. It backs tests and local/dev
// deployments that don't have a threshold-ECDSA service available.
type LocalSigner struct {
	seed []byte
}

// NewLocalSigner builds a LocalSigner from a master seed of at least
// 32 bytes.
func NewLocalSigner(seed []byte) (*LocalSigner, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("master seed must be at least 32 bytes")
	}
	return &LocalSigner{seed: seed}, nil
}

// MasterKeyFromBase64 decodes an operator-supplied base64 master seed.
func MasterKeyFromBase64(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("master key must be at least 32 bytes, got %d", len(key))
	}
	return key, nil
}

// privateKeyFor deterministically derives the principal's 32-byte
// secp256k1 private key via HKDF-SHA256 over the master seed.
func (s *LocalSigner) privateKeyFor(principal string) ([]byte, error) {
	info := []byte("bridge-subkey-" + principal)
	reader := hkdf.New(sha256.New, s.seed, nil, info)
	priv := make([]byte, 32)
	if _, err := io.ReadFull(reader, priv); err != nil {
		return nil, fmt.Errorf("derive subkey seed: %w", err)
	}
	return priv, nil
}

// chainCodeFor derives the chain code reported alongside the public
// key, a distinct HKDF output from the private key derivation.
func (s *LocalSigner) chainCodeFor(principal string) ([]byte, error) {
	info := []byte("bridge-chaincode-" + principal)
	reader := hkdf.New(sha256.New, s.seed, nil, info)
	cc := make([]byte, 32)
	if _, err := io.ReadFull(reader, cc); err != nil {
		return nil, fmt.Errorf("derive chain code: %w", err)
	}
	return cc, nil
}

func (s *LocalSigner) DeriveSubkey(_ context.Context, principal string) ([]byte, []byte, error) {
	privBytes, err := s.privateKeyFor(principal)
	if err != nil {
		return nil, nil, apperrors.Internal(err)
	}
	priv, err := crypto.ToECDSA(privBytes)
	if err != nil {
		return nil, nil, apperrors.Internal(fmt.Errorf("convert derived key: %w", err))
	}
	chainCode, err := s.chainCodeFor(principal)
	if err != nil {
		return nil, nil, apperrors.Internal(err)
	}
	return crypto.CompressPubkey(&priv.PublicKey), chainCode, nil
}

func (s *LocalSigner) SignPrehash(_ context.Context, principal string, hash [32]byte) ([64]byte, error) {
	var rs [64]byte
	privBytes, err := s.privateKeyFor(principal)
	if err != nil {
		return rs, apperrors.Internal(err)
	}
	priv, err := crypto.ToECDSA(privBytes)
	if err != nil {
		return rs, apperrors.Internal(fmt.Errorf("convert derived key: %w", err))
	}
	sig, err := crypto.Sign(hash[:], priv)
	if err != nil {
		return rs, apperrors.Internal(fmt.Errorf("sign prehash: %w", err))
	}
	copy(rs[:], sig[:64])
	return rs, nil
}

func (s *LocalSigner) CostForSign(keyName string) (uint64, error) {
	return CostForSign(keyName)
}

// PubkeyToEVMAddress derives the EVM address owned by a compressed
// secp256k1 public key: keccak256 of the uncompressed point's 64
// X||Y bytes, low 20 bytes, grounded on
// DeriveEVMAddressFromPublicKey.
func PubkeyToEVMAddress(compressedPubKey []byte) (common.Address, error) {
	pub, err := crypto.DecompressPubkey(compressedPubKey)
	if err != nil {
		return common.Address{}, apperrors.Internal(fmt.Errorf("decompress public key: %w", err))
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// RecoverYParity recovers the y-parity byte for a (r||s) signature
// against an expected signer address by trying recovery id 0 then 1.
func RecoverYParity(hash [32]byte, rs [64]byte, expectedAddr common.Address) (byte, error) {
	sig := make([]byte, 65)
	copy(sig, rs[:])

	for _, v := range []byte{0, 1} {
		sig[64] = v
		pub, err := crypto.SigToPub(hash[:], sig)
		if err != nil {
			continue
		}
		if crypto.PubkeyToAddress(*pub) == expectedAddr {
			return v, nil
		}
	}
	return 0, apperrors.SigRecoveryFailed(fmt.Sprintf("no recovery id reproduces address %s", expectedAddr.Hex()))
}
