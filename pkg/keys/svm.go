package keys

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
)

// SVMAccount derives the 32-byte Solana-side account key owned by a
// derived subkey: the SHA-256 of the compressed secp256k1 public key.
// The same master material thus yields one EVM address and one SVM
// account per principal.
func SVMAccount(compressedPubKey []byte) [32]byte {
	return sha256.Sum256(compressedPubKey)
}

// base58Alphabet is the Bitcoin/Solana base58 alphabet.
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// EncodeBase58 renders raw bytes in base58, preserving leading zero
// bytes as leading '1' characters.
func EncodeBase58(data []byte) string {
	zeros := 0
	for zeros < len(data) && data[zeros] == 0 {
		zeros++
	}

	n := new(big.Int).SetBytes(data)
	radix := big.NewInt(58)
	mod := new(big.Int)

	out := make([]byte, 0, len(data)*2)
	for n.Sign() > 0 {
		n.DivMod(n, radix, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}
	for i := 0; i < zeros; i++ {
		out = append(out, base58Alphabet[0])
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

// DecodeBase58 parses a base58 string back into bytes, restoring
// leading zero bytes from leading '1' characters.
func DecodeBase58(s string) ([]byte, error) {
	zeros := 0
	for zeros < len(s) && s[zeros] == '1' {
		zeros++
	}

	n := new(big.Int)
	radix := big.NewInt(58)
	for i := zeros; i < len(s); i++ {
		d := strings.IndexByte(base58Alphabet, s[i])
		if d < 0 {
			return nil, fmt.Errorf("invalid base58 character %q", s[i])
		}
		n.Mul(n, radix)
		n.Add(n, big.NewInt(int64(d)))
	}

	out := make([]byte, zeros, zeros+32)
	return append(out, n.Bytes()...), nil
}

// DecodeSVMAccount parses a base58 account key into its fixed 32-byte
// form.
func DecodeSVMAccount(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := DecodeBase58(s)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("account key is %d bytes, want 32", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
