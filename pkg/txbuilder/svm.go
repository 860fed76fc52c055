package txbuilder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"github.com/onebridge/evm-bridge/pkg/apperrors"
	"github.com/onebridge/evm-bridge/pkg/keys"
)

// Solana transaction construction. These helpers only build and sign
// transaction blobs for callers to broadcast themselves; the
// finalization engine does not track SVM settlements.

var (
	// svmSystemProgram is the system program id (all zeroes).
	svmSystemProgram [32]byte
	// svmTokenProgram is the SPL token program id,
	// TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA in base58.
	svmTokenProgram = [32]byte{
		0x06, 0xdd, 0xf6, 0xe1, 0xd7, 0x65, 0xa1, 0x93,
		0xd9, 0xcb, 0xe1, 0x46, 0xce, 0xeb, 0x79, 0xac,
		0x1c, 0xb4, 0x85, 0xed, 0x5f, 0x5b, 0x37, 0x91,
		0x3a, 0x8c, 0xf5, 0x85, 0x7e, 0xff, 0x00, 0xa9,
	}
)

// svm instruction tags.
const (
	svmSystemTransferTag = 2 // SystemProgram::Transfer
	svmTokenTransferTag  = 3 // TokenInstruction::Transfer
)

// appendCompactU16 writes Solana's compact-u16 length prefix.
func appendCompactU16(out []byte, v int) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// svmMessage assembles a single-instruction legacy Solana message:
// header, compact account-key list, recent blockhash, then the
// instruction with indices into the key list. The lone signer is
// account 0; the program id is the only read-only unsigned key.
func svmMessage(accounts [][32]byte, recentBlockhash [32]byte, programIndex byte, accountIndices []byte, data []byte) []byte {
	msg := []byte{1, 0, 1}

	msg = appendCompactU16(msg, len(accounts))
	for _, a := range accounts {
		msg = append(msg, a[:]...)
	}
	msg = append(msg, recentBlockhash[:]...)

	msg = appendCompactU16(msg, 1)
	msg = append(msg, programIndex)
	msg = appendCompactU16(msg, len(accountIndices))
	msg = append(msg, accountIndices...)
	msg = appendCompactU16(msg, len(data))
	msg = append(msg, data...)
	return msg
}

// signSVMMessage signs the message digest through the signing seam
// and prepends the compact signature list, yielding a wire
// transaction blob.
func (b *Builder) signSVMMessage(ctx context.Context, fromPrincipal string, msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	rs, err := b.Signer.SignPrehash(ctx, fromPrincipal, digest)
	if err != nil {
		return nil, err
	}

	tx := appendCompactU16(nil, 1)
	tx = append(tx, rs[:]...)
	tx = append(tx, msg...)
	return tx, nil
}

// BuildSOLTransfer builds and signs a SystemProgram transfer of
// lamports from fromPrincipal's derived SVM account to the given
// recipient account.
func (b *Builder) BuildSOLTransfer(ctx context.Context, fromPrincipal string, to [32]byte, lamports uint64, recentBlockhash [32]byte) ([]byte, error) {
	pub, _, err := b.Signer.DeriveSubkey(ctx, fromPrincipal)
	if err != nil {
		return nil, err
	}
	from := keys.SVMAccount(pub)
	if from == to {
		return nil, apperrors.BadRequest("transfer to self", nil)
	}

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], svmSystemTransferTag)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	accounts := [][32]byte{from, to, svmSystemProgram}
	msg := svmMessage(accounts, recentBlockhash, 2, []byte{0, 1}, data)
	return b.signSVMMessage(ctx, fromPrincipal, msg)
}

// BuildSPLTransfer builds and signs an SPL token transfer of amount
// base units between two token accounts, authorized by
// fromPrincipal's derived SVM account.
func (b *Builder) BuildSPLTransfer(ctx context.Context, fromPrincipal string, sourceTokenAccount, destTokenAccount [32]byte, amount uint64, recentBlockhash [32]byte) ([]byte, error) {
	pub, _, err := b.Signer.DeriveSubkey(ctx, fromPrincipal)
	if err != nil {
		return nil, err
	}
	authority := keys.SVMAccount(pub)
	if sourceTokenAccount == destTokenAccount {
		return nil, apperrors.BadRequest("transfer to self", nil)
	}

	data := make([]byte, 9)
	data[0] = svmTokenTransferTag
	binary.LittleEndian.PutUint64(data[1:9], amount)

	accounts := [][32]byte{authority, sourceTokenAccount, destTokenAccount, svmTokenProgram}
	msg := svmMessage(accounts, recentBlockhash, 3, []byte{1, 2, 0}, data)
	return b.signSVMMessage(ctx, fromPrincipal, msg)
}
