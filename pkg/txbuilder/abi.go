package txbuilder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/onebridge/evm-bridge/pkg/apperrors"
)

// erc20TransferSelector is the 4-byte selector of
// transfer(address,uint256).
var erc20TransferSelector = []byte{0xa9, 0x05, 0x9c, 0xbb}

// PackERC20Transfer ABI-encodes a transfer(address,uint256) call: the
// selector followed by the recipient and amount, each left-padded to
// 32 bytes.
func PackERC20Transfer(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, erc20TransferSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

// ConvertDecimals rescales amount from the token's native decimals to
// a chain's on-contract decimals. Scaling down must not lose
// precision and scaling up must not overflow 256 bits; either case is
// a ConversionOverflow.
func ConvertDecimals(amount uint64, fromDecimals, toDecimals int) (*big.Int, error) {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), int32(toDecimals-fromDecimals))
	if !d.IsInteger() {
		return nil, apperrors.ConversionOverflow(fmt.Sprintf(
			"amount %d cannot be represented in %d decimals without precision loss", amount, toDecimals))
	}
	out := d.BigInt()
	if out.BitLen() > 256 {
		return nil, apperrors.ConversionOverflow(fmt.Sprintf(
			"amount %d overflows uint256 when scaled to %d decimals", amount, toDecimals))
	}
	return out, nil
}
