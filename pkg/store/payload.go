package store

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/onebridge/evm-bridge/pkg/bridge"
)

// targetDTO is the wire form of a BridgeTarget inside a logPayload.
type targetDTO struct {
	Kind  string `msgpack:"kind"`
	Chain string `msgpack:"chain,omitempty"`
}

func targetToDTO(t bridge.BridgeTarget) targetDTO {
	if evm, ok := t.(bridge.EvmTarget); ok {
		return targetDTO{Kind: "evm", Chain: evm.Chain}
	}
	return targetDTO{Kind: "native"}
}

func targetFromDTO(d targetDTO) (bridge.BridgeTarget, error) {
	switch d.Kind {
	case "native":
		return bridge.NativeTarget{}, nil
	case "evm":
		return bridge.EvmTarget{Chain: d.Chain}, nil
	default:
		return nil, fmt.Errorf("unknown bridge target kind %q", d.Kind)
	}
}

// txDTO is the wire form of a BridgeTx inside a logPayload.
type txDTO struct {
	Kind      string `msgpack:"kind"`
	Finalized bool   `msgpack:"finalized"`
	Height    uint64 `msgpack:"height,omitempty"`
	Hash      []byte `msgpack:"hash,omitempty"`
}

func txToDTO(tx bridge.BridgeTx) *txDTO {
	switch t := tx.(type) {
	case bridge.NativeTx:
		return &txDTO{Kind: "native", Finalized: t.FinalizedFlag, Height: t.BlockHeight}
	case bridge.EvmTx:
		hash := append([]byte(nil), t.TxHash[:]...)
		return &txDTO{Kind: "evm", Finalized: t.FinalizedFlag, Hash: hash}
	default:
		return nil
	}
}

func txFromDTO(d *txDTO) (bridge.BridgeTx, error) {
	if d == nil {
		return nil, nil
	}
	switch d.Kind {
	case "native":
		return bridge.NativeTx{FinalizedFlag: d.Finalized, BlockHeight: d.Height}, nil
	case "evm":
		var hash [32]byte
		copy(hash[:], d.Hash)
		return bridge.EvmTx{FinalizedFlag: d.Finalized, TxHash: hash}, nil
	default:
		return nil, fmt.Errorf("unknown bridge tx kind %q", d.Kind)
	}
}

// logPayload is the durable-log record's in-memory projection. It
// implements msgpack.CustomEncoder/CustomDecoder directly so it can
// write the storage format's short field names while accepting
// either short or long names on read (forward/backward compatibility
// across a field-name rename).
type logPayload struct {
	User        string
	From        targetDTO
	To          targetDTO
	ToAddr      string
	ICPAmount   uint64
	Fee         uint64
	FromTx      *txDTO
	ToTx        *txDTO
	CreatedAt   int64
	FinalizedAt int64
	Error       string
}

func toPayload(l *bridge.BridgeLog) logPayload {
	return logPayload{
		User:        l.User,
		From:        targetToDTO(l.From),
		To:          targetToDTO(l.To),
		ToAddr:      l.ToAddr,
		ICPAmount:   l.ICPAmount,
		Fee:         l.Fee,
		FromTx:      txToDTO(l.FromTx),
		ToTx:        txToDTO(l.ToTx),
		CreatedAt:   l.CreatedAt,
		FinalizedAt: l.FinalizedAt,
		Error:       l.Error,
	}
}

func (p logPayload) toBridgeLog() (bridge.BridgeLog, error) {
	from, err := targetFromDTO(p.From)
	if err != nil {
		return bridge.BridgeLog{}, fmt.Errorf("decode from: %w", err)
	}
	to, err := targetFromDTO(p.To)
	if err != nil {
		return bridge.BridgeLog{}, fmt.Errorf("decode to: %w", err)
	}
	fromTx, err := txFromDTO(p.FromTx)
	if err != nil {
		return bridge.BridgeLog{}, fmt.Errorf("decode from_tx: %w", err)
	}
	toTx, err := txFromDTO(p.ToTx)
	if err != nil {
		return bridge.BridgeLog{}, fmt.Errorf("decode to_tx: %w", err)
	}
	return bridge.BridgeLog{
		User:        p.User,
		From:        from,
		To:          to,
		ToAddr:      p.ToAddr,
		ICPAmount:   p.ICPAmount,
		Fee:         p.Fee,
		FromTx:      fromTx,
		ToTx:        toTx,
		CreatedAt:   p.CreatedAt,
		FinalizedAt: p.FinalizedAt,
		Error:       p.Error,
	}, nil
}

// EncodeMsgpack writes the payload as a map using the short field
// names (`u,f,t,a,e,ft,tt,ta,ca,fa,er`). Absent optional
// fields (to_addr, error) are skipped entirely rather than written as
// empty strings.
func (p logPayload) EncodeMsgpack(enc *msgpack.Encoder) error {
	n := 9
	if p.ToAddr != "" {
		n++
	}
	if p.Error != "" {
		n++
	}
	if err := enc.EncodeMapLen(n); err != nil {
		return err
	}

	write := func(key string, val interface{}) error {
		if err := enc.EncodeString(key); err != nil {
			return err
		}
		return enc.Encode(val)
	}

	if err := write("u", p.User); err != nil {
		return err
	}
	if err := write("f", p.From); err != nil {
		return err
	}
	if err := write("t", p.To); err != nil {
		return err
	}
	if p.ToAddr != "" {
		if err := write("ta", p.ToAddr); err != nil {
			return err
		}
	}
	if err := write("a", p.ICPAmount); err != nil {
		return err
	}
	if err := write("e", p.Fee); err != nil {
		return err
	}
	if err := write("ft", p.FromTx); err != nil {
		return err
	}
	if err := write("tt", p.ToTx); err != nil {
		return err
	}
	if err := write("ca", p.CreatedAt); err != nil {
		return err
	}
	if err := write("fa", p.FinalizedAt); err != nil {
		return err
	}
	if p.Error != "" {
		if err := write("er", p.Error); err != nil {
			return err
		}
	}
	return nil
}

// fieldAliases maps every long field name to its short canonical form
// so DecodeMsgpack can accept either on read.
var fieldAliases = map[string]string{
	"user": "u", "from": "f", "to": "t", "to_addr": "ta",
	"icp_amount": "a", "fee": "e", "from_tx": "ft", "to_tx": "tt",
	"created_at": "ca", "finalized_at": "fa", "error": "er",
}

// DecodeMsgpack reads a payload map, accepting both the short field
// names it is written with and their long aliases.
func (p *logPayload) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return err
		}
		if canon, ok := fieldAliases[key]; ok {
			key = canon
		}

		switch key {
		case "u":
			if p.User, err = dec.DecodeString(); err != nil {
				return err
			}
		case "f":
			if err = dec.Decode(&p.From); err != nil {
				return err
			}
		case "t":
			if err = dec.Decode(&p.To); err != nil {
				return err
			}
		case "ta":
			if p.ToAddr, err = dec.DecodeString(); err != nil {
				return err
			}
		case "a":
			if p.ICPAmount, err = dec.DecodeUint64(); err != nil {
				return err
			}
		case "e":
			if p.Fee, err = dec.DecodeUint64(); err != nil {
				return err
			}
		case "ft":
			if err = dec.Decode(&p.FromTx); err != nil {
				return err
			}
		case "tt":
			if err = dec.Decode(&p.ToTx); err != nil {
				return err
			}
		case "ca":
			if p.CreatedAt, err = dec.DecodeInt64(); err != nil {
				return err
			}
		case "fa":
			if p.FinalizedAt, err = dec.DecodeInt64(); err != nil {
				return err
			}
		case "er":
			if p.Error, err = dec.DecodeString(); err != nil {
				return err
			}
		default:
			if err = dec.Skip(); err != nil {
				return err
			}
		}
	}
	return nil
}

// EncodeBridgeLog marshals a finalized log into its durable wire form.
func EncodeBridgeLog(l *bridge.BridgeLog) ([]byte, error) {
	return msgpack.Marshal(toPayload(l))
}

// DecodeBridgeLog unmarshals a durable log payload back into a
// BridgeLog, with ID left unset (the caller fills it in from the
// owning row's primary key).
func DecodeBridgeLog(data []byte) (bridge.BridgeLog, error) {
	var p logPayload
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return bridge.BridgeLog{}, fmt.Errorf("unmarshal bridge log payload: %w", err)
	}
	return p.toBridgeLog()
}
