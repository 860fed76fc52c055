package bridge

// BridgeLog is an intent/history record. ID is assigned
// only after durable commit; a pending log carries a nil ID.
type BridgeLog struct {
	ID     *uint64
	User   string
	From   BridgeTarget
	To     BridgeTarget
	ToAddr string // optional recipient override; empty if unset

	ICPAmount uint64 // source-side native units, pre-fee
	Fee       uint64 // snapshot of the token bridge fee at admission

	FromTx BridgeTx
	ToTx   BridgeTx // nil until the destination side is submitted

	CreatedAt   int64 // admission time, ms
	FinalizedAt int64 // commit time, ms; 0 while pending

	Error string // last error observed for this intent, empty if none
}

// IsFinalized reports whether both sides of the intent are present
// and finalized.
func (l *BridgeLog) IsFinalized() bool {
	return l.FromTx != nil && l.FromTx.Finalized() && l.ToTx != nil && l.ToTx.Finalized()
}

// SameWith is the match the finalization engine uses to locate the
// pending entry a processed task came from: same user, from, to,
// amount, and from_tx identifier.
func (l *BridgeLog) SameWith(other *BridgeLog) bool {
	if l.User != other.User || !l.From.Equals(other.From) || !l.To.Equals(other.To) {
		return false
	}
	if l.ICPAmount != other.ICPAmount {
		return false
	}
	if l.FromTx == nil || other.FromTx == nil {
		return false
	}
	return l.FromTx.SameAs(other.FromTx)
}

// dedupMatches guards the admission dedup rule: the pending queue
// never contains two logs with identical (user, from, from_tx).
func dedupMatches(a, b *BridgeLog) bool {
	return a.User == b.User && a.From.Equals(b.From) && a.FromTx != nil && b.FromTx != nil && a.FromTx.SameAs(b.FromTx)
}
