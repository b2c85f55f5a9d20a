package mempool

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// AdmissionState classifies how an entry currently relates to block
// inclusion eligibility.
type AdmissionState uint8

const (
	// StateSecondary marks an entry that has not cleared the admission
	// fee rate, individually or through its accumulated ancestor chain.
	// Secondary entries are held but never block-eligible, and carry
	// grouping data so a later descendant can pull the chain up.
	StateSecondary AdmissionState = iota

	// StateStandalone marks an entry whose own fee rate clears the
	// admission threshold. It is primary on its own and carries neither
	// grouping data nor a group reference.
	StateStandalone

	// StateGroupMember marks an entry admitted as part of a
	// child-pays-for-parent group. Group membership is a form of primary
	// admission: only the group aggregate was fee-checked, never the
	// member individually.
	StateGroupMember
)

// String returns the admission state as a human-readable string.
func (s AdmissionState) String() string {
	switch s {
	case StateSecondary:
		return "secondary"
	case StateStandalone:
		return "standalone"
	case StateGroupMember:
		return "groupmember"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// GroupingData is the accumulated fee/size snapshot a secondary entry
// carries on behalf of itself and every still-secondary ancestor. A later
// descendant extends it instead of re-walking the whole chain on the fast
// path, and the admission decision for a prospective group is made against
// these aggregates.
type GroupingData struct {
	// AccumulatedFee is the summed modified fee (fee plus delta) of the
	// entry and its still-secondary ancestors.
	AccumulatedFee btcutil.Amount

	// AccumulatedSize is the summed serialized size of the same set.
	AccumulatedSize int64

	// AncestorCount is the number of still-secondary ancestors covered
	// by the snapshot, not counting the entry itself.
	AncestorCount int
}

// Entry is the unit of the pool graph: one transaction plus the derived
// metadata the admission and eviction machinery needs. The transaction body
// is shared with the external storage layer, which may hold the only
// on-disk copy.
//
// An entry is in exactly one admission state at any time, and the state
// payloads are mutually exclusive: grouping data exists only while
// secondary, a group reference only while grouped, and a standalone primary
// entry carries neither. All mutators in this file preserve that invariant.
type Entry struct {
	// Tx is the transaction body.
	Tx *btcutil.Tx

	// TxHash is the transaction identifier, cached to avoid repeated
	// pointer chasing in map lookups.
	TxHash chainhash.Hash

	// Fee is the raw fee the transaction pays.
	Fee btcutil.Amount

	// Size is the serialized transaction size in bytes.
	Size int64

	// Sequence is the monotonic insertion sequence number. Because a
	// parent is always inserted before its children, sequence order is a
	// topological order and serves as the tie-break everywhere a
	// deterministic ordering is needed.
	Sequence uint64

	// FeeDelta is a manual priority override added to the raw fee in all
	// admission and scoring decisions.
	FeeDelta btcutil.Amount

	// usage is the dynamic memory footprint attributed to this entry,
	// computed once at admission and released on removal.
	usage int64

	state    AdmissionState
	grouping *GroupingData
	group    *Group
}

// State returns the entry's current admission state.
func (e *Entry) State() AdmissionState {
	return e.state
}

// IsPrimary reports whether the entry is currently eligible for block
// inclusion, either standalone or through group membership.
func (e *Entry) IsPrimary() bool {
	return e.state != StateSecondary
}

// ModifiedFee returns the fee used for admission and scoring decisions: the
// raw fee adjusted by the manual priority delta.
func (e *Entry) ModifiedFee() btcutil.Amount {
	return e.Fee + e.FeeDelta
}

// GroupingData returns the accumulated snapshot held while secondary. The
// boolean is false for primary entries, which legitimately have none.
func (e *Entry) GroupingData() (*GroupingData, bool) {
	return e.grouping, e.grouping != nil
}

// Group returns the group the entry belongs to, if any.
func (e *Entry) Group() (*Group, bool) {
	return e.group, e.group != nil
}

// setStandalone promotes the entry to standalone primary, clearing any
// grouping data or group reference.
func (e *Entry) setStandalone() {
	e.state = StateStandalone
	e.grouping = nil
	e.group = nil
}

// setSecondary demotes or initializes the entry as secondary with the given
// accumulated snapshot. A nil snapshot is permitted transiently while a
// disbanded group's survivors await re-evaluation.
func (e *Entry) setSecondary(gd *GroupingData) {
	e.state = StateSecondary
	e.grouping = gd
	e.group = nil
}

// setGroup makes the entry a member of the given group, clearing grouping
// data per the exclusive-state invariant.
func (e *Entry) setGroup(g *Group) {
	e.state = StateGroupMember
	e.grouping = nil
	e.group = g
}

// feeRatePerKB computes a fee rate in satoshi per 1000 bytes from a fee and
// size, the same unit btcd uses for relay fee policy.
func feeRatePerKB(fee btcutil.Amount, size int64) int64 {
	if size == 0 {
		return 0
	}
	return int64(fee) * 1000 / size
}
