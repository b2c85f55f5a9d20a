package mempool

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// GroupID uniquely identifies a child-pays-for-parent group for the lifetime
// of the pool. IDs are never reused, so ascending ID order is also formation
// order.
type GroupID uint64

// Group is an immutable bundle of entries admitted together under a single
// aggregate fee check. Members are held in topological order with the paying
// transaction last: the paying transaction is the descendant whose fee
// covered the whole chain, and its hash is the group's identity in the
// eviction candidate tracker.
//
// A group is never partially modified. Any change to its membership
// (a member removed, a larger group superseding it) disbands the whole
// group, reverting survivors to ungrouped secondary status for
// re-evaluation.
type Group struct {
	// ID is the unique group identifier.
	ID GroupID

	// members holds the entries in topological order, paying tx last.
	members []*Entry

	// aggregateFee is the summed modified fee of all members.
	aggregateFee btcutil.Amount

	// aggregateSize is the summed serialized size of all members.
	aggregateSize int64

	// payingTx caches the hash of the last member in topological order.
	payingTx chainhash.Hash
}

// newGroup builds a group from members already sorted topologically
// (parents before children, paying transaction last) and flips every member
// into the grouped state. Aggregates are computed here so formation has one
// source of truth.
func newGroup(id GroupID, members []*Entry) *Group {
	g := &Group{
		ID:       id,
		members:  members,
		payingTx: members[len(members)-1].TxHash,
	}
	for _, member := range members {
		g.aggregateFee += member.ModifiedFee()
		g.aggregateSize += member.Size
		member.setGroup(g)
	}
	return g
}

// PayingTx returns the hash of the group's paying transaction, the
// topologically last member whose fee was evaluated on behalf of the whole
// group.
func (g *Group) PayingTx() chainhash.Hash {
	return g.payingTx
}

// Members returns the group members in topological order. The returned
// slice is the group's own backing storage and must not be mutated.
func (g *Group) Members() []*Entry {
	return g.members
}

// AggregateFee returns the summed modified fee of all members.
func (g *Group) AggregateFee() btcutil.Amount {
	return g.aggregateFee
}

// AggregateSize returns the summed serialized size of all members.
func (g *Group) AggregateSize() int64 {
	return g.aggregateSize
}

// FeeRatePerKB returns the group's aggregate fee rate, the figure that
// cleared the admission threshold at formation.
func (g *Group) FeeRatePerKB() int64 {
	return feeRatePerKB(g.aggregateFee, g.aggregateSize)
}

// disband clears every member's group reference, reverting each survivor to
// ungrouped secondary status with no grouping data. Callers re-evaluate the
// survivors afterwards; until then the nil snapshot marks them as pending.
func (g *Group) disband() {
	for _, member := range g.members {
		member.setSecondary(nil)
	}
}
