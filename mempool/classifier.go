package mempool

import (
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// requiredAdmissionFee returns the minimum fee an entry (or prospective
// group) of the given serialized size must pay to clear the admission
// threshold, expressed the same way relay fee minimums are computed: rate is
// satoshi per 1000 bytes, and a non-zero rate never rounds down to a zero
// required fee.
func requiredAdmissionFee(size int64, ratePerKB btcutil.Amount) btcutil.Amount {
	fee := btcutil.Amount(size) * ratePerKB / 1000
	if fee == 0 && ratePerKB > 0 {
		fee = ratePerKB
	}
	return fee
}

// chainScan is the result of walking a prospective paying transaction's
// ancestry: the still-secondary ancestors that would be covered by a new
// group, and any existing groups encountered on the way that the new group
// would supersede.
type chainScan struct {
	secondary  []*Entry
	foldGroups map[GroupID]*Group
}

// scanSecondaryChain walks the in-pool ancestry of e collecting every
// still-secondary ancestor. Standalone primary ancestors terminate their
// branch of the walk: they cleared the admission bar on their own and
// contribute nothing further. An ancestor that is a group member pulls its
// whole group into the fold set and the walk continues through every
// member's parents, so the prospective group stays topologically closed
// over non-standalone material.
//
// Because the walk visits the ancestor SET rather than summing per parent
// edge, an ancestor reachable through multiple paths is counted exactly
// once.
func (p *TxPool) scanSecondaryChain(e *Entry) *chainScan {
	scan := &chainScan{
		foldGroups: make(map[GroupID]*Group),
	}

	visited := map[chainhash.Hash]struct{}{e.TxHash: {}}
	pending := []chainhash.Hash{}
	enqueueParents := func(hash chainhash.Hash) {
		parents, _ := p.graph.Parents(hash)
		pending = append(pending, parents...)
	}
	enqueueParents(e.TxHash)

	for len(pending) > 0 {
		hash := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if _, seen := visited[hash]; seen {
			continue
		}
		visited[hash] = struct{}{}

		ancestor, ok := p.entries[hash]
		if !ok {
			// Graph and entry table diverged; nothing sane to do
			// mid-walk, so skip and let the caller's invariants
			// catch it.
			log.Errorf("graph entry %v missing from pool table",
				hash)
			continue
		}

		switch ancestor.State() {
		case StateStandalone:
			// Already primary on its own fee; boundary reached.

		case StateSecondary:
			scan.secondary = append(scan.secondary, ancestor)
			enqueueParents(hash)

		case StateGroupMember:
			g, _ := ancestor.Group()
			if _, folded := scan.foldGroups[g.ID]; folded {
				continue
			}
			scan.foldGroups[g.ID] = g
			for _, member := range g.Members() {
				if _, seen := visited[member.TxHash]; seen {
					continue
				}
				visited[member.TxHash] = struct{}{}
				enqueueParents(member.TxHash)
			}
		}
	}

	return scan
}

// evaluateAdmission classifies an entry after it has been linked into the
// graph, or re-classifies it after something it depended on changed. The
// decision is made against the accumulated chain: the entry's own modified
// fee and size plus every still-secondary ancestor's.
//
//   - The chain clears the threshold and there are no still-secondary
//     ancestors: the entry pays for itself and depends on nothing
//     unadmitted, so it is promoted standalone.
//   - The chain clears the threshold through one or more secondary
//     ancestors: the whole chain is promoted as one group with this entry
//     as paying transaction, superseding any smaller groups it runs
//     through.
//   - Otherwise the entry stays secondary, retaining the accumulated
//     snapshot for the next descendant to extend. This includes an entry
//     whose own fee would clear the bar but whose secondary ancestors drag
//     the chain under it: it cannot be block-eligible ahead of the
//     ancestors it spends, so it waits as secondary like the rest of the
//     chain.
//
// A chain that never accumulates enough fee simply stays secondary; that is
// a normal resting state, not a failure.
func (p *TxPool) evaluateAdmission(e *Entry) {
	// Entries folded into a group earlier in the same re-evaluation pass
	// are already settled.
	if e.State() == StateGroupMember {
		return
	}

	scan := p.scanSecondaryChain(e)
	gd := &GroupingData{
		AccumulatedFee:  e.ModifiedFee(),
		AccumulatedSize: e.Size,
		AncestorCount:   len(scan.secondary),
	}
	for _, ancestor := range scan.secondary {
		gd.AccumulatedFee += ancestor.ModifiedFee()
		gd.AccumulatedSize += ancestor.Size
	}

	required := requiredAdmissionFee(gd.AccumulatedSize, p.cfg.MinFeeRate)
	switch {
	case gd.AccumulatedFee < required:
		e.setSecondary(gd)

	case gd.AncestorCount == 0:
		wasSecondary := e.State() == StateSecondary
		e.setStandalone()
		if wasSecondary {
			log.Debugf("Promoted %v standalone", e.TxHash)
		}

	default:
		p.formGroupLocked(e, scan)
	}
}

// formGroupLocked promotes a scanned chain as a new group with paying as the
// paying transaction. Superseded groups are disbanded first, in ascending
// group ID order, and their members folded into the new, larger group. The
// member list is ordered by insertion sequence, which is a topological
// order. Must be called with the pool lock held.
func (p *TxPool) formGroupLocked(paying *Entry, scan *chainScan) *Group {
	members := make([]*Entry, 0,
		len(scan.secondary)+len(scan.foldGroups)+1)
	members = append(members, scan.secondary...)

	if len(scan.foldGroups) > 0 {
		ids := make([]GroupID, 0, len(scan.foldGroups))
		for id := range scan.foldGroups {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, id := range ids {
			g := scan.foldGroups[id]
			members = append(members, g.Members()...)
			p.tracker.invalidate(g.PayingTx())
			delete(p.groups, id)
			g.disband()
			log.Debugf("Superseded group %d (paying tx %v)",
				id, g.PayingTx())
		}
	}

	members = append(members, paying)
	sort.Slice(members, func(i, j int) bool {
		return members[i].Sequence < members[j].Sequence
	})

	// Members stop being individually tracked as eviction candidates; the
	// group is tracked through its paying tx from here on.
	for _, member := range members {
		p.tracker.invalidate(member.TxHash)
	}

	p.nextGroupID++
	group := newGroup(p.nextGroupID, members)
	p.groups[group.ID] = group

	log.Debugf("Formed group %d: %d members, fee %v, size %d, "+
		"paying tx %v", group.ID, len(members), group.AggregateFee(),
		group.AggregateSize(), group.PayingTx())

	return group
}

// disbandGroupLocked removes a group from the pool, expires its eviction
// candidate and reverts every member to ungrouped secondary status. It
// returns the members; the caller decides which of them survive and need
// re-evaluation. Must be called with the pool lock held.
func (p *TxPool) disbandGroupLocked(g *Group) []*Entry {
	delete(p.groups, g.ID)
	p.tracker.invalidate(g.PayingTx())
	g.disband()

	log.Debugf("Disbanded group %d (paying tx %v, %d members)",
		g.ID, g.PayingTx(), len(g.Members()))

	return g.Members()
}

// reEvaluateLocked re-runs admission classification for the seed entries and
// every still-secondary descendant whose accumulated chain may have changed.
// Entries are processed in insertion sequence order, i.e. ancestors first,
// so a promotion settles before any descendant reads the chain. Each
// processed entry's eviction candidate is refreshed. Must be called with the
// pool lock held.
func (p *TxPool) reEvaluateLocked(seeds []*Entry) {
	affected := make(map[chainhash.Hash]*Entry)
	for _, seed := range seeds {
		if _, present := p.entries[seed.TxHash]; !present {
			continue
		}
		affected[seed.TxHash] = seed
		for _, hash := range p.graph.Descendants(seed.TxHash) {
			descendant, ok := p.entries[hash]
			if !ok {
				continue
			}
			if descendant.State() == StateSecondary {
				affected[hash] = descendant
			}
		}
	}
	if len(affected) == 0 {
		return
	}

	ordered := make([]*Entry, 0, len(affected))
	for _, e := range affected {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})

	for _, e := range ordered {
		p.evaluateAdmission(e)
		p.tracker.EntryModified(e)
	}
}

// FormGroup forms a group from an explicitly supplied member list: the
// topologically ordered still-secondary ancestors of the paying transaction,
// paying transaction last. This is the hook the storage layer uses when it
// has already computed the chain; the member set is validated against the
// graph and ErrInvalidGroup is returned on any mismatch, since a malformed
// group would corrupt admission state.
func (p *TxPool) FormGroup(orderedMembers []chainhash.Hash) (*Group, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if len(orderedMembers) < 2 {
		return nil, ErrInvalidGroup
	}

	entries := make([]*Entry, len(orderedMembers))
	for i, hash := range orderedMembers {
		e, ok := p.entries[hash]
		if !ok {
			return nil, ErrEntryNotFound
		}
		if e.State() != StateSecondary {
			return nil, ErrInvalidGroup
		}
		if i > 0 && entries[i-1].Sequence >= e.Sequence {
			return nil, ErrInvalidGroup
		}
		entries[i] = e
	}

	paying := entries[len(entries)-1]
	scan := p.scanSecondaryChain(paying)
	if len(scan.foldGroups) != 0 {
		return nil, ErrInvalidGroup
	}
	if len(scan.secondary) != len(entries)-1 {
		return nil, ErrInvalidGroup
	}
	expected := make(map[chainhash.Hash]struct{}, len(scan.secondary))
	for _, e := range scan.secondary {
		expected[e.TxHash] = struct{}{}
	}
	for _, e := range entries[:len(entries)-1] {
		if _, ok := expected[e.TxHash]; !ok {
			return nil, ErrInvalidGroup
		}
	}

	group := p.formGroupLocked(paying, scan)
	p.tracker.EntryModified(paying)

	return group, nil
}

// DisbandGroup disbands the identified group. Surviving members revert to
// ungrouped secondary status and are immediately re-evaluated; they may
// re-group differently, become standalone primary, or settle as secondary.
func (p *TxPool) DisbandGroup(id GroupID) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	g, ok := p.groups[id]
	if !ok {
		return ErrNotGrouped
	}
	survivors := p.disbandGroupLocked(g)
	p.reEvaluateLocked(survivors)

	return nil
}
