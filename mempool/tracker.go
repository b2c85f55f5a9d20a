package mempool

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bitcoin-sv/bitcoin-sv-sub001/mempool/txgraph"
)

// Score is the worthlessness ranking used to pick eviction victims: the
// lowest score is evicted first. Scores compare lexicographically by class
// then fee rate, so secondary material always ranks below (is evicted
// before) every primary entry regardless of raw fee rate. The insertion
// sequence breaks fee rate ties, older entries first.
type Score struct {
	// Primary is false for secondary-mempool material. Secondary scores
	// compare below all primary scores.
	Primary bool

	// RatePerKB is the modified fee rate in satoshi per 1000 bytes. For
	// a group's paying transaction this is the group aggregate rate.
	RatePerKB int64

	// Sequence is the candidate's insertion sequence tie-break.
	Sequence uint64
}

// Less reports whether s ranks as more worthless than other.
func (s Score) Less(other Score) bool {
	if s.Primary != other.Primary {
		return !s.Primary
	}
	if s.RatePerKB != other.RatePerKB {
		return s.RatePerKB < other.RatePerKB
	}
	return s.Sequence < other.Sequence
}

// ScoreFunc computes the worthlessness score for an entry. Implementations
// must keep the required shape: monotonic in fee-per-byte within a class,
// with every secondary entry scoring strictly below every primary one.
type ScoreFunc func(e *Entry) Score

// defaultScore ranks candidates by modified fee rate within the
// secondary-before-primary class split. A grouped entry is scored on its
// group's aggregate fee and size, since that aggregate is what admission
// actually evaluated.
func defaultScore(e *Entry) Score {
	if g, ok := e.Group(); ok {
		return Score{
			Primary:   true,
			RatePerKB: g.FeeRatePerKB(),
			Sequence:  e.Sequence,
		}
	}
	return Score{
		Primary:   e.IsPrimary(),
		RatePerKB: feeRatePerKB(e.ModifiedFee(), e.Size),
		Sequence:  e.Sequence,
	}
}

// EntryResolver looks up a live entry by transaction hash. The tracker
// stores only hashes, never entry pointers, so a candidate can never
// outlive the entry it names; resolution happens through the pool's one
// authoritative entry table.
type EntryResolver func(hash chainhash.Hash) (*Entry, bool)

// candidate is one tracked eviction candidate. Expired candidates stay in
// the heap with valid=false and are skipped lazily on pop.
type candidate struct {
	txHash chainhash.Hash
	score  Score
	valid  bool
}

// CandidateTracker maintains the set of eviction candidates: exactly the
// childless entries of the pool, where a grouped entry counts as childless
// only if it is the group's paying transaction and no member has a child
// outside the group.
//
// The priority structure is lazily invalidated: expiring a candidate only
// flags it, leaving the heap untouched. Stale items are skipped when popped,
// and once the expired-to-valid ratio crosses the configured threshold the
// whole heap is filtered and rebuilt in one O(n) pass, bounding amortized
// cost without the bookkeeping of an always-consistent indexed heap.
//
// The tracker performs no locking of its own; the pool mutates it only
// under its writer lock, together with the graph and group state it must
// stay consistent with.
type CandidateTracker struct {
	graph   *txgraph.Graph
	resolve EntryResolver
	score   ScoreFunc

	// compactionRatio triggers a rebuild when expired > ratio * valid.
	compactionRatio float64

	heap *txgraph.PriorityQueue[*candidate]

	// byTx indexes the currently valid candidates by their key hash: the
	// entry's own hash, or the paying tx hash for a grouped candidate.
	byTx map[chainhash.Hash]*candidate

	// expired counts invalidated candidates still sitting in the heap.
	expired int
}

// NewCandidateTracker creates a tracker over the given graph. Entries are
// resolved through resolve; score may be nil to use the default
// secondary-before-primary fee rate score.
func NewCandidateTracker(graph *txgraph.Graph, resolve EntryResolver,
	score ScoreFunc, compactionRatio float64) *CandidateTracker {

	if score == nil {
		score = defaultScore
	}
	t := &CandidateTracker{
		graph:           graph,
		resolve:         resolve,
		score:           score,
		compactionRatio: compactionRatio,
		byTx:            make(map[chainhash.Hash]*candidate),
	}
	t.heap = txgraph.NewPriorityQueue(func(a, b *candidate) bool {
		return a.score.Less(b.score)
	})
	return t
}

// EntryAdded records a newly admitted entry. Each direct parent stops being
// childless, so any candidate stored under the parent's own hash or under
// its group's paying tx is expired; the new entry itself starts childless
// and becomes a valid candidate. Both keys are expired because admission may
// have regrouped the parent between its last candidate insert and now.
func (t *CandidateTracker) EntryAdded(e *Entry) {
	parents, _ := t.graph.Parents(e.TxHash)
	for _, parentHash := range parents {
		t.invalidate(parentHash)
		parent, ok := t.resolve(parentHash)
		if !ok {
			continue
		}
		if g, ok := parent.Group(); ok {
			t.invalidate(g.PayingTx())
		}
	}
	t.insert(e)
}

// EntryRemoved records a removal. The removed entry's candidate is expired,
// and every former parent that became childless again is reinstated as a
// candidate (through its group's paying tx where applicable).
func (t *CandidateTracker) EntryRemoved(txHash chainhash.Hash,
	formerParents []chainhash.Hash) {

	t.invalidate(txHash)
	for _, parentHash := range formerParents {
		parent, ok := t.resolve(parentHash)
		if !ok {
			continue
		}
		t.insert(parent)
	}
}

// EntryModified refreshes the candidate for an entry whose score inputs
// changed (fee delta, group membership). The old candidate is expired and a
// new one inserted with a freshly computed score, if the entry is still
// eligible.
func (t *CandidateTracker) EntryModified(e *Entry) {
	t.invalidate(e.TxHash)
	if g, ok := e.Group(); ok {
		t.invalidate(g.PayingTx())
	}
	t.insert(e)
}

// GetMostWorthless returns the valid candidate with the lowest score.
// Returns ErrNoCandidates when no valid candidate exists, which for a
// non-empty pool means caller and tracker have diverged.
func (t *CandidateTracker) GetMostWorthless() (*Entry, error) {
	for {
		c, ok := t.heap.Peek()
		if !ok {
			return nil, ErrNoCandidates
		}
		if !c.valid {
			t.heap.Pop()
			t.expired--
			continue
		}
		e, ok := t.resolve(c.txHash)
		if !ok {
			// The entry vanished without an EntryRemoved
			// notification. Drop the stale candidate and keep
			// going rather than handing out a dangling hash.
			log.Warnf("eviction candidate %v has no backing entry",
				c.txHash)
			t.heap.Pop()
			delete(t.byTx, c.txHash)
			continue
		}
		return e, nil
	}
}

// GetAllCandidates returns every currently valid candidate entry. Intended
// for diagnostics and tests; the order is unspecified.
func (t *CandidateTracker) GetAllCandidates() []*Entry {
	entries := make([]*Entry, 0, len(t.byTx))
	for hash := range t.byTx {
		if e, ok := t.resolve(hash); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

// Len returns the number of valid candidates.
func (t *CandidateTracker) Len() int {
	return len(t.byTx)
}

// Rebuild discards all tracker state and reseeds it from the given entries,
// inserting every currently childless one. This is the construction path
// for a pool rebuilt from surviving entries.
func (t *CandidateTracker) Rebuild(entries []*Entry) {
	t.byTx = make(map[chainhash.Hash]*candidate, len(entries))
	t.expired = 0
	t.heap.Reinit(nil)
	for _, e := range entries {
		t.insert(e)
	}
}

// keyFor maps an entry to its candidate key: its own hash, or the group's
// paying tx hash when grouped.
func (t *CandidateTracker) keyFor(e *Entry) chainhash.Hash {
	if g, ok := e.Group(); ok {
		return g.PayingTx()
	}
	return e.TxHash
}

// eligible reports whether the entry's candidate key currently qualifies as
// childless. For a grouped entry the group-childless rule applies: the key
// is the paying tx and no member may have a child outside the group.
func (t *CandidateTracker) eligible(e *Entry) bool {
	g, grouped := e.Group()
	if !grouped {
		return t.graph.IsChildless(e.TxHash)
	}
	return t.groupChildless(g)
}

// groupChildless reports whether no member of the group has a child outside
// the group.
func (t *CandidateTracker) groupChildless(g *Group) bool {
	members := g.Members()
	memberSet := make(map[chainhash.Hash]struct{}, len(members))
	for _, m := range members {
		memberSet[m.TxHash] = struct{}{}
	}
	for _, m := range members {
		children, _ := t.graph.Children(m.TxHash)
		for _, child := range children {
			if _, in := memberSet[child]; !in {
				return false
			}
		}
	}
	return true
}

// insert adds a valid candidate for the entry's key if it is eligible and
// not already tracked.
func (t *CandidateTracker) insert(e *Entry) {
	if !t.eligible(e) {
		return
	}
	key := t.keyFor(e)
	if _, tracked := t.byTx[key]; tracked {
		return
	}
	scored, ok := t.resolve(key)
	if !ok {
		return
	}
	c := &candidate{
		txHash: key,
		score:  t.score(scored),
		valid:  true,
	}
	t.byTx[key] = c
	t.heap.Push(c)
}

// invalidate expires the candidate stored under key, if any, leaving the
// stale heap item to be skipped or compacted away later.
func (t *CandidateTracker) invalidate(key chainhash.Hash) {
	c, ok := t.byTx[key]
	if !ok {
		return
	}
	c.valid = false
	delete(t.byTx, key)
	t.expired++
	t.maybeCompact()
}

// maybeCompact rebuilds the heap from the valid set once expired items
// outnumber valid ones by the configured ratio. The rebuild is a single
// heapify over the surviving candidates.
func (t *CandidateTracker) maybeCompact() {
	if t.expired == 0 {
		return
	}
	if float64(t.expired) <= t.compactionRatio*float64(len(t.byTx)) {
		return
	}
	items := make([]*candidate, 0, len(t.byTx))
	for _, c := range t.byTx {
		items = append(items, c)
	}
	t.heap.Reinit(items)
	t.expired = 0

	log.Tracef("Compacted eviction candidate heap to %d entries",
		len(items))
}

// candidateStats reports the current valid and expired-but-still-heaped
// counts. Used by tests to verify the lazy expiry bookkeeping.
func (t *CandidateTracker) candidateStats() (valid, expired int) {
	return len(t.byTx), t.expired
}
