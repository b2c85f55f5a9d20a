package mempool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/lru"

	"github.com/bitcoin-sv/bitcoin-sv-sub001/mempool/txgraph"
)

// InputConfirmedPredicate reports whether a transaction input references an
// output that is already confirmed on-chain. The pool uses it only to seed
// the parent set of a newly inserted entry: an input must either reference
// an in-pool transaction or satisfy this predicate, otherwise the
// transaction is an orphan and is rejected.
type InputConfirmedPredicate func(outpoint wire.OutPoint) bool

// Config defines configuration for the transaction pool engine.
type Config struct {
	// MinFeeRate is the admission threshold in satoshi per 1000 bytes.
	// Entries (or groups) at or above this rate become primary; the rest
	// are held as secondary.
	MinFeeRate btcutil.Amount

	// MaxEntries limits pool capacity to prevent unbounded memory growth
	// independent of byte accounting. Zero disables the limit.
	MaxEntries int

	// CompactionRatio is the expired-to-valid ratio above which the
	// eviction candidate heap is filtered and rebuilt. The 1:1 default
	// bounds amortized cost at one rebuild per candidate churned.
	CompactionRatio float64

	// Score overrides the eviction worthlessness score. If nil, the
	// default secondary-before-primary fee rate score is used.
	Score ScoreFunc

	// RecentlyEvictedSize is the capacity of the recently-evicted txid
	// cache used by callers to reconcile outstanding references after a
	// trim.
	RecentlyEvictedSize uint
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() *Config {
	return &Config{
		MinFeeRate:          1000,
		MaxEntries:          100000,
		CompactionRatio:     1.0,
		RecentlyEvictedSize: 5000,
	}
}

// TxPool is the admission and eviction engine of the mempool: it owns the
// dependency graph between unconfirmed transactions, classifies entries as
// primary or secondary against the admission fee rate, bundles
// child-pays-for-parent chains into groups, and tracks which childless
// entries are the best candidates to discard under memory pressure.
//
// The pool validates nothing about transaction semantics; the storage layer
// hands it already-validated transactions and is told what the pool decided.
// All mutating operations run under a single writer lock so the graph, group
// and candidate structures always change atomically with respect to each
// other; read-only queries may run concurrently.
type TxPool struct {
	cfg Config

	graph   *txgraph.Graph
	entries map[chainhash.Hash]*Entry
	groups  map[GroupID]*Group
	tracker *CandidateTracker

	nextGroupID  GroupID
	lastSequence uint64

	// usage is the incrementally maintained dynamic memory footprint of
	// all entries, the figure TrimToSize compares against its budget.
	usage int64

	recentlyEvicted lru.Cache

	mtx sync.RWMutex
}

// New creates a transaction pool engine with the given configuration.
func New(cfg *Config) *TxPool {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	p := &TxPool{
		cfg:             *cfg,
		graph:           txgraph.New(),
		entries:         make(map[chainhash.Hash]*Entry),
		groups:          make(map[GroupID]*Group),
		recentlyEvicted: lru.NewCache(cfg.RecentlyEvictedSize),
	}
	p.tracker = NewCandidateTracker(
		p.graph, p.lookupEntry, cfg.Score, cfg.CompactionRatio,
	)

	return p
}

// lookupEntry is the tracker's resolver into the authoritative entry table.
// Not locked: the tracker is only driven while the pool lock is already
// held.
func (p *TxPool) lookupEntry(hash chainhash.Hash) (*Entry, bool) {
	e, ok := p.entries[hash]
	return e, ok
}

// AddEntry admits a validated transaction into the pool. Every input must
// reference either an in-pool transaction (which becomes a parent edge) or
// an output the isConfirmed predicate reports as confirmed; anything else is
// an orphan and fails with ErrOrphanEntry. The entry is linked into the
// graph, classified for admission (possibly forming a group), and registered
// with the eviction tracker.
func (p *TxPool) AddEntry(tx *btcutil.Tx, fee btcutil.Amount,
	isConfirmed InputConfirmedPredicate) (*Entry, error) {

	p.mtx.Lock()
	defer p.mtx.Unlock()

	hash := *tx.Hash()
	if _, exists := p.entries[hash]; exists {
		return nil, ErrEntryExists
	}
	if p.cfg.MaxEntries > 0 && len(p.entries) >= p.cfg.MaxEntries {
		return nil, fmt.Errorf("pool at capacity: %d entries",
			p.cfg.MaxEntries)
	}

	// Resolve each input to an in-pool parent or a confirmed output.
	parentSet := make(map[chainhash.Hash]struct{})
	for _, txIn := range tx.MsgTx().TxIn {
		prevOut := txIn.PreviousOutPoint
		if _, inPool := p.entries[prevOut.Hash]; inPool {
			parentSet[prevOut.Hash] = struct{}{}
			continue
		}
		if isConfirmed != nil && isConfirmed(prevOut) {
			continue
		}
		return nil, fmt.Errorf("%w: input %v", ErrOrphanEntry, prevOut)
	}
	parents := make([]chainhash.Hash, 0, len(parentSet))
	for parent := range parentSet {
		parents = append(parents, parent)
	}

	p.lastSequence++
	e := &Entry{
		Tx:       tx,
		TxHash:   hash,
		Fee:      fee,
		Size:     int64(tx.MsgTx().SerializeSize()),
		Sequence: p.lastSequence,
	}
	// The footprint is measured before the entry is wired into shared
	// group structures so the reflection walk stays within the entry.
	e.usage = entryMemUsage(e)

	if err := p.graph.AddEntry(hash, parents); err != nil {
		return nil, err
	}
	p.entries[hash] = e
	p.usage += e.usage

	p.evaluateAdmission(e)
	p.tracker.EntryAdded(e)

	log.Tracef("Admitted %v: fee %v, size %d, state %v (pool: %d "+
		"entries, %d bytes)", hash, fee, e.Size, e.State(),
		len(p.entries), p.usage)

	return e, nil
}

// RemoveSubtree removes an entry and, transitively, every in-pool descendant
// (eviction semantics: a descendant cannot stand without its ancestor). Any
// group touched by the removal is disbanded first, its surviving members
// reverted to secondary and re-evaluated. Returns the removed transaction
// hashes for the caller to reconcile against its own indexes.
func (p *TxPool) RemoveSubtree(
	txHash chainhash.Hash,
) ([]chainhash.Hash, error) {

	p.mtx.Lock()
	defer p.mtx.Unlock()

	return p.removeSubtreeLocked(txHash)
}

// removeSubtreeLocked implements RemoveSubtree with the pool lock held.
func (p *TxPool) removeSubtreeLocked(
	txHash chainhash.Hash,
) ([]chainhash.Hash, error) {

	root, ok := p.entries[txHash]
	if !ok {
		return nil, ErrEntryNotFound
	}

	removal := []*Entry{root}
	removalSet := map[chainhash.Hash]struct{}{txHash: {}}
	for _, hash := range p.graph.Descendants(txHash) {
		if e, present := p.entries[hash]; present {
			removal = append(removal, e)
			removalSet[hash] = struct{}{}
		}
	}

	// Disband every group the removal touches before detaching anything;
	// members outside the removal set survive as ungrouped secondary and
	// are re-evaluated once the graph has settled.
	var survivors []*Entry
	disbanded := make(map[GroupID]struct{})
	for _, e := range removal {
		g, grouped := e.Group()
		if !grouped {
			continue
		}
		if _, done := disbanded[g.ID]; done {
			continue
		}
		disbanded[g.ID] = struct{}{}
		for _, member := range p.disbandGroupLocked(g) {
			if _, gone := removalSet[member.TxHash]; !gone {
				survivors = append(survivors, member)
			}
		}
	}

	// Remove leaf to root. Children always carry a higher insertion
	// sequence than their parents, so descending sequence order
	// satisfies the graph's childless-removal precondition.
	sort.Slice(removal, func(i, j int) bool {
		return removal[i].Sequence > removal[j].Sequence
	})

	removed := make([]chainhash.Hash, 0, len(removal))
	for _, e := range removal {
		formerParents, err := p.graph.RemoveEntry(e.TxHash)
		if err != nil {
			return removed, fmt.Errorf("removing %v: %w",
				e.TxHash, err)
		}
		delete(p.entries, e.TxHash)
		p.usage -= e.usage
		p.tracker.EntryRemoved(e.TxHash, formerParents)
		removed = append(removed, e.TxHash)
	}

	p.reEvaluateLocked(survivors)

	log.Debugf("Removed subtree of %v: %d entries (pool: %d entries, "+
		"%d bytes)", txHash, len(removed), len(p.entries), p.usage)

	return removed, nil
}

// RemoveEntryNoCascade removes a single entry while leaving its children in
// the pool. This is the confirmation path: a transaction mined into a block
// leaves the pool but its children remain valid, now funded by a confirmed
// output. The children (and any disbanded group's survivors) are
// re-evaluated since their accumulated chains just shrank.
func (p *TxPool) RemoveEntryNoCascade(txHash chainhash.Hash) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	e, ok := p.entries[txHash]
	if !ok {
		return ErrEntryNotFound
	}

	var seeds []*Entry
	if g, grouped := e.Group(); grouped {
		for _, member := range p.disbandGroupLocked(g) {
			if member != e {
				seeds = append(seeds, member)
			}
		}
	}

	children, _ := p.graph.Children(txHash)
	for _, child := range children {
		if childEntry, present := p.entries[child]; present {
			seeds = append(seeds, childEntry)
		}
	}

	formerParents, err := p.graph.RemoveEntryDetachChildren(txHash)
	if err != nil {
		return err
	}
	delete(p.entries, txHash)
	p.usage -= e.usage
	p.tracker.EntryRemoved(txHash, formerParents)

	p.reEvaluateLocked(seeds)

	return nil
}

// ApplyFeeDelta adjusts an entry's manual priority override. The delta
// accumulates across calls. The entry (and, where it was grouped, the rest
// of its disbanded group) is re-classified under the new modified fee and
// its eviction candidate rescored.
func (p *TxPool) ApplyFeeDelta(txHash chainhash.Hash,
	delta btcutil.Amount) error {

	p.mtx.Lock()
	defer p.mtx.Unlock()

	e, ok := p.entries[txHash]
	if !ok {
		return ErrEntryNotFound
	}
	e.FeeDelta += delta

	// A grouped entry's delta changes the group aggregate, and groups
	// are immutable: disband and let re-evaluation decide what stands.
	seeds := []*Entry{e}
	if g, grouped := e.Group(); grouped {
		seeds = p.disbandGroupLocked(g)
	}
	p.reEvaluateLocked(seeds)

	log.Debugf("Applied fee delta %v to %v (modified fee now %v)",
		delta, txHash, e.ModifiedFee())

	return nil
}

// GetMostWorthless returns the current best eviction victim: the valid
// candidate with the lowest worthlessness score. Returns ErrNoCandidates
// when the pool has nothing evictable.
//
// This takes the writer lock despite being a query: skipping lazily expired
// heap items mutates the priority structure.
func (p *TxPool) GetMostWorthless() (*Entry, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	return p.tracker.GetMostWorthless()
}

// GetAllCandidates returns every currently valid eviction candidate, for
// diagnostics and tests. Order is unspecified.
func (p *TxPool) GetAllCandidates() []*Entry {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	return p.tracker.GetAllCandidates()
}

// HaveEntry reports whether the pool holds the given transaction.
func (p *TxPool) HaveEntry(txHash chainhash.Hash) bool {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	_, ok := p.entries[txHash]
	return ok
}

// FetchEntry returns the pool's entry for the given transaction, or
// ErrEntryNotFound.
func (p *TxPool) FetchEntry(txHash chainhash.Hash) (*Entry, error) {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	e, ok := p.entries[txHash]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return e, nil
}

// FetchGroup returns the group a transaction currently belongs to, or
// ErrNotGrouped.
func (p *TxPool) FetchGroup(txHash chainhash.Hash) (*Group, error) {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	e, ok := p.entries[txHash]
	if !ok {
		return nil, ErrEntryNotFound
	}
	g, grouped := e.Group()
	if !grouped {
		return nil, ErrNotGrouped
	}
	return g, nil
}

// Parents returns the direct in-pool parents of a transaction.
func (p *TxPool) Parents(txHash chainhash.Hash) ([]chainhash.Hash, bool) {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	return p.graph.Parents(txHash)
}

// Children returns the direct in-pool children of a transaction.
func (p *TxPool) Children(txHash chainhash.Hash) ([]chainhash.Hash, bool) {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	return p.graph.Children(txHash)
}

// Count returns the number of entries in the pool.
func (p *TxPool) Count() int {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	return len(p.entries)
}

// GroupCount returns the number of live groups.
func (p *TxPool) GroupCount() int {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	return len(p.groups)
}

// DynamicUsage returns the pool's current memory footprint in bytes, the
// figure TrimToSize trims against.
func (p *TxPool) DynamicUsage() int64 {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	return p.usage
}
