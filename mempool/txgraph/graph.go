package txgraph

import (
	"errors"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	// ErrEntryExists is returned when attempting to add a duplicate entry.
	ErrEntryExists = errors.New("entry already exists in graph")

	// ErrEntryNotFound is returned when an entry is not found in the graph.
	ErrEntryNotFound = errors.New("entry not found in graph")

	// ErrHasChildren is returned when attempting to remove an entry that
	// still has in-graph children. Callers must remove descendants first;
	// hitting this error means the caller and the graph have diverged.
	ErrHasChildren = errors.New("entry still has children")
)

// SequenceFunc returns the insertion sequence number for an entry. The graph
// itself does not store sequence numbers; callers supply this when they need
// a deterministic topological ordering.
type SequenceFunc func(chainhash.Hash) uint64

// Graph is an identifier-keyed dependency DAG over mempool entries. Each
// entry is known only by its transaction hash; edges connect an entry to the
// in-pool transactions whose outputs it spends (parents) and to the in-pool
// transactions that spend its outputs (children).
//
// Edges are always symmetric: A is recorded as a parent of B exactly when B
// is recorded as a child of A. The graph is acyclic by construction because
// a transaction can only reference outputs of transactions that already
// exist, so no cycle check is performed on insertion.
type Graph struct {
	// parents maps an entry to the set of entries it directly depends on.
	// Only in-graph parents appear here; confirmed inputs are invisible
	// to the graph.
	parents map[chainhash.Hash]map[chainhash.Hash]struct{}

	// children maps an entry to the set of entries that directly depend
	// on it. Kept in lock-step with parents.
	children map[chainhash.Hash]map[chainhash.Hash]struct{}

	// edgeCount tracks the number of parent/child links for diagnostics.
	edgeCount int

	// mu allows concurrent read-only queries while serializing mutations.
	// The surrounding pool additionally holds its own writer lock across
	// whole logical operations, so this mutex only guards the graph's own
	// internal consistency.
	mu sync.RWMutex
}

// New creates an empty dependency graph.
func New() *Graph {
	return &Graph{
		parents:  make(map[chainhash.Hash]map[chainhash.Hash]struct{}),
		children: make(map[chainhash.Hash]map[chainhash.Hash]struct{}),
	}
}

// AddEntry links a new entry to each of the given parents. Every parent must
// already be present in the graph; the caller resolves which inputs refer to
// in-pool transactions before calling. Duplicate additions fail with
// ErrEntryExists and a missing parent fails with ErrEntryNotFound, in both
// cases without mutating the graph.
func (g *Graph) AddEntry(hash chainhash.Hash, parents []chainhash.Hash) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.parents[hash]; exists {
		return ErrEntryExists
	}
	for _, parent := range parents {
		if _, exists := g.parents[parent]; !exists {
			return ErrEntryNotFound
		}
	}

	parentSet := make(map[chainhash.Hash]struct{}, len(parents))
	for _, parent := range parents {
		// A transaction may spend several outputs of the same parent;
		// the edge is recorded once.
		if _, dup := parentSet[parent]; dup {
			continue
		}
		parentSet[parent] = struct{}{}
		g.children[parent][hash] = struct{}{}
		g.edgeCount++
	}

	g.parents[hash] = parentSet
	g.children[hash] = make(map[chainhash.Hash]struct{})

	return nil
}

// RemoveEntry detaches an entry from the graph and returns its former parent
// set so the caller can re-evaluate those entries (they may have become
// childless). The entry must currently have no children: descendants are
// always removed first, leaf to root. Violating that precondition is a caller
// bug and fails with ErrHasChildren.
func (g *Graph) RemoveEntry(hash chainhash.Hash) ([]chainhash.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	parentSet, exists := g.parents[hash]
	if !exists {
		return nil, ErrEntryNotFound
	}
	if len(g.children[hash]) != 0 {
		return nil, ErrHasChildren
	}

	formerParents := make([]chainhash.Hash, 0, len(parentSet))
	for parent := range parentSet {
		delete(g.children[parent], hash)
		g.edgeCount--
		formerParents = append(formerParents, parent)
	}

	delete(g.parents, hash)
	delete(g.children, hash)

	return formerParents, nil
}

// RemoveEntryDetachChildren removes an entry while leaving its children in
// the graph. This is the confirmation path: a transaction mined into a block
// leaves the pool but its children remain valid, now spending a confirmed
// output. Each child simply loses the removed entry from its parent set.
// Returns the former parent set like RemoveEntry.
func (g *Graph) RemoveEntryDetachChildren(
	hash chainhash.Hash,
) ([]chainhash.Hash, error) {

	g.mu.Lock()
	defer g.mu.Unlock()

	parentSet, exists := g.parents[hash]
	if !exists {
		return nil, ErrEntryNotFound
	}

	for child := range g.children[hash] {
		delete(g.parents[child], hash)
		g.edgeCount--
	}
	formerParents := make([]chainhash.Hash, 0, len(parentSet))
	for parent := range parentSet {
		delete(g.children[parent], hash)
		g.edgeCount--
		formerParents = append(formerParents, parent)
	}

	delete(g.parents, hash)
	delete(g.children, hash)

	return formerParents, nil
}

// Parents returns the direct parents of an entry. The boolean reports whether
// the entry exists; a present entry with no in-pool parents yields an empty
// slice.
func (g *Graph) Parents(hash chainhash.Hash) ([]chainhash.Hash, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	set, exists := g.parents[hash]
	if !exists {
		return nil, false
	}
	return setToSlice(set), true
}

// Children returns the direct children of an entry.
func (g *Graph) Children(hash chainhash.Hash) ([]chainhash.Hash, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	set, exists := g.children[hash]
	if !exists {
		return nil, false
	}
	return setToSlice(set), true
}

// HasEntry checks whether an entry is present in the graph.
func (g *Graph) HasEntry(hash chainhash.Hash) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, exists := g.parents[hash]
	return exists
}

// ChildCount returns the number of direct children of an entry, or zero when
// the entry is not present.
func (g *Graph) ChildCount(hash chainhash.Hash) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.children[hash])
}

// IsChildless reports whether an entry exists and has no children. Childless
// entries are the only eviction candidates.
func (g *Graph) IsChildless(hash chainhash.Hash) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	set, exists := g.children[hash]
	return exists && len(set) == 0
}

// Len returns the number of entries in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.parents)
}

// EdgeCount returns the number of parent/child links in the graph.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.edgeCount
}

// Ancestors returns the full transitive parent closure of an entry, not
// including the entry itself. The result order is unspecified; use
// SortTopological when a deterministic ordering is needed.
func (g *Graph) Ancestors(hash chainhash.Hash) []chainhash.Hash {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.walk(hash, g.parents)
}

// Descendants returns the full transitive child closure of an entry, not
// including the entry itself.
func (g *Graph) Descendants(hash chainhash.Hash) []chainhash.Hash {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.walk(hash, g.children)
}

// walk performs an iterative DFS over the given edge direction. Must be
// called with the lock held.
func (g *Graph) walk(
	start chainhash.Hash,
	edges map[chainhash.Hash]map[chainhash.Hash]struct{},
) []chainhash.Hash {

	if _, exists := edges[start]; !exists {
		return nil
	}

	var result []chainhash.Hash
	visited := map[chainhash.Hash]struct{}{start: {}}

	stack := NewStack[chainhash.Hash]()
	stack.Push(start)
	for {
		current, ok := stack.Pop()
		if !ok {
			break
		}
		for next := range edges[current] {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			result = append(result, next)
			stack.Push(next)
		}
	}

	return result
}

// SortTopological orders the given entries parents-before-children using the
// supplied insertion sequence numbers. Insertion order is itself a
// topological order for a transaction graph (a parent is always inserted
// before any child that spends it), so a plain sort by sequence suffices and
// also gives a stable tie-break between unrelated entries.
func SortTopological(hashes []chainhash.Hash, seq SequenceFunc) {
	sort.Slice(hashes, func(i, j int) bool {
		return seq(hashes[i]) < seq(hashes[j])
	})
}

func setToSlice(set map[chainhash.Hash]struct{}) []chainhash.Hash {
	s := make([]chainhash.Hash, 0, len(set))
	for hash := range set {
		s = append(s, hash)
	}
	return s
}
