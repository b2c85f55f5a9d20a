package mempool

import (
	"math"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestSingleLongChain verifies that a linear chain always exposes exactly
// one eviction candidate, its tip, and that repeated eviction unwinds the
// chain in strict leaf-to-root order.
func TestSingleLongChain(t *testing.T) {
	p := New(nil)

	prev := createTestTx([]wire.OutPoint{confirmedOutPoint()}, 1)
	addTx(t, p, prev, 0)
	inserted := []chainhash.Hash{*prev.Hash()}
	for i := 0; i < 8; i++ {
		next := createTestTx([]wire.OutPoint{outPoint(prev, 0)}, 1)
		tip := addTx(t, p, next, 0)
		inserted = append(inserted, tip.TxHash)
		prev = next

		require.Len(t, p.GetAllCandidates(), 1)
		require.Contains(t, candidateHashes(p), tip.TxHash)
	}

	// Reverse insertion order is leaf to root.
	for i := len(inserted) - 1; i >= 0; i-- {
		removed := evictOne(t, p)
		require.Equal(t, []chainhash.Hash{inserted[i]}, removed)
	}
	require.Equal(t, 0, p.Count())
}

// TestBroadTree verifies that a root with N independent children exposes
// exactly N candidates and that eviction drains them in non-decreasing
// fee-rate order within the secondary-before-primary class split.
func TestBroadTree(t *testing.T) {
	p := New(nil)

	root := createTestTx([]wire.OutPoint{confirmedOutPoint()}, 5)
	r := addTx(t, p, root, 100000)

	// Identical shapes, so rate order is fee order. 0 and 10 stay
	// secondary, the rest are standalone primary.
	fees := []btcutil.Amount{10, 6000, 0, 5000, 7000}
	byHash := make(map[chainhash.Hash]btcutil.Amount)
	for i, fee := range fees {
		tx := createTestTx([]wire.OutPoint{
			outPoint(root, uint32(i)),
		}, 1)
		e := addTx(t, p, tx, fee)
		byHash[e.TxHash] = fee
	}
	require.Len(t, p.GetAllCandidates(), len(fees))
	require.NotContains(t, candidateHashes(p), r.TxHash)

	var order []btcutil.Amount
	for i := 0; i < len(fees); i++ {
		removed := evictOne(t, p)
		require.Len(t, removed, 1)
		order = append(order, byHash[removed[0]])
	}
	require.Equal(t, []btcutil.Amount{0, 10, 5000, 6000, 7000}, order)

	// Only the root remains, now childless and evictable.
	require.Equal(t, []chainhash.Hash{r.TxHash}, evictOne(t, p))
	require.Equal(t, 0, p.Count())
}

// TestEvictionOrderNonDecreasing verifies that repeatedly evicting the most
// worthless candidate yields all secondary entries before any primary one,
// and within each class ascending fee rate.
func TestEvictionOrderNonDecreasing(t *testing.T) {
	p := New(nil)

	// Independent entries of identical shape, so rate order is fee order.
	// The first three stay secondary, the rest are standalone primary.
	fees := []btcutil.Amount{20, 0, 10, 7000, 5000, 6000}
	byHash := make(map[chainhash.Hash]btcutil.Amount)
	for _, fee := range fees {
		tx := createTestTx([]wire.OutPoint{confirmedOutPoint()}, 1)
		e := addTx(t, p, tx, fee)
		byHash[e.TxHash] = fee
	}
	require.Len(t, p.GetAllCandidates(), len(fees))

	var order []btcutil.Amount
	for p.Count() > 0 {
		removed := evictOne(t, p)
		require.Len(t, removed, 1)
		order = append(order, byHash[removed[0]])
	}

	require.Equal(t, []btcutil.Amount{
		0, 10, 20, 5000, 6000, 7000,
	}, order)

	_, err := p.GetMostWorthless()
	require.ErrorIs(t, err, ErrNoCandidates)
}

// TestSecondaryEvictedBeforePrimary pins the class split: a secondary entry
// is evicted before a primary one even when its own fee rate is the higher
// of the two inputs being compared within its chain context.
func TestSecondaryEvictedBeforePrimary(t *testing.T) {
	p := New(nil)

	// c pays well for its own size but is held secondary by its
	// underpaying parent.
	txA := createTestTx([]wire.OutPoint{confirmedOutPoint()}, 1)
	addTx(t, p, txA, 0)
	txC := createTestTx([]wire.OutPoint{outPoint(txA, 0)}, 1)
	c := addTx(t, p, txC, 100)
	require.Equal(t, StateSecondary, c.State())

	txP := createTestTx([]wire.OutPoint{confirmedOutPoint()}, 1)
	prim := addTx(t, p, txP, 5000)
	require.Equal(t, StateStandalone, prim.State())

	victim, err := p.GetMostWorthless()
	require.NoError(t, err)
	require.Equal(t, c.TxHash, victim.TxHash)
}

// TestGroupCandidateTransitions verifies the group-childless rule: a group
// is one candidate keyed by its paying tx, disappears while any member has
// an out-of-group child, and reappears when that child goes away.
func TestGroupCandidateTransitions(t *testing.T) {
	p := New(nil)

	txA := createTestTx([]wire.OutPoint{confirmedOutPoint()}, 2)
	addTx(t, p, txA, 0)
	txB := createTestTx([]wire.OutPoint{outPoint(txA, 0)}, 1)
	b := addTx(t, p, txB, 10000)

	require.Equal(t, 1, p.GroupCount())
	require.Len(t, p.GetAllCandidates(), 1)
	require.Contains(t, candidateHashes(p), b.TxHash)

	// A child of the non-paying member makes the group ineligible.
	txF := createTestTx([]wire.OutPoint{outPoint(txA, 1)}, 1)
	f := addTx(t, p, txF, 100000)
	require.Len(t, p.GetAllCandidates(), 1)
	require.Contains(t, candidateHashes(p), f.TxHash)

	// Removing that child reinstates the group candidate.
	_, err := p.RemoveSubtree(f.TxHash)
	require.NoError(t, err)
	require.Len(t, p.GetAllCandidates(), 1)
	require.Contains(t, candidateHashes(p), b.TxHash)
}

// TestLazyExpiryAndCompaction verifies the tracker's bookkeeping: expiry
// only flags heap items, pops skip stale items, and crossing the
// expired-to-valid ratio rebuilds the heap in one pass.
func TestLazyExpiryAndCompaction(t *testing.T) {
	p := New(nil)

	var txs []*btcutil.Tx
	for _, fee := range []btcutil.Amount{10, 20, 30} {
		tx := createTestTx([]wire.OutPoint{confirmedOutPoint()}, 1)
		addTx(t, p, tx, fee)
		txs = append(txs, tx)
	}
	valid, expired := p.tracker.candidateStats()
	require.Equal(t, 3, valid)
	require.Equal(t, 0, expired)

	// Removing the cheapest entry leaves its heap item behind, flagged.
	_, err := p.RemoveSubtree(*txs[0].Hash())
	require.NoError(t, err)
	valid, expired = p.tracker.candidateStats()
	require.Equal(t, 2, valid)
	require.Equal(t, 1, expired)

	// The stale item sits at the top of the heap; the next query skips
	// and discards it.
	victim, err := p.GetMostWorthless()
	require.NoError(t, err)
	require.Equal(t, *txs[1].Hash(), victim.TxHash)
	valid, expired = p.tracker.candidateStats()
	require.Equal(t, 2, valid)
	require.Equal(t, 0, expired)

	// One expired against one valid sits exactly on the default 1:1
	// ratio: no rebuild yet.
	_, err = p.RemoveSubtree(*txs[1].Hash())
	require.NoError(t, err)
	valid, expired = p.tracker.candidateStats()
	require.Equal(t, 1, valid)
	require.Equal(t, 1, expired)

	// The last removal tips the ratio and compacts everything away.
	_, err = p.RemoveSubtree(*txs[2].Hash())
	require.NoError(t, err)
	valid, expired = p.tracker.candidateStats()
	require.Equal(t, 0, valid)
	require.Equal(t, 0, expired)
}

// TestCompactionRatioZero verifies that a zero ratio compacts eagerly on
// every expiry.
func TestCompactionRatioZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompactionRatio = 0
	p := New(cfg)

	tx1 := createTestTx([]wire.OutPoint{confirmedOutPoint()}, 1)
	addTx(t, p, tx1, 10)
	tx2 := createTestTx([]wire.OutPoint{confirmedOutPoint()}, 1)
	addTx(t, p, tx2, 20)

	_, err := p.RemoveSubtree(*tx1.Hash())
	require.NoError(t, err)
	valid, expired := p.tracker.candidateStats()
	require.Equal(t, 1, valid)
	require.Equal(t, 0, expired)
}

// TestCustomScoreFunc verifies that a configured score override drives
// victim selection.
func TestCustomScoreFunc(t *testing.T) {
	cfg := DefaultConfig()
	// Newest first, ignoring fees entirely.
	cfg.Score = func(e *Entry) Score {
		return Score{Sequence: math.MaxUint64 - e.Sequence}
	}
	p := New(cfg)

	txOld := createTestTx([]wire.OutPoint{confirmedOutPoint()}, 1)
	addTx(t, p, txOld, 0)
	txNew := createTestTx([]wire.OutPoint{confirmedOutPoint()}, 1)
	newest := addTx(t, p, txNew, 100000)

	victim, err := p.GetMostWorthless()
	require.NoError(t, err)
	require.Equal(t, newest.TxHash, victim.TxHash)
}

// TestTrackerRebuild verifies reseeding the tracker from a surviving entry
// set picks out exactly the childless ones.
func TestTrackerRebuild(t *testing.T) {
	p := New(nil)

	txA := createTestTx([]wire.OutPoint{confirmedOutPoint()}, 1)
	a := addTx(t, p, txA, 0)
	txB := createTestTx([]wire.OutPoint{outPoint(txA, 0)}, 1)
	b := addTx(t, p, txB, 0)

	p.tracker.Rebuild([]*Entry{a, b})

	valid, expired := p.tracker.candidateStats()
	require.Equal(t, 1, valid)
	require.Equal(t, 0, expired)
	require.Contains(t, candidateHashes(p), b.TxHash)
}

// TestPoolRoundTripToEmpty drives the pool through random add, cascade
// remove and no-cascade remove operations, then trims to zero and checks
// that every structure (entries, graph, groups, candidates, usage) is
// completely clean.
func TestPoolRoundTripToEmpty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := New(nil)
		var alive []*btcutil.Tx

		removeFromAlive := func(gone map[chainhash.Hash]struct{}) {
			kept := alive[:0]
			for _, tx := range alive {
				if _, removed := gone[*tx.Hash()]; !removed {
					kept = append(kept, tx)
				}
			}
			alive = kept
		}

		numOps := rapid.IntRange(1, 60).Draw(t, "numOps")
		for i := 0; i < numOps; i++ {
			op := rapid.IntRange(0, 9).Draw(t, "op")
			switch {
			case op <= 6 || len(alive) == 0:
				inputs := []wire.OutPoint{confirmedOutPoint()}
				if len(alive) > 0 &&
					rapid.Bool().Draw(t, "hasParent") {

					idx := rapid.IntRange(
						0, len(alive)-1,
					).Draw(t, "parentIdx")
					inputs = []wire.OutPoint{
						outPoint(alive[idx], 0),
					}
				}
				fee := btcutil.Amount(rapid.Int64Range(
					0, 200000,
				).Draw(t, "fee"))
				tx := createTestTx(inputs, 1)
				addTx(t, p, tx, fee)
				alive = append(alive, tx)

			case op <= 8:
				idx := rapid.IntRange(0, len(alive)-1).Draw(
					t, "removeIdx",
				)
				removed, err := p.RemoveSubtree(
					*alive[idx].Hash(),
				)
				require.NoError(t, err)
				gone := make(map[chainhash.Hash]struct{})
				for _, hash := range removed {
					gone[hash] = struct{}{}
				}
				removeFromAlive(gone)

			default:
				idx := rapid.IntRange(0, len(alive)-1).Draw(
					t, "confirmIdx",
				)
				hash := *alive[idx].Hash()
				require.NoError(t, p.RemoveEntryNoCascade(hash))
				removeFromAlive(map[chainhash.Hash]struct{}{
					hash: {},
				})
			}

			require.Equal(t, len(alive), p.Count())
		}

		p.TrimToSize(0)

		require.Equal(t, 0, p.Count(), "pool not empty after "+
			"trimming to zero, candidates: %s",
			spew.Sdump(p.GetAllCandidates()))
		require.Equal(t, 0, p.GroupCount())
		require.Equal(t, int64(0), p.DynamicUsage())
		valid, expired := p.tracker.candidateStats()
		require.Equal(t, 0, valid)
		require.Equal(t, 0, expired)
		require.Equal(t, 0, p.graph.Len())
		require.Equal(t, 0, p.graph.EdgeCount())
	})
}
