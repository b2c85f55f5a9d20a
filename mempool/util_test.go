package mempool

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// testingT is the subset of testing.T the helpers need, satisfied by both
// *testing.T and *rapid.T.
type testingT interface {
	require.TestingT
	Helper()
}

// testTxCounter feeds the deterministic transaction generator. Every
// generated output script embeds a fresh counter value, so no two generated
// transactions ever collide on hash.
var testTxCounter uint64

// createTestTx builds a minimal transaction spending the given outpoints
// with numOutputs outputs. The transactions carry no real scripts; the pool
// never validates script semantics, only dependency structure and fees.
func createTestTx(inputs []wire.OutPoint, numOutputs int) *btcutil.Tx {
	msg := wire.NewMsgTx(wire.TxVersion)
	for i := range inputs {
		msg.AddTxIn(wire.NewTxIn(&inputs[i], nil, nil))
	}
	for i := 0; i < numOutputs; i++ {
		pkScript := make([]byte, 8)
		binary.BigEndian.PutUint64(
			pkScript, atomic.AddUint64(&testTxCounter, 1),
		)
		msg.AddTxOut(wire.NewTxOut(100000, pkScript))
	}
	return btcutil.NewTx(msg)
}

// confirmedOutPoint returns a unique outpoint that no in-pool transaction
// produces, standing in for an already-confirmed funding output.
func confirmedOutPoint() wire.OutPoint {
	var h chainhash.Hash
	binary.BigEndian.PutUint64(h[:8], atomic.AddUint64(&testTxCounter, 1))
	return wire.OutPoint{Hash: h, Index: 0}
}

// outPoint references the given output of an in-pool transaction.
func outPoint(tx *btcutil.Tx, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: *tx.Hash(), Index: index}
}

// allConfirmed treats every non-pool input as confirmed, the common case for
// tests exercising classification rather than orphan handling.
func allConfirmed(wire.OutPoint) bool { return true }

// noneConfirmed treats every non-pool input as unknown.
func noneConfirmed(wire.OutPoint) bool { return false }

// addTx admits tx with the given fee, failing the test on any error.
func addTx(t testingT, p *TxPool, tx *btcutil.Tx, fee btcutil.Amount) *Entry {
	t.Helper()

	e, err := p.AddEntry(tx, fee, allConfirmed)
	require.NoError(t, err)
	return e
}

// candidateHashes returns the current valid eviction candidate set keyed by
// transaction hash.
func candidateHashes(p *TxPool) map[chainhash.Hash]struct{} {
	hashes := make(map[chainhash.Hash]struct{})
	for _, e := range p.GetAllCandidates() {
		hashes[e.TxHash] = struct{}{}
	}
	return hashes
}

// evictOne pops the most worthless candidate and removes its subtree,
// returning the removed hashes.
func evictOne(t testingT, p *TxPool) []chainhash.Hash {
	t.Helper()

	victim, err := p.GetMostWorthless()
	require.NoError(t, err)
	removed, err := p.RemoveSubtree(victim.TxHash)
	require.NoError(t, err)
	return removed
}
