package mempool

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TrimToSize evicts entries until the pool's dynamic memory usage fits the
// given byte limit. Victims are chosen by the candidate tracker, most
// worthless first; each victim is removed together with every in-pool
// descendant (a descendant cannot be worth keeping without its ancestor),
// and a victim that is a group's paying transaction disbands its group
// first, reverting the other members to secondary.
//
// Returns the removed transaction hashes so the caller can reconcile any
// outstanding references, e.g. advertised peer inventory. The same hashes
// are also remembered in a bounded recently-evicted cache queryable through
// WasRecentlyEvicted.
func (p *TxPool) TrimToSize(byteLimit int64) []chainhash.Hash {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	var removed []chainhash.Hash
	for p.usage > byteLimit {
		victim, err := p.tracker.GetMostWorthless()
		if err != nil {
			// A non-empty pool with no candidates means the
			// tracker and the graph have diverged; the pool
			// needs a rebuild, not further trimming.
			if len(p.entries) > 0 {
				log.Errorf("trim stalled at %d bytes over "+
					"budget: %v", p.usage-byteLimit, err)
			}
			break
		}

		subtree, err := p.removeSubtreeLocked(victim.TxHash)
		if err != nil {
			log.Errorf("trim failed removing %v: %v",
				victim.TxHash, err)
			break
		}
		for _, hash := range subtree {
			p.recentlyEvicted.Add(hash)
		}
		removed = append(removed, subtree...)
	}

	if len(removed) > 0 {
		log.Infof("Trimmed %d entries to fit %d bytes (usage now %d)",
			len(removed), byteLimit, p.usage)
	}

	return removed
}

// WasRecentlyEvicted reports whether the given transaction was removed by a
// recent trim. The cache is bounded (Config.RecentlyEvictedSize), so very
// old evictions age out.
func (p *TxPool) WasRecentlyEvicted(txHash chainhash.Hash) bool {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	return p.recentlyEvicted.Contains(txHash)
}
