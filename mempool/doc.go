/*
Package mempool implements the admission and eviction engine for the
transaction holding area of a full node.

The engine decides three things about the unconfirmed transactions the
storage layer hands it:

  - Which entries are primary, i.e. eligible for block inclusion. An entry
    whose own fee rate clears the admission threshold is primary standalone.
  - How chains of underpaying transactions can still become primary through
    child-pays-for-parent: when a descendant's fee covers itself plus all of
    its still-secondary ancestors, the whole chain is promoted as one group
    with that descendant as the paying transaction. Everything else is held
    as secondary, never block-eligible, waiting for a richer descendant or
    eventual eviction.
  - Which entry to discard next when the pool exceeds its memory budget.
    A lazily-invalidated priority structure over the childless entries
    orders them by a worthlessness score under which all secondary material
    ranks below all primary material.

The engine validates no transaction semantics, performs no I/O and owns no
wire or RPC surface; it is a passive in-process component mutated under a
single writer lock by the surrounding mempool storage.
*/
package mempool
