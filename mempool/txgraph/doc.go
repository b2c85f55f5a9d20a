/*
Package txgraph maintains the dependency graph between unconfirmed
transactions held by the mempool.

The graph is a DAG keyed by transaction hash: an edge records that one
in-pool transaction spends an output of another. Entries are added with
their in-pool parent set already resolved by the caller and removed leaf
first, so the graph never has to break edges speculatively. Beyond the O(1)
parent/child lookups, the package provides transitive ancestor/descendant
walks and a sequence-based topological sort, which the pool uses to build
child-pays-for-parent groups and to order cascading removals.

The package also carries the small generic collections (stack, priority
queue) shared by the graph walks and the pool's eviction machinery.

All exported methods are safe for concurrent use; mutations are serialized
by an internal mutex while read-only queries may run concurrently.
*/
package txgraph
