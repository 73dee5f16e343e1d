// Package rayworker contains the core APIs for running a distributed
// ray-tracing worker.
//
// A worker receives a subset of scene treelets from a coordinator and
// traces rays whose traversal currently sits inside those treelets,
// shipping rays that move into a peer's treelets across a reliable-UDP
// transport. Completed samples are returned to the coordinator.
//
// See SPEC_FULL.md for a detailed specification of the runtime engine.
package rayworker
