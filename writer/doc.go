// Package writer persists record batches into the document store and mirrors
// embeddable kinds into the vector index.
//
// The document store is the source of truth. A record is indexed only after
// the store confirmed it; an indexing failure never rolls the document back.
// Instead it becomes a pending item that the Reconciler resolves later.
//
// Writes are chunked. Chunks of one kind run strictly one after another,
// while different kinds may be written concurrently. Embedding runs on a
// shared ants worker pool whose blocking submission pauses the Writer when
// every worker is busy.
package writer
