// Package reconcile detects and repairs drift between the document store and
// the vector index.
//
// Each scope (one kind within one domain) moves through
//
//	idle -> scanning -> diffing -> repairing -> idle
//
// on every pass. Scanning pages through the document keys and point keys of
// the scope; diffing compares each page against the other store by ID and
// content hash; repairing re-embeds missing or stale points and deletes
// orphaned ones. Passes over one scope never overlap: a single-flight
// group joins callers inside the process and a Lease excludes other
// processes. Different scopes reconcile concurrently.
//
// A repair that fails is saved as a pending item and retried with
// exponential backoff on later passes. When the retry policy is exhausted
// the item is quarantined and a persistent-failure alert is raised; it is
// not retried again until the document's content changes.
package reconcile
