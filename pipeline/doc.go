// Package pipeline runs an import: sources are read and normalized
// concurrently, validated and deduplicated as one batch, then written kind
// by kind in reference order so a dependent never commits ahead of the
// record it points at. The Monitor sees every stage; scopes left with
// pending index repairs are handed to the Reconciler.
package pipeline
