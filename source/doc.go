// Package source reads tabular knowledge base exports and maps their
// sheets and columns onto entity kinds and fields.
package source
