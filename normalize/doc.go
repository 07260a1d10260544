// Package normalize cleans raw sheet rows into typed records.
//
// Cleaning is driven by an explicit Rules value: text cleanup and casing,
// identifier canonicalization, context-aware null handling (categorical
// defaults, median imputation, synthetic keys) and enum coercion. Nothing is
// written anywhere; a Batch can be iterated any number of times.
package normalize
