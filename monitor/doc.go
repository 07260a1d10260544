// Package monitor aggregates what one import run did into an operator
// report and decides which outcomes deserve an alert.
//
// A Monitor lives as long as the process. Each import gets a Run from
// Begin; the pipeline feeds it source, validation, dedup and write
// results, and Finish turns the totals into a RunReport, raising alerts
// for low quality sheets, failure rates above the threshold and broken
// sources. Reconcile passes are observed across runs: drift becomes an
// alert only after it persists for several consecutive passes.
package monitor
