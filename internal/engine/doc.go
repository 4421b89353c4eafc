// Package engine implements the layercache Orchestrator.
//
// The Orchestrator routes every Request through an ordered list of cache
// tiers and an authoritative Origin:
//
// Read Path (Get, Query):
// 1. Tiers are fetched nearest first; the first present-and-fresh answer wins
// 2. Otherwise the Origin is called; if it is unreachable the best stale
// answer is served, unless the request rejects stale data
// 3. Identifier-only collections are resolved to records with bounded
// parallelism, preserving identifier order
// 4. Requested associations are resolved through nested requests and
// attached as record overrides
// 5. The answer is written back into every tier nearer than its source
//
// Write Path (Create, Update, Replace, Destroy):
// The Origin is called directly and its answer fanned out to every tier. An
// unreachable origin surfaces as an OfflineError; the caller decides whether
// to append the request to the pending-change journal.
//
// Blob verbs go straight to the Origin and never touch the tiers.
//
// Connectivity:
// The Orchestrator is online until an origin call fails with a
// network-class error, and online again after the next successful call.
package engine
