// Package harness runs scripted offline-sync scenarios against the
// orchestrator.
//
// A scenario seeds an in-memory origin, drives a sequence of reads, writes,
// clock advances and connectivity changes through an orchestrator with a
// configurable number of memory tiers, and checks the outcome of each step
// as well as the final state of the tiers, the origin and the journal.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	tiers: 2
//	types:
//	  - name: Post
//	    associations:
//	      - {name: author, kind: to_one, target: User, foreign_key: author_id}
//	origin:
//	  - type: Post
//	    records:
//	      - {id: p1, title: Hello}
//	steps:
//	  - op: get
//	    type: Post
//	    id: p1
//	    freshness: 60
//	    expect:
//	      exists: true
//	      record: {title: Hello}
//	  - op: offline
//	  - op: advance
//	    duration: 2m
//	assertions:
//	  - type: origin_calls
//	    verb: get
//	    count: 1
//	  - type: tier_contains
//	    tier: 1
//	    record_type: Post
//	    id: p1
//
// # Step Operations
//
//   - get, query: read through the orchestrator
//   - create, update, replace, destroy: write through the orchestrator;
//     with enqueue set, an operation-not-available-offline failure is
//     appended to the journal
//   - advance: move the clock forward by duration
//   - online, offline: switch the origin's reachability
//   - origin_put, origin_delete: change origin data behind the cache
//   - hold, unhold: change the hold registry for an id or a collection key
//   - clear: evict from every tier (except_held, record_type, and duration
//     to keep entries younger than it)
//
// # Assertion Types
//
//   - origin_calls: the origin saw exactly count requests with verb
//   - tier_contains: a tier holds the record, optionally matching expect
//   - tier_missing: a tier does not hold the record
//   - journal_count: the journal holds exactly count entries
//
// # Deterministic Testing
//
// Every scenario runs against a manual clock starting at start_ms, fresh
// memory tiers and a temporary journal directory, so the step trace is
// identical across runs and can be compared against golden files.
package harness
