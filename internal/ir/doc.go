// Package ir provides the record representation shared by every layer of
// the cache.
//
// This package contains value types and pure functions only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Integers stay int64; other numbers are float64 with one canonical spelling
//   - Records persist identifiers and foreign keys only, never resolved associations
//   - Collection keys are derived deterministically from type + query + criteria
//   - All JSON tags use snake_case
package ir
