// Package license implements the license entitlement and consumption engine.
//
// # Architecture Overview
//
// The engine is assembled from explicit dependencies passed at construction:
//
//	- Store: authoritative repository of licenses, plans, plugins and usage
//	- SnapshotCache: TTL-bounded, fail-open cache of entitlement snapshots
//	- Service: validation, info, heartbeat, token consumption, plugin grants
//	  and the administrative lifecycle (generate, revoke, free trial)
//	- Recorder: append-only usage audit trail
//
// # Validation Flow
//
//	1. Reject keys that do not match GMF-YYYY-CCC-XXXXXXXX without touching the store
//	2. Serve a cached snapshot for (key, machine) if present
//	3. Load the license; a passed expiration is applied as a conditional
//	   ACTIVE to EXPIRED transition and reported as ErrExpired
//	4. Build the snapshot from plan and plugin entitlements
//	5. Append a usage event, then cache the snapshot
//
// # Token Consumption
//
// Consumption always reads the store fresh and decrements through a single
// conditional store operation, so concurrent consumers can never drive a
// balance below zero.
//
// # Errors
//
// Operations return the sentinel errors declared in errors.go, wrapped with
// context. Store failures that are not domain outcomes are reported as
// ErrTransient. Cache failures are logged and never returned.
package license
