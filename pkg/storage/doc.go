// Package storage provides the desired-state repository for Hutch.
//
// The Store interface exposes CRUD keyed by unique name for the declarative
// entities (workloads, endpoints, routes) and by ID for the observed
// instance table. Saves are upserts, so re-applying an unchanged manifest is
// a no-op at the storage level. The BoltDB implementation keeps each entity
// kind in its own bucket as JSON; single-writer semantics come from bbolt's
// one-writer transaction model.
package storage
