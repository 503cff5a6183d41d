/*
Package types defines the core data model shared across Hutch components.

The model splits into desired state and observed state. Desired state is
what an operator submits: Workload (image, replica count, readiness probe),
Endpoint (stable logical name selecting a workload's instances), and Route
(host/path rules directing external traffic to an endpoint). Observed state
is the Instance table: one entry per running replica, carrying its lifecycle
state and the workload generation it was created for.

Instance lifecycle:

	starting ──probe ok──▶ ready ◀──recovery── unready
	                         │                    ▲
	                         └──probe failing─────┘

	any state ──scale-down / grace expiry──▶ terminating ──▶ removed

Specs are immutable per generation: applying a change bumps the workload's
Generation and triggers re-reconciliation rather than mutating running
instances in place.
*/
package types
