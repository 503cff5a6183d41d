/*
Package controller implements the replica controller: the reconciliation
engine that drives observed instances toward workload specs.

The split is deliberate: Reconcile is a pure function from (spec, observed
instances) to a list of actions, and the Controller is the loop that runs
it and executes the actions against the container runtime. Keeping the
decision logic pure makes the convergence properties directly testable
without a runtime.

	┌───────────────────────────────────────────────┐
	│              Reconciliation Loop              │
	│     (periodic tick + workload apply event)    │
	└──────────────────────┬────────────────────────┘
	                       │ per workload, serialized
	                       ▼
	        Reconcile(spec, observed) → []Action
	                       │
	         ┌─────────────┴─────────────┐
	         ▼                           ▼
	   CreateInstance             TerminateInstance
	   pull → create → start      stop → remove → delete
	   (retry w/ backoff,         (drops stale scale-down
	    degrade past budget)       decisions)

Every action carries the workload generation it was issued for and is
checked against the stored generation before its effect commits; actions
issued for a superseded spec no-op. Reconciliations of the same workload
never run concurrently, while different workloads proceed in parallel.
*/
package controller
