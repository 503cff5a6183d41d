/*
Package health implements readiness probing for instances.

A Checker performs one check (HTTP status or TCP connect); Status folds
check results into a readiness verdict using failure and success
thresholds, so one flaky check does not flip an instance. The Prober runs
an independent probe loop per instance and delivers readiness transitions
over a channel, decoupling probe cadence from reconciliation cadence: the
endpoint registry consumes the channel and republishes endpoint address
sets, while the controller only ever sees the persisted instance state.

A check that exceeds its timeout counts as a failure. Timeouts drive the
unready transition; they are never fatal to the probe loop.
*/
package health
