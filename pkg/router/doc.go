/*
Package router implements the routing layer: host/path rule matching, backend
selection, and the HTTP reverse proxy in front of both.

Matching filters rules by host first (exact, "*.suffix" wildcard, or any when
the rule has no host), then picks the longest path prefix that prefixes the
request path at segment granularity; ties go to the rule registered first.
Two failures are kept distinct on purpose: ErrNoMatch (no rule claimed the
request) and ErrNoHealthyBackend (a rule matched but its endpoint resolves to
nothing right now). Both are returned to the caller per request and never
retried here.

Backend selection is pluggable through the Balancer interface; round-robin
is the default and distributes evenly over any stable address set.
*/
package router
