/*
Package registry implements the endpoint registry: the mapping from a
stable logical service name to the addresses of instances that are Ready
and match the endpoint's selector.

The registry sits between health probing and traffic routing. Probe
transitions arrive asynchronously over a channel; Update persists the
instance's new state and republishes the address sets of the endpoints
selecting its workload. Resolve is a lock-free snapshot read over an
atomic pointer, so request-path readers never block on writers and always
see a complete pre- or post-update set. An address is published if and
only if its instance was Ready at the time of the last applied Update.

A published set that diverges from what the store derives should not
happen; the periodic verify pass logs such divergence and corrects it
rather than crashing.
*/
package registry
