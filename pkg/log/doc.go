// Package log wraps zerolog with a process-global logger and child-logger
// helpers for the fields Hutch components tag consistently (component,
// workload, instance_id, endpoint). Call Init once at startup; components
// then derive scoped loggers via the With* helpers.
package log
