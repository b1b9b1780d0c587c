/*
Package observability turns build lifecycle events into Prometheus metrics
and structured log lines. Both are exposed as domain.LifecycleHooks so they
can be merged and handed to the executor and pipelines.
*/
package observability
