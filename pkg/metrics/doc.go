/*
Package metrics defines and registers the Prometheus metrics exposed by the
Fachdienst reference server.

Metrics are grouped by subsystem: task lifecycle counts and operation
latency, messaging and dispense throughput, the audit trail, the timeout
sweeper, the VAU tunnel, the inner FHIR-style API, the TSL/BNetzA-VL trust
stores, the OCSP response cache, and snapshot persistence. All metrics are
registered at package init and served on the same mux as the health and
readiness endpoints.

Use NewTimer to time an operation and observe its duration against a
histogram:

	timer := metrics.NewTimer()
	_, err := engine.Activate(id, accessCode, signedBundle, role, agent, agentName)
	metrics.TaskOperationDuration.WithLabelValues("activate").Observe(timer.Duration().Seconds())

Collector polls gauge-style metrics that are cheaper to sample on an
interval than to update on every mutation, such as the current count of
tasks per status.
*/
package metrics
