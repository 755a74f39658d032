// Package health holds the liveness and readiness probes served on the admin
// listener, and the handlers that expose them.
//
// Probes never go through the gate: a health checker polling the public port
// would land in the recency log and start getting 403s.
//
// [ShutdownGate] fails readiness as soon as shutdown starts so load balancers
// stop routing before in-flight requests are drained.
package health
