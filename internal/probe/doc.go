// Package probe implements active health checks against AAA and
// directory services: a PAP authentication round trip, a signed
// accounting Start/Stop pair, and a SAMR domain enumeration over
// DCE/RPC. A Scheduler runs registered probes on jittered intervals,
// tracks a per-probe liveness verdict, and publishes state transitions
// for external consumers.
package probe
