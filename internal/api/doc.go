// Package api implements the client-facing HTTP surface of the bridge.
//
// GET /telemetry upgrades to a WebSocket session that receives snapshots and
// sends operator commands. The /api/v1 endpoints report health, the current
// snapshot and the connected sessions in the JSON envelope format.
package api
