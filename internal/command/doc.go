// Package command implements the operator command dispatcher.
//
// Each session's inbound JSON messages are decoded into one of three
// commands. MANUAL_CONTROL setpoints are forwarded to the vehicle in receipt
// order. COMMAND_LONG arm/disarm and SET_MODE requests run concurrently,
// each bounded by a timeout; mode requests pass through the flight mode
// machine. Malformed messages are dropped. Vehicle failures are logged and
// audited but never close the session.
package command
