// Package audit implements the command audit trail for the GCS bridge.
//
// Every arm/disarm and mode request is appended as one JSON line with the
// session, operator, parameters, outcome and latency. Files are rotated by
// size.
package audit
