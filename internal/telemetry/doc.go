// Package telemetry merges vehicle telemetry into a snapshot and broadcasts it.
//
// The Manager runs one subscription per telemetry channel and writes each
// record into the Store through a channel-scoped Writer, so a channel can
// only touch the fields it owns. The Broadcaster reads the Store on a fixed
// tick and sends the encoded snapshot to every registered session.
package telemetry
