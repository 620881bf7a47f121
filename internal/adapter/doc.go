// Package adapter defines the vehicle adapter interface for the GCS bridge.
//
// Vehicle adapters implement a concrete link (MAVLink over UDP, TCP or serial)
// to a flight controller. The IVehicleAdapter interface provides a stable API
// contract: independent telemetry feeds, request/response actions, and the
// offboard setpoint channel.
//
// References:
//   - MAVLink common.xml: COMMAND_LONG / COMMAND_ACK request/response
//   - PX4 offboard mode: setpoint stream must be active before mode entry
package adapter
