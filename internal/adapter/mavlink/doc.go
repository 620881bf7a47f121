// Package mavlink implements the vehicle adapter over MAVLink v2.
//
// The adapter owns one gomavlib node. Incoming frames from the first
// autopilot that sends a HEARTBEAT are decoded into the typed telemetry
// feeds; frames from other systems are ignored. Actions are sent as
// COMMAND_LONG and complete on the matching COMMAND_ACK. Offboard
// setpoints are SET_POSITION_TARGET_LOCAL_NED in the body frame and are
// re-sent at a fixed rate while offboard mode is requested, as PX4 leaves
// offboard mode when the setpoint stream stops.
//
// Flight modes are decoded and requested with the PX4 custom mode layout.
package mavlink
