package command

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/skynet-gcs/gcsbridge/internal/adapter"
	"github.com/skynet-gcs/gcsbridge/internal/flightmode"
)

// Inbound message types.
const (
	TypeCommandLong   = "COMMAND_LONG"
	TypeSetMode       = "SET_MODE"
	TypeManualControl = "MANUAL_CONTROL"
	TypeCommandAck    = "COMMAND_ACK"

	CmdComponentArmDisarm = "MAV_CMD_COMPONENT_ARM_DISARM"
)

// ErrMalformed marks an inbound message that is not a recognized command.
var ErrMalformed = errors.New("MALFORMED_COMMAND")

// Command is one decoded operator command: ArmDisarm, SetMode or ManualControl.
type Command interface {
	command()
}

// ArmDisarm arms (Arm=true) or disarms the vehicle.
type ArmDisarm struct {
	Arm bool
}

// SetMode requests a flight mode transition.
type SetMode struct {
	Mode flightmode.Mode
}

// ManualControl is a body-frame velocity setpoint: X forward, Y right and
// Z down in m/s, R yaw rate in deg/s.
type ManualControl struct {
	X, Y, Z, R float64
}

func (ArmDisarm) command()     {}
func (SetMode) command()       {}
func (ManualControl) command() {}

// Setpoint converts the command to a vehicle velocity setpoint.
func (m ManualControl) Setpoint() adapter.VelocityBodyYawspeed {
	return adapter.VelocityBodyYawspeed{
		ForwardMS:    m.X,
		RightMS:      m.Y,
		DownMS:       m.Z,
		YawspeedDegS: m.R,
	}
}

type wireMessage struct {
	Type    string   `json:"type"`
	Command string   `json:"command"`
	Param1  *float64 `json:"param1"`
	Mode    string   `json:"mode"`
	X       *float64 `json:"x"`
	Y       *float64 `json:"y"`
	Z       *float64 `json:"z"`
	R       *float64 `json:"r"`
}

// Decode parses one inbound JSON message. Anything that is not a complete,
// recognized command yields an error wrapping ErrMalformed.
func Decode(data []byte) (Command, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch msg.Type {
	case TypeCommandLong:
		if msg.Command != CmdComponentArmDisarm {
			return nil, fmt.Errorf("%w: unsupported command %q", ErrMalformed, msg.Command)
		}
		if msg.Param1 == nil {
			return nil, fmt.Errorf("%w: param1 missing", ErrMalformed)
		}
		switch *msg.Param1 {
		case 1:
			return ArmDisarm{Arm: true}, nil
		case 0:
			return ArmDisarm{Arm: false}, nil
		default:
			return nil, fmt.Errorf("%w: param1 must be 0 or 1, got %v", ErrMalformed, *msg.Param1)
		}

	case TypeSetMode:
		mode, err := flightmode.ParseMode(msg.Mode)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return SetMode{Mode: mode}, nil

	case TypeManualControl:
		if msg.X == nil || msg.Y == nil || msg.Z == nil || msg.R == nil {
			return nil, fmt.Errorf("%w: x, y, z and r are required", ErrMalformed)
		}
		return ManualControl{X: *msg.X, Y: *msg.Y, Z: *msg.Z, R: *msg.R}, nil

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, msg.Type)
	}
}

// Ack is the optional reply sent to the issuing session for COMMAND_LONG
// and SET_MODE.
type Ack struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Mode    string `json:"requested_mode,omitempty"`
	Arm     *bool  `json:"arm,omitempty"`
	Result  string `json:"result"`
	Code    string `json:"code,omitempty"`
}

// Ack results.
const (
	ResultAccepted = "ACCEPTED"
	ResultFailed   = "FAILED"
)
