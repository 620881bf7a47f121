// Package adapter defines IVehicleAdapter interface.
//
// Deterministic Vehicle Error Mapping (tables)
// This file provides table-driven error mapping to normalize autopilot-specific
// results and error strings to standardized bridge error codes without heuristics.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Normalized bridge errors.
var (
	ErrDenied      = errors.New("DENIED")
	ErrBusy        = errors.New("BUSY")
	ErrUnsupported = errors.New("UNSUPPORTED")
	ErrTimeout     = errors.New("TIMEOUT")
	ErrUnavailable = errors.New("UNAVAILABLE")
	ErrInternal    = errors.New("INTERNAL")

	// ErrClosed ends telemetry sequences after the adapter was closed.
	ErrClosed = errors.New("CLOSED")
)

// AutopilotMap defines the error token mapping for a specific autopilot stack.
type AutopilotMap struct {
	Busy        []string // Tokens that map to BUSY
	Unsupported []string // Tokens that map to UNSUPPORTED
	Denied      []string // Tokens that map to DENIED
	Timeout     []string // Tokens that map to TIMEOUT
	Unavailable []string // Tokens that map to UNAVAILABLE
}

// AutopilotErrorMappings contains the deterministic error mapping tables.
//
// Tokens are matched case-insensitively as substrings, in the order
// Busy, Unsupported, Denied, Timeout, Unavailable. The order matters:
// MAV_RESULT_TEMPORARILY_REJECTED must resolve to BUSY before the generic
// REJECTED token resolves to DENIED. Unknown tokens map to INTERNAL.
var AutopilotErrorMappings = map[string]AutopilotMap{
	"px4": {
		Busy: []string{
			"MAV_RESULT_TEMPORARILY_REJECTED",
			"MAV_RESULT_IN_PROGRESS",
			"COMMAND_BUSY",
			"TEMPORARILY_REJECTED",
		},
		Unsupported: []string{
			"MAV_RESULT_UNSUPPORTED",
			"COMMAND_UNSUPPORTED",
			"UNSUPPORTED",
		},
		Denied: []string{
			"MAV_RESULT_DENIED",
			"MAV_RESULT_FAILED",
			"COMMAND_DENIED",
			"NOT_ARMABLE",
			"LANDED_STATE_UNKNOWN",
		},
		Timeout: []string{
			"ACK_TIMEOUT",
			"TIMEOUT",
		},
		Unavailable: []string{
			"NO_SYSTEM",
			"CONNECTION_ERROR",
			"HEARTBEAT_LOST",
			"LINK_DOWN",
		},
	},
	"generic": {
		Busy: []string{
			"BUSY",
			"TEMPORARILY_REJECTED",
			"IN_PROGRESS",
			"RETRY",
		},
		Unsupported: []string{
			"UNSUPPORTED",
			"NOT_SUPPORTED",
			"NOT_IMPLEMENTED",
		},
		Denied: []string{
			"DENIED",
			"REJECTED",
			"FAILED",
			"NOT_ALLOWED",
		},
		Timeout: []string{
			"TIMEOUT",
			"TIMED_OUT",
		},
		Unavailable: []string{
			"UNAVAILABLE",
			"NO_SYSTEM",
			"OFFLINE",
			"NOT_CONNECTED",
			"CLOSED",
		},
	},
}

// VehicleError wraps an autopilot error with diagnostic details.
type VehicleError struct {
	Code     error       // Normalized bridge code
	Original error       // Autopilot error
	Details  interface{} // Autopilot payload (opaque)
}

func (e *VehicleError) Error() string {
	return fmt.Sprintf("%v (vehicle: %v)", e.Code, e.Original)
}

func (e *VehicleError) Unwrap() error {
	return e.Code
}

// NormalizeVehicleError maps vehicle errors to bridge codes using the generic table.
func NormalizeVehicleError(vehicleErr error, payload interface{}) error {
	return NormalizeVehicleErrorWithAutopilot(vehicleErr, payload, "generic")
}

// NormalizeVehicleErrorWithAutopilot maps vehicle errors using a specific autopilot table.
func NormalizeVehicleErrorWithAutopilot(vehicleErr error, payload interface{}, autopilot string) error {
	if vehicleErr == nil {
		return nil
	}

	var already *VehicleError
	if errors.As(vehicleErr, &already) {
		return vehicleErr
	}

	var code error
	switch {
	case errors.Is(vehicleErr, context.DeadlineExceeded):
		code = ErrTimeout
	case errors.Is(vehicleErr, context.Canceled), errors.Is(vehicleErr, ErrClosed):
		code = ErrUnavailable
	default:
		code = mapVehicleErrorToCode(vehicleErr.Error(), autopilot)
	}

	return &VehicleError{
		Code:     code,
		Original: vehicleErr,
		Details:  payload,
	}
}

// Code returns the normalized code token for err ("" for nil).
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, code := range []error{ErrDenied, ErrBusy, ErrUnsupported, ErrTimeout, ErrUnavailable, ErrInternal, ErrClosed} {
		if errors.Is(err, code) {
			return code.Error()
		}
	}
	return ErrInternal.Error()
}

// mapVehicleErrorToCode maps an error message to a normalized code using table-driven matching.
func mapVehicleErrorToCode(msg string, autopilot string) error {
	autopilotMap, exists := AutopilotErrorMappings[autopilot]
	if !exists {
		autopilotMap = AutopilotErrorMappings["generic"]
	}

	upperMsg := strings.ToUpper(msg)

	ordered := []struct {
		tokens []string
		code   error
	}{
		{autopilotMap.Busy, ErrBusy},
		{autopilotMap.Unsupported, ErrUnsupported},
		{autopilotMap.Denied, ErrDenied},
		{autopilotMap.Timeout, ErrTimeout},
		{autopilotMap.Unavailable, ErrUnavailable},
	}

	for _, group := range ordered {
		for _, token := range group.tokens {
			if strings.Contains(upperMsg, strings.ToUpper(token)) {
				return group.code
			}
		}
	}

	return ErrInternal
}
