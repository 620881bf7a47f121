package adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNormalizeVehicleError(t *testing.T) {
	tests := []struct {
		name         string
		vehicleErr   error
		payload      interface{}
		expectedCode error
		expectedMsg  string
	}{
		{
			name:         "nil error returns nil",
			vehicleErr:   nil,
			payload:      nil,
			expectedCode: nil,
			expectedMsg:  "",
		},
		{
			name:         "unknown error maps to INTERNAL",
			vehicleErr:   errors.New("UNKNOWN_ERROR"),
			payload:      map[string]interface{}{"details": "test"},
			expectedCode: ErrInternal,
			expectedMsg:  "INTERNAL (vehicle: UNKNOWN_ERROR)",
		},
		{
			name:         "generic denied error maps to DENIED",
			vehicleErr:   errors.New("MAV_RESULT_DENIED"),
			payload:      nil,
			expectedCode: ErrDenied,
			expectedMsg:  "DENIED (vehicle: MAV_RESULT_DENIED)",
		},
		{
			name:         "generic busy error maps to BUSY",
			vehicleErr:   errors.New("BUSY"),
			payload:      nil,
			expectedCode: ErrBusy,
			expectedMsg:  "BUSY (vehicle: BUSY)",
		},
		{
			name:         "generic unavailable error maps to UNAVAILABLE",
			vehicleErr:   errors.New("link NOT_CONNECTED"),
			payload:      nil,
			expectedCode: ErrUnavailable,
			expectedMsg:  "UNAVAILABLE (vehicle: link NOT_CONNECTED)",
		},
		{
			name:         "deadline exceeded maps to TIMEOUT",
			vehicleErr:   fmt.Errorf("waiting for ack: %w", context.DeadlineExceeded),
			payload:      nil,
			expectedCode: ErrTimeout,
			expectedMsg:  "TIMEOUT (vehicle: waiting for ack: context deadline exceeded)",
		},
		{
			name:         "closed adapter maps to UNAVAILABLE",
			vehicleErr:   ErrClosed,
			payload:      nil,
			expectedCode: ErrUnavailable,
			expectedMsg:  "UNAVAILABLE (vehicle: CLOSED)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeVehicleError(tt.vehicleErr, tt.payload)

			if tt.expectedCode == nil {
				if result != nil {
					t.Errorf("Expected nil, got %v", result)
				}
				return
			}

			vehicleErr, ok := result.(*VehicleError)
			if !ok {
				t.Fatalf("Expected VehicleError, got %T", result)
			}

			if vehicleErr.Code != tt.expectedCode {
				t.Errorf("Expected code %v, got %v", tt.expectedCode, vehicleErr.Code)
			}

			if vehicleErr.Error() != tt.expectedMsg {
				t.Errorf("Expected message %q, got %q", tt.expectedMsg, vehicleErr.Error())
			}

			expectedStr := ""
			if tt.payload != nil {
				expectedStr = fmt.Sprintf("%v", tt.payload)
			}
			actualStr := ""
			if vehicleErr.Details != nil {
				actualStr = fmt.Sprintf("%v", vehicleErr.Details)
			}
			if expectedStr != actualStr {
				t.Errorf("Expected payload %q, got %q", expectedStr, actualStr)
			}
		})
	}
}

func TestNormalizeVehicleErrorWithAutopilot(t *testing.T) {
	tests := []struct {
		name         string
		vehicleErr   error
		autopilot    string
		expectedCode error
	}{
		{
			name:         "px4 temporarily rejected maps to BUSY, not DENIED",
			vehicleErr:   errors.New("MAV_RESULT_TEMPORARILY_REJECTED"),
			autopilot:    "px4",
			expectedCode: ErrBusy,
		},
		{
			name:         "px4 unsupported maps to UNSUPPORTED",
			vehicleErr:   errors.New("MAV_RESULT_UNSUPPORTED"),
			autopilot:    "px4",
			expectedCode: ErrUnsupported,
		},
		{
			name:         "px4 failed maps to DENIED",
			vehicleErr:   errors.New("MAV_CMD_COMPONENT_ARM_DISARM: MAV_RESULT_FAILED"),
			autopilot:    "px4",
			expectedCode: ErrDenied,
		},
		{
			name:         "px4 ack timeout maps to TIMEOUT",
			vehicleErr:   errors.New("ACK_TIMEOUT after 3s"),
			autopilot:    "px4",
			expectedCode: ErrTimeout,
		},
		{
			name:         "px4 no system maps to UNAVAILABLE",
			vehicleErr:   errors.New("NO_SYSTEM"),
			autopilot:    "px4",
			expectedCode: ErrUnavailable,
		},
		{
			name:         "unknown autopilot falls back to generic mapping",
			vehicleErr:   errors.New("REJECTED"),
			autopilot:    "unknown_autopilot",
			expectedCode: ErrDenied,
		},
		{
			name:         "px4 unknown error maps to INTERNAL",
			vehicleErr:   errors.New("PX4_SOMETHING_ODD"),
			autopilot:    "px4",
			expectedCode: ErrInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeVehicleErrorWithAutopilot(tt.vehicleErr, nil, tt.autopilot)

			if !errors.Is(result, tt.expectedCode) {
				t.Errorf("Expected code %v, got %v", tt.expectedCode, result)
			}
		})
	}
}

func TestNormalizeVehicleErrorIsIdempotent(t *testing.T) {
	first := NormalizeVehicleError(errors.New("MAV_RESULT_DENIED"), nil)
	second := NormalizeVehicleError(first, nil)

	if first != second {
		t.Errorf("Expected already-normalized error to be returned unchanged")
	}
}

func TestVehicleErrorUnwrap(t *testing.T) {
	originalErr := errors.New("ORIGINAL_ERROR")
	vehicleErr := &VehicleError{
		Code:     ErrDenied,
		Original: originalErr,
		Details:  map[string]interface{}{"test": true},
	}

	if vehicleErr.Unwrap() != ErrDenied {
		t.Errorf("Expected unwrapped error %v, got %v", ErrDenied, vehicleErr.Unwrap())
	}

	if !errors.Is(fmt.Errorf("arm: %w", vehicleErr), ErrDenied) {
		t.Error("Expected wrapped VehicleError to match ErrDenied")
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrBusy, "BUSY"},
		{&VehicleError{Code: ErrTimeout, Original: errors.New("x")}, "TIMEOUT"},
		{fmt.Errorf("wrapped: %w", ErrUnsupported), "UNSUPPORTED"},
		{errors.New("plain"), "INTERNAL"},
	}

	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestAutopilotErrorMappings(t *testing.T) {
	for _, autopilot := range []string{"px4", "generic"} {
		m, exists := AutopilotErrorMappings[autopilot]
		if !exists {
			t.Fatalf("Expected autopilot mapping for %s to exist", autopilot)
		}
		if len(m.Busy) == 0 || len(m.Denied) == 0 || len(m.Unavailable) == 0 {
			t.Errorf("Autopilot mapping %s has empty token groups", autopilot)
		}
	}
}
