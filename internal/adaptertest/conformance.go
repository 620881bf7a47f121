// Package adaptertest provides autopilot-agnostic conformance testing for vehicle adapters.
//
// Every adapter must honor context cancellation on actions, end telemetry
// sequences cleanly on cancellation, and end them with an error after Close.
package adaptertest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skynet-gcs/gcsbridge/internal/adapter"
)

// Capabilities defines the expected capabilities for conformance testing.
type Capabilities struct {
	// Name is printed in the report.
	Name string

	// Autopilot selects the error mapping table ("px4", "generic").
	Autopilot string

	// InjectError makes the named action fail with errorType on the next
	// call. Nil skips the failure mapping tests.
	InjectError func(a adapter.IVehicleAdapter, action, errorType string)

	// SequenceTimeout bounds how long a telemetry sequence may take to end.
	SequenceTimeout time.Duration
}

// ConformanceResult represents the result of a conformance test.
type ConformanceResult struct {
	TestName string
	Passed   bool
	Error    string
	Duration time.Duration
	Details  map[string]interface{}
}

// ConformanceReport represents the complete conformance test report.
type ConformanceReport struct {
	AdapterName   string
	TotalTests    int
	PassedTests   int
	FailedTests   int
	Results       []ConformanceResult
	OverallPassed bool
	Duration      time.Duration
}

type namedAction struct {
	name string
	call func(a adapter.IVehicleAdapter, ctx context.Context) error
}

var actions = []namedAction{
	{"arm", func(a adapter.IVehicleAdapter, ctx context.Context) error { return a.Arm(ctx) }},
	{"disarm", func(a adapter.IVehicleAdapter, ctx context.Context) error { return a.Disarm(ctx) }},
	{"return_to_launch", func(a adapter.IVehicleAdapter, ctx context.Context) error { return a.ReturnToLaunch(ctx) }},
	{"takeoff", func(a adapter.IVehicleAdapter, ctx context.Context) error { return a.Takeoff(ctx) }},
	{"land", func(a adapter.IVehicleAdapter, ctx context.Context) error { return a.Land(ctx) }},
	{"hold", func(a adapter.IVehicleAdapter, ctx context.Context) error { return a.Hold(ctx) }},
	{"start_offboard", func(a adapter.IVehicleAdapter, ctx context.Context) error { return a.StartOffboard(ctx) }},
	{"stop_offboard", func(a adapter.IVehicleAdapter, ctx context.Context) error { return a.StopOffboard(ctx) }},
	{"set_velocity_body", func(a adapter.IVehicleAdapter, ctx context.Context) error {
		return a.SetVelocityBody(ctx, adapter.VelocityBodyYawspeed{})
	}},
}

type namedSequence struct {
	name  string
	drain func(a adapter.IVehicleAdapter, ctx context.Context) error
}

// drain ranges over seq until it ends and returns the terminal error.
func drain[T any](seq iter.Seq2[T, error]) error {
	for _, err := range seq {
		if err != nil {
			return err
		}
	}
	return nil
}

var sequences = []namedSequence{
	{"connection_state", func(a adapter.IVehicleAdapter, ctx context.Context) error { return drain(a.ConnectionState(ctx)) }},
	{"position", func(a adapter.IVehicleAdapter, ctx context.Context) error { return drain(a.Position(ctx)) }},
	{"attitude", func(a adapter.IVehicleAdapter, ctx context.Context) error { return drain(a.Attitude(ctx)) }},
	{"battery", func(a adapter.IVehicleAdapter, ctx context.Context) error { return drain(a.Battery(ctx)) }},
	{"flight_mode", func(a adapter.IVehicleAdapter, ctx context.Context) error { return drain(a.FlightMode(ctx)) }},
	{"armed", func(a adapter.IVehicleAdapter, ctx context.Context) error { return drain(a.Armed(ctx)) }},
	{"gps_info", func(a adapter.IVehicleAdapter, ctx context.Context) error { return drain(a.GPSInfo(ctx)) }},
	{"fixedwing_metrics", func(a adapter.IVehicleAdapter, ctx context.Context) error { return drain(a.FixedwingMetrics(ctx)) }},
}

// RunConformance runs the complete conformance test suite for an adapter.
func RunConformance(t *testing.T, newAdapter func() adapter.IVehicleAdapter, caps Capabilities) {
	startTime := time.Now()

	if caps.SequenceTimeout <= 0 {
		caps.SequenceTimeout = time.Second
	}
	name := caps.Name
	if name == "" {
		name = "Unknown Adapter"
	}

	report := &ConformanceReport{
		AdapterName:   name,
		Results:       []ConformanceResult{},
		OverallPassed: true,
	}

	runCancelledActionTests(t, newAdapter, caps, report)
	runSequenceCancelTests(t, newAdapter, caps, report)
	runCloseTests(t, newAdapter, caps, report)
	runFailureMappingTests(t, newAdapter, caps, report)
	runTimingTests(t, newAdapter, caps, report)

	report.Duration = time.Since(startTime)

	printConformanceReport(t, report)

	if !report.OverallPassed {
		t.Fatalf("Adapter conformance test failed: %d/%d tests passed", report.PassedTests, report.TotalTests)
	}
}

// runCancelledActionTests checks that every action returns an error for an already-cancelled context.
func runCancelledActionTests(t *testing.T, newAdapter func() adapter.IVehicleAdapter, caps Capabilities, report *ConformanceReport) {
	a := newAdapter()
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, act := range actions {
		result := ConformanceResult{
			TestName: "Cancelled_" + act.name,
			Details:  make(map[string]interface{}),
		}
		start := time.Now()
		err := act.call(a, ctx)
		result.Duration = time.Since(start)

		if err == nil {
			result.Error = "expected error for cancelled context"
		} else {
			result.Passed = true
			result.Details["code"] = adapter.Code(adapter.NormalizeVehicleErrorWithAutopilot(err, nil, caps.Autopilot))
		}
		report.addResult(result)
	}
}

// runSequenceCancelTests checks that telemetry sequences end without an error when ctx is cancelled.
func runSequenceCancelTests(t *testing.T, newAdapter func() adapter.IVehicleAdapter, caps Capabilities, report *ConformanceReport) {
	a := newAdapter()
	defer a.Close()

	for _, seq := range sequences {
		result := ConformanceResult{
			TestName: "SequenceCancel_" + seq.name,
			Details:  make(map[string]interface{}),
		}
		start := time.Now()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- seq.drain(a, ctx) }()
		time.AfterFunc(10*time.Millisecond, cancel)

		select {
		case err := <-done:
			if err != nil {
				result.Error = fmt.Sprintf("expected clean end, got %v", err)
			} else {
				result.Passed = true
			}
		case <-time.After(caps.SequenceTimeout):
			result.Error = "sequence did not end after cancellation"
		}
		cancel()
		result.Duration = time.Since(start)
		report.addResult(result)
	}
}

// runCloseTests checks that Close ends every open sequence with an error and
// that actions fail afterwards.
func runCloseTests(t *testing.T, newAdapter func() adapter.IVehicleAdapter, caps Capabilities, report *ConformanceReport) {
	a := newAdapter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make([]error, len(sequences))
	var wg sync.WaitGroup
	for i, seq := range sequences {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = seq.drain(a, ctx)
		}()
	}

	start := time.Now()
	time.Sleep(10 * time.Millisecond)
	closeErr := a.Close()

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	result := ConformanceResult{
		TestName: "Close_EndsSequences",
		Details:  make(map[string]interface{}),
	}
	select {
	case <-finished:
		var missing []string
		for i, err := range errs {
			if err == nil {
				missing = append(missing, sequences[i].name)
			}
		}
		switch {
		case closeErr != nil:
			result.Error = fmt.Sprintf("Close failed: %v", closeErr)
		case len(missing) > 0:
			result.Error = "sequences ended without error: " + strings.Join(missing, ",")
		default:
			result.Passed = true
			result.Details["error"] = errs[0].Error()
		}
	case <-time.After(caps.SequenceTimeout):
		cancel()
		result.Error = "sequences did not end after Close"
	}
	result.Duration = time.Since(start)
	report.addResult(result)

	result = ConformanceResult{
		TestName: "Close_ActionsFail",
		Details:  make(map[string]interface{}),
	}
	start = time.Now()
	actx, acancel := context.WithTimeout(context.Background(), caps.SequenceTimeout)
	err := a.Arm(actx)
	acancel()
	result.Duration = time.Since(start)
	if err == nil {
		result.Error = "Arm succeeded after Close"
	} else {
		result.Passed = true
		result.Details["code"] = adapter.Code(adapter.NormalizeVehicleErrorWithAutopilot(err, nil, caps.Autopilot))
	}
	report.addResult(result)
}

// runFailureMappingTests checks that injected autopilot failures normalize to the expected code.
func runFailureMappingTests(t *testing.T, newAdapter func() adapter.IVehicleAdapter, caps Capabilities, report *ConformanceReport) {
	if caps.InjectError == nil {
		return
	}

	expected := map[string]error{
		"BUSY":        adapter.ErrBusy,
		"DENIED":      adapter.ErrDenied,
		"UNSUPPORTED": adapter.ErrUnsupported,
		"TIMEOUT":     adapter.ErrTimeout,
		"UNAVAILABLE": adapter.ErrUnavailable,
		"INTERNAL":    adapter.ErrInternal,
	}

	for _, errorType := range []string{"BUSY", "DENIED", "UNSUPPORTED", "TIMEOUT", "UNAVAILABLE", "INTERNAL"} {
		a := newAdapter()
		result := ConformanceResult{
			TestName: "FailureMapping_" + errorType,
			Details:  make(map[string]interface{}),
		}
		caps.InjectError(a, "arm", errorType)

		start := time.Now()
		err := a.Arm(context.Background())
		result.Duration = time.Since(start)

		normalized := adapter.NormalizeVehicleErrorWithAutopilot(err, nil, caps.Autopilot)
		if !errors.Is(normalized, expected[errorType]) {
			result.Error = fmt.Sprintf("expected %v, got %v", expected[errorType], normalized)
		} else {
			result.Passed = true
			result.Details["error"] = err.Error()
		}
		report.addResult(result)
		a.Close()
	}
}

// runTimingTests checks that an action returns within its deadline.
func runTimingTests(t *testing.T, newAdapter func() adapter.IVehicleAdapter, caps Capabilities, report *ConformanceReport) {
	a := newAdapter()
	defer a.Close()

	result := ConformanceResult{
		TestName: "Timing_HonorsDeadline",
		Details:  make(map[string]interface{}),
	}
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := a.Hold(ctx)
	result.Duration = time.Since(start)

	if result.Duration > 100*time.Millisecond+caps.SequenceTimeout/2 {
		result.Error = fmt.Sprintf("Operation took too long: %v", result.Duration)
	} else {
		result.Passed = true
		result.Details["duration"] = result.Duration.String()
		if err != nil {
			result.Details["code"] = adapter.Code(adapter.NormalizeVehicleErrorWithAutopilot(err, nil, caps.Autopilot))
		}
	}

	report.addResult(result)
}

// Helper functions

func (r *ConformanceReport) addResult(result ConformanceResult) {
	r.TotalTests++
	if result.Passed {
		r.PassedTests++
	} else {
		r.FailedTests++
		r.OverallPassed = false
	}
	r.Results = append(r.Results, result)
}

func printConformanceReport(t *testing.T, report *ConformanceReport) {
	t.Logf("\n%s", strings.Repeat("=", 80))
	t.Logf("ADAPTER CONFORMANCE REPORT")
	t.Logf("%s", strings.Repeat("=", 80))
	t.Logf("Adapter: %s", report.AdapterName)
	t.Logf("Total Tests: %d", report.TotalTests)
	t.Logf("Passed: %d", report.PassedTests)
	t.Logf("Failed: %d", report.FailedTests)
	t.Logf("Overall: %s", map[bool]string{true: "PASS", false: "FAIL"}[report.OverallPassed])
	t.Logf("Duration: %v", report.Duration)
	t.Logf("%s", strings.Repeat("-", 80))

	t.Logf("%-34s %-8s %-12s %-s", "TEST NAME", "RESULT", "DURATION", "DETAILS")
	t.Logf("%s", strings.Repeat("-", 80))

	for _, result := range report.Results {
		status := "PASS"
		if !result.Passed {
			status = "FAIL"
		}

		details := ""
		if result.Error != "" {
			details = result.Error
		} else if len(result.Details) > 0 {
			var detailParts []string
			for k, v := range result.Details {
				detailParts = append(detailParts, fmt.Sprintf("%s=%v", k, v))
			}
			details = strings.Join(detailParts, ", ")
		}

		t.Logf("%-34s %-8s %-12s %-s",
			result.TestName,
			status,
			result.Duration.String(),
			details)
	}

	t.Logf("%s", strings.Repeat("=", 80))
}
