package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "cockpit"

// Metrics holds all cockpit metric instruments.
type Metrics struct {
	ChannelsOpened  metric.Int64Counter
	ChannelsClosed  metric.Int64Counter
	FramesReceived  metric.Int64Counter
	FramesSent      metric.Int64Counter
	RunsStarted     metric.Int64Counter
	RunsCompleted   metric.Int64Counter
	InputTimeouts   metric.Int64Counter
	PlanDispatches  metric.Int64Counter
	RunDuration     metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ChannelsOpened, err = meter.Int64Counter("cockpit.channels.opened",
		metric.WithDescription("Number of run channels opened"))
	if err != nil {
		return nil, err
	}

	m.ChannelsClosed, err = meter.Int64Counter("cockpit.channels.closed",
		metric.WithDescription("Number of run channels closed"))
	if err != nil {
		return nil, err
	}

	m.FramesReceived, err = meter.Int64Counter("cockpit.frames.received",
		metric.WithDescription("Number of inbound frames processed"))
	if err != nil {
		return nil, err
	}

	m.FramesSent, err = meter.Int64Counter("cockpit.frames.sent",
		metric.WithDescription("Number of outbound frames sent"))
	if err != nil {
		return nil, err
	}

	m.RunsStarted, err = meter.Int64Counter("cockpit.runs.started",
		metric.WithDescription("Number of runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("cockpit.runs.completed",
		metric.WithDescription("Number of runs reaching a terminal status"))
	if err != nil {
		return nil, err
	}

	m.InputTimeouts, err = meter.Int64Counter("cockpit.input.timeouts",
		metric.WithDescription("Number of idle-input timeout closures"))
	if err != nil {
		return nil, err
	}

	m.PlanDispatches, err = meter.Int64Counter("cockpit.plan.dispatches",
		metric.WithDescription("Number of plan dispatches applied"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("cockpit.run.duration_seconds",
		metric.WithDescription("Run duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
