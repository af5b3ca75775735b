package influxdb

import (
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementSequence = "fleet_sequence"
	MeasurementDispatch = "command_dispatch"
	MeasurementSession  = "fleet_session"
	MeasurementSchedule = "schedule_state"
)

// RecordSequence records a device's heartbeat reply against the sequence
// last sent to it.
func (c *Client) RecordSequence(device string, reported, sent int64) {
	c.writePoint(MeasurementSequence,
		map[string]string{"device": device},
		map[string]any{
			"reported": reported,
			"sent":     sent,
			"lag":      sent - reported,
		})
}

// RecordDispatch records one batch delivery attempt sequence.
func (c *Client) RecordDispatch(device string, kinds []string, attempts int, ok bool) {
	c.writePoint(MeasurementDispatch,
		map[string]string{
			"device": device,
			"kinds":  strings.Join(kinds, ","),
		},
		map[string]any{
			"attempts": attempts,
			"ok":       ok,
		})
}

// RecordSession records a device connecting or disconnecting.
func (c *Client) RecordSession(device string, connected bool) {
	c.writePoint(MeasurementSession,
		map[string]string{"device": device},
		map[string]any{"connected": connected})
}

// RecordState records a power state transition.
func (c *Client) RecordState(from, to string) {
	c.writePoint(MeasurementSchedule,
		map[string]string{"state": to},
		map[string]any{"from": from, "lit": to == "on" || to == "custom"})
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.writePoint(measurement, tags, fields)
}

// WritePointWithTime writes a custom point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, c.now())
}
