package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/thingbridge/internal/linkstate"
)

// Measurement names.
const (
	MeasurementFrames    = "thing_frames"
	MeasurementLinkState = "thing_link_state"
)

// RecordFrame writes one frame observation: the thing, direction
// ("uplink" or "downlink") and frame type as tags, the size in bytes as a
// field. It satisfies bridge.TrafficRecorder.
func (c *Client) RecordFrame(thingID, direction, frameType string, size int) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementFrames,
		map[string]string{
			"thing_id":  thingID,
			"direction": direction,
			"type":      frameType,
		},
		map[string]any{
			"bytes": size,
			"count": 1,
		},
		time.Now(),
	))
}

// RecordLinkChange writes a link transition. The state is stored both as
// its name and as its ordinal so it can be graphed.
func (c *Client) RecordLinkChange(ch linkstate.Change) {
	if !c.IsConnected() {
		return
	}

	at := ch.At
	if at.IsZero() {
		at = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementLinkState,
		map[string]string{
			"thing_id": ch.ThingID,
			"link":     ch.Link.String(),
		},
		map[string]any{
			"state": ch.State.String(),
			"code":  int(ch.State),
		},
		at,
	))
}
