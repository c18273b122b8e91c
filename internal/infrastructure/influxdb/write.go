package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceState records a normalized device observation. The write
// is non-blocking; points are batched and sent asynchronously.
//
//	client.WriteDeviceState("Room3_Light2", true, 80)
func (c *Client) WriteDeviceState(key string, on bool, level int) {
	if !c.IsConnected() {
		return
	}

	onValue := 0
	if on {
		onValue = 1
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{
			"key": key,
		},
		map[string]interface{}{
			"on":    onValue,
			"level": level,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSceneActivation records a scene lifecycle step ("activated" or
// "ready") for a scene key.
func (c *Client) WriteSceneActivation(key string, status string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"scene_activation",
		map[string]string{
			"key":    key,
			"status": status,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteChannelStatus records a hub channel transition. Graphing these
// lets operators correlate state gaps with channel outages.
//
// channel is "command" or "refresh"; status is "connected",
// "connecting" or "disconnected".
func (c *Client) WriteChannelStatus(channel string, status string) {
	if !c.IsConnected() {
		return
	}

	up := 0
	if status == "connected" {
		up = 1
	}

	point := write.NewPoint(
		"channel_status",
		map[string]string{
			"channel": channel,
			"status":  status,
		},
		map[string]interface{}{
			"up": up,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
