// Package influxdb records gateway traffic in InfluxDB.
//
// It wraps influxdb-client-go v2 and writes two measurements:
//   - thing_frames: one point per TLV frame crossing a device link, tagged
//     by thing, direction and frame type.
//   - thing_link_state: one point per device or MQTT link transition.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	bridge.New(bridge.Options{..., Traffic: client})
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval; asynchronous failures go to the SetOnError callback.
package influxdb
