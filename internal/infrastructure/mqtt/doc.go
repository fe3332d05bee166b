// Package mqtt provides the MQTT side of a thing's bridge.
//
// Each thing owns one Client, and therefore one broker session whose client
// ID is the thing ID. The package manages:
//   - Opening and closing the session when the thing's device link comes and goes
//   - Publishing with delivery confirmation at QoS 1
//   - Topic subscriptions, restored automatically after paho reconnects
//   - A retained online/offline status topic per thing, with a matching LWT
//   - Reporting link state (disconnected, connecting, connected) to the bridge
//
// Reconnection policy belongs to paho; the client only observes it.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT, "esp32", topics.ThingStatus("esp32"))
//	client.SetOnStateChange(func(s linkstate.State) { ... })
//	if err := client.Connect(ctx); err != nil && !errors.Is(err, mqtt.ErrTimeout) {
//	    return err
//	}
//	defer client.Disconnect()
//
//	err := client.Publish(ctx, "proxy/test", payload, 1, false)
//
// # Security Considerations
//
//   - Use TLS against remote brokers (cfg.Broker.TLS=true)
//   - Supply credentials through THINGBRIDGE_MQTT_USERNAME/PASSWORD
package mqtt
