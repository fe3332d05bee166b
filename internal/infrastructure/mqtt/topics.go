package mqtt

import "fmt"

// DefaultTopicPrefix is used when Topics.Prefix is empty.
const DefaultTopicPrefix = "thingbridge"

// Topics builds the gateway's own status topics. Topics published on behalf
// of things are chosen by the things themselves and never pass through here.
//
//	topics := mqtt.Topics{Prefix: "thingbridge"}
//	topics.ThingStatus("esp32") // "thingbridge/things/esp32/status"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// SystemStatus is the retained online/offline topic of the gateway process.
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix())
}

// SystemHealth is the periodic gateway health topic.
func (t Topics) SystemHealth() string {
	return fmt.Sprintf("%s/system/health", t.prefix())
}

// ThingStatus is the retained online/offline topic of one thing's MQTT
// session. It doubles as that session's Last Will topic.
func (t Topics) ThingStatus(thingID string) string {
	return fmt.Sprintf("%s/things/%s/status", t.prefix(), thingID)
}

// AllThingStatus matches every thing status topic.
func (t Topics) AllThingStatus() string {
	return fmt.Sprintf("%s/things/+/status", t.prefix())
}
