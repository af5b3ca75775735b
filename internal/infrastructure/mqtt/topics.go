package mqtt

import "fmt"

// TopicPrefix is the root of every Ada topic.
const TopicPrefix = "ada"

// Topics provides builders for Ada MQTT topics, so producers and consumers
// agree on naming.
//
//	topics := mqtt.Topics{}
//	topics.Control("kiosk-1") // "ada/control/kiosk-1"
type Topics struct{}

// Control is where a remote sender publishes control paths. The last level
// identifies the sender.
//
// Example: ada/control/kiosk-1
func (Topics) Control(sender string) string {
	return fmt.Sprintf("%s/control/%s", TopicPrefix, sender)
}

// AllControl matches every sender's control topic.
func (Topics) AllControl() string {
	return TopicPrefix + "/control/+"
}

// State carries replies and power state announcements.
func (Topics) State() string {
	return TopicPrefix + "/state"
}

// Commands echoes every command batch queued to the fleet.
func (Topics) Commands() string {
	return TopicPrefix + "/commands"
}

// Sentiment carries per-zone emotion lists from the sentiment service.
func (Topics) Sentiment() string {
	return TopicPrefix + "/sentiment"
}

// BridgeHealth carries smart-plug bridge health reports.
func (Topics) BridgeHealth() string {
	return TopicPrefix + "/bridge/health"
}

// FleetSession carries connect and disconnect events for one device.
//
// Example: ada/fleet/session/adapi1
func (Topics) FleetSession(device string) string {
	return fmt.Sprintf("%s/fleet/session/%s", TopicPrefix, device)
}

// FirmwareHash is the retained hash of the current device firmware.
func (Topics) FirmwareHash() string {
	return TopicPrefix + "/firmware/hash"
}

// SystemStatus carries the server's online/offline status, including the
// broker-published last will.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// SenderFromControl extracts the sender from a control topic, or "" if the
// topic is not one.
func SenderFromControl(topic string) string {
	prefix := TopicPrefix + "/control/"
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return ""
	}
	return topic[len(prefix):]
}
