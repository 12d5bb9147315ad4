package gateway

// Each sensor record carries a single base topic. The base topic is never
// published to directly: the gateway derives two directional sub-topics from it,
// one the device publishes on and one the server publishes on. The suffixes must
// differ, otherwise a device would hear its own commands echoed back and the
// server would re-ingest its own publications.
const (
	// deviceToServerSuffix marks the sub-topic the device publishes telemetry
	// and command replies on. The server subscribes here.
	deviceToServerSuffix = "/sensor"
	// serverToDeviceSuffix marks the sub-topic the server publishes commands on.
	// The device subscribes here.
	serverToDeviceSuffix = "/server"
)

// DeviceToServerTopic returns the sub-topic a device publishes on for the given
// base topic. Web clients that want a live feed of a sensor subscribe to this
// same topic.
func DeviceToServerTopic(baseTopic string) string {
	return baseTopic + deviceToServerSuffix
}

// ServerToDeviceTopic returns the sub-topic the gateway publishes commands on
// for the given base topic.
func ServerToDeviceTopic(baseTopic string) string {
	return baseTopic + serverToDeviceSuffix
}
