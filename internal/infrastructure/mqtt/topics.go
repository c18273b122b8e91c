package mqtt

// Topic names owned by the client itself.
//
// Device, scene, connection, and health topics belong to the fibaro
// package, which owns the message shapes that ride them. The client only
// names the system-level status topic it manages on its own behalf.
const (
	// TopicPrefix is the base for all bridge topics.
	TopicPrefix = "fibaro"

	// SystemStatusTopic carries the client's online/offline transitions.
	// The broker also publishes the fallback LWT here when no
	// caller-supplied will is configured.
	SystemStatusTopic = TopicPrefix + "/system/status"
)
