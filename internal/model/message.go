package model

type MessageType string

const (
	MessageAnnounce  MessageType = "announce"
	MessageHeartbeat MessageType = "heartbeat"
	MessageWithdraw  MessageType = "withdraw"
)

type (
	// AnnouncementMessage is the unit of gossip between gateway nodes.
	// Heartbeats leave DeploymentID and Endpoint empty.
	AnnouncementMessage struct {
		Type         MessageType `json:"type"`
		Origin       string      `json:"origin"`
		DeploymentID string      `json:"deployment_id,omitempty"`
		Endpoint     string      `json:"endpoint,omitempty"`
		Timestamp    int64       `json:"timestamp"` // unix millis at the origin
		Hops         int         `json:"hops"`
		Signature    string      `json:"signature"`
	}
)
