package model

import "time"

type (
	Endpoint struct {
		PeerID string `json:"peer_id"`
		URL    string `json:"url"`
	}

	PeerEntry struct {
		Endpoint  Endpoint  `json:"endpoint"`
		LastSeen  time.Time `json:"last_seen"`
		UpdatedAt time.Time `json:"updated_at"`
		Healthy   bool      `json:"healthy"`
		Local     bool      `json:"local"`
	}

	// DeploymentRecord is a point-in-time copy of what a node knows about
	// one deployment.
	DeploymentRecord struct {
		DeploymentID string      `json:"deployment_id"`
		Peers        []PeerEntry `json:"peers"`
	}

	PeerStatus struct {
		PeerID    string    `json:"peer_id"`
		LastHeard time.Time `json:"last_heard"`
		Alive     bool      `json:"alive"`
	}

	DiscoveryResponse struct {
		URI  string `json:"uri"`
		Peer string `json:"peer,omitempty"`
	}

	// Project is a deployment served by this node and the backend that
	// answers its queries.
	Project struct {
		DeploymentID string `json:"deployment_id" bson:"deployment_id"`
		Endpoint     string `json:"endpoint" bson:"endpoint"`
		Enabled      bool   `json:"enabled" bson:"enabled"`
	}
)
