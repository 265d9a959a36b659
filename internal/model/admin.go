package model

import "encoding/json"

const (
	AdminDeployments = "deployments"
	AdminPeers       = "peers"
	AdminResolve     = "resolve"
	AdminConnect     = "connect"
	AdminSubscribe   = "subscribe"

	// AdminEvent marks frames pushed by the server after a subscribe.
	AdminEvent = "event"
)

type (
	AdminRequest struct {
		ID     uint64   `json:"id"`
		Method string   `json:"method"`
		Params []string `json:"params,omitempty"`
	}

	AdminResponse struct {
		ID     uint64          `json:"id,omitempty"`
		Method string          `json:"method,omitempty"`
		Result json.RawMessage `json:"result,omitempty"`
		Error  string          `json:"error,omitempty"`
	}
)
