package model

import "github.com/ethereum/go-ethereum/common"

// Identity is the 20-byte account address recovered from a signature.
type Identity = common.Address

type (
	// SignedRequest proves control of UserID. The signed text is
	// UserID + DeploymentID + decimal Timestamp (unix millis).
	SignedRequest struct {
		UserID       string `json:"user_id"`
		DeploymentID string `json:"deployment_id"`
		Signature    string `json:"signature"`
		Timestamp    int64  `json:"timestamp"`
	}

	TokenResponse struct {
		Token string `json:"token"`
	}
)
