package app

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"query_gateway/internal/cryptographic/signature"
	"query_gateway/internal/model"
	"query_gateway/internal/service/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
)

// APIError is a gateway error response.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Kind, e.Message)
}

// Client talks to one gateway on behalf of one signing key.
type Client struct {
	base *url.URL
	http *http.Client
	key  *ecdsa.PrivateKey
	user common.Address
	now  func() time.Time
}

func NewClient(gateway string, key *ecdsa.PrivateKey) (*Client, error) {
	u, err := url.Parse(gateway)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("gateway url %q must be http or https", gateway)
	}
	return &Client{
		base: u,
		http: &http.Client{Timeout: 60 * time.Second},
		key:  key,
		user: crypto.PubkeyToAddress(key.PublicKey),
		now:  time.Now,
	}, nil
}

func (c *Client) User() common.Address { return c.user }

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String()
}

// RequestToken signs user+deployment+now and exchanges it for a token.
func (c *Client) RequestToken(ctx context.Context, deploymentID string) (string, error) {
	ts := c.now().UnixMilli()
	sig, err := signature.Sign(c.key, token.SignedMessage(c.user.Hex(), deploymentID, ts))
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(model.SignedRequest{
		UserID:       c.user.Hex(),
		DeploymentID: deploymentID,
		Signature:    hexutil.Encode(sig),
		Timestamp:    ts,
	})
	if err != nil {
		return "", err
	}

	var out model.TokenResponse
	if err := c.do(ctx, http.MethodPost, "/token", "", body, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) Discover(ctx context.Context, deploymentID string) (model.DiscoveryResponse, error) {
	var out model.DiscoveryResponse
	err := c.do(ctx, http.MethodGet, "/discovery/"+url.PathEscape(deploymentID), "", nil, &out)
	return out, err
}

// Query posts a GraphQL envelope and returns the raw backend reply.
func (c *Client) Query(ctx context.Context, deploymentID, bearer string, envelope []byte) ([]byte, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, "/query/"+url.PathEscape(deploymentID), bearer, envelope, &out)
	return out, err
}

func (c *Client) Metadata(ctx context.Context, deploymentID string) ([]byte, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/metadata/"+url.PathEscape(deploymentID), "", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e model.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return &APIError{Status: resp.StatusCode, Kind: e.Error, Message: e.Message}
		}
		return &APIError{Status: resp.StatusCode, Kind: "http", Message: strings.TrimSpace(string(data))}
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = data
		return nil
	}
	return json.Unmarshal(data, out)
}

// Subscribe opens the admin socket and asks for overlay events.
func (c *Client) Subscribe(ctx context.Context) (*websocket.Conn, error) {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(model.AdminRequest{ID: 1, Method: model.AdminSubscribe}); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
