package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"query_gateway/internal/model"
	"query_gateway/internal/service/metrics"
	"query_gateway/internal/service/token"
	"query_gateway/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	RequestIDHeader = "X-Request-Id"

	maxResponseBytes = 32 << 20
)

type (
	Authorizer interface {
		Authorize(token, deploymentID string) (*token.Claims, error)
	}

	Resolver interface {
		Candidates(deploymentID string) []model.Endpoint
		ReportFailure(deploymentID, peerID string)
	}

	Config struct {
		Timeout       time.Duration
		MaxBodyBytes  int64
		HTTPTransport HTTPTransportConfig
	}

	// Response is a backend reply relayed verbatim.
	Response struct {
		Status      int
		ContentType string
		Body        []byte
		Endpoint    model.Endpoint
	}

	Pipeline struct {
		auth     Authorizer
		resolver Resolver
		client   *http.Client
		timeout  time.Duration
		maxBody  int64
		metrics  *metrics.Metrics
	}
)

func NewPipeline(cfg Config, auth Authorizer, resolver Resolver, m *metrics.Metrics) *Pipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Pipeline{
		auth:     auth,
		resolver: resolver,
		client:   buildHTTPClient(cfg.HTTPTransport),
		timeout:  cfg.Timeout,
		maxBody:  cfg.MaxBodyBytes,
		metrics:  m,
	}
}

func (p *Pipeline) MaxBodyBytes() int64 { return p.maxBody }

// Query authorizes bearer for deploymentID and forwards body to the best
// endpoint, failing over once on a transport error or timeout.
func (p *Pipeline) Query(ctx context.Context, bearer, deploymentID string, body []byte) (*Response, error) {
	if _, err := p.auth.Authorize(bearer, deploymentID); err != nil {
		p.metrics.ObserveQuery(deploymentID, "unauthorized")
		return nil, err
	}
	if err := validateEnvelope(body); err != nil {
		p.metrics.ObserveQuery(deploymentID, "malformed")
		return nil, err
	}
	return p.forward(ctx, deploymentID, body)
}

// Metadata forwards the fixed _metadata query. No token is required.
func (p *Pipeline) Metadata(ctx context.Context, deploymentID string) (*Response, error) {
	return p.forward(ctx, deploymentID, metadataBody())
}

// Discover resolves deploymentID without contacting the backend.
func (p *Pipeline) Discover(deploymentID string) (model.DiscoveryResponse, error) {
	c := p.resolver.Candidates(deploymentID)
	if len(c) == 0 {
		return model.DiscoveryResponse{}, fmt.Errorf("%w: %s", model.ErrUnknownDeployment, deploymentID)
	}
	return model.DiscoveryResponse{URI: "/query/" + deploymentID, Peer: c[0].PeerID}, nil
}

func (p *Pipeline) forward(ctx context.Context, deploymentID string, body []byte) (*Response, error) {
	candidates := p.resolver.Candidates(deploymentID)
	if len(candidates) == 0 {
		p.metrics.ObserveQuery(deploymentID, "unavailable")
		return nil, fmt.Errorf("%w: no endpoint for %s", model.ErrServiceUnavailable, deploymentID)
	}
	if len(candidates) > 2 {
		candidates = candidates[:2]
	}

	requestID := requestIDFrom(ctx)
	var lastErr error
	for _, ep := range candidates {
		resp, err := p.post(ctx, ep, body, requestID)
		if err == nil {
			p.metrics.ObserveQuery(deploymentID, "ok")
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		p.resolver.ReportFailure(deploymentID, ep.PeerID)
		log.Warn("forward failed",
			zap.String("request_id", requestID),
			zap.String("deployment_id", deploymentID),
			zap.String("peer_id", ep.PeerID),
			zap.Error(err))
	}

	p.metrics.ObserveQuery(deploymentID, "upstream_error")
	if isTimeout(lastErr) {
		return nil, fmt.Errorf("%w: %w: %v", model.ErrUpstream, model.ErrUpstreamTimeout, lastErr)
	}
	return nil, fmt.Errorf("%w: %v", model.ErrUpstream, lastErr)
}

func (p *Pipeline) post(ctx context.Context, ep model.Endpoint, body []byte, requestID string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, requestID)

	resp, err := p.client.Do(req)
	if err != nil {
		p.metrics.ObserveUpstream("error", time.Since(start))
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		p.metrics.ObserveUpstream("error", time.Since(start))
		return nil, fmt.Errorf("read backend response: %w", err)
	}
	p.metrics.ObserveUpstream("ok", time.Since(start))

	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
		Endpoint:    ep,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

type requestIDKey struct{}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
