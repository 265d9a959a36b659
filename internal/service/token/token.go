package token

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"query_gateway/internal/cryptographic/kdf"
	"query_gateway/internal/cryptographic/signature"
	"query_gateway/internal/model"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type (
	Config struct {
		Secret    []byte
		TTL       time.Duration
		Freshness time.Duration
		Now       func() time.Time
	}

	// Claims scope a token to exactly one (user, deployment) pair.
	Claims struct {
		UserID       string `json:"user_id"`
		DeploymentID string `json:"deployment_id"`
		jwt.RegisteredClaims
	}

	Service struct {
		key       []byte
		ttl       time.Duration
		freshness time.Duration
		now       func() time.Time
	}
)

func NewService(cfg Config) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token: empty secret")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("token: ttl must be positive, got %v", cfg.TTL)
	}
	if cfg.Freshness <= 0 {
		return nil, fmt.Errorf("token: freshness must be positive, got %v", cfg.Freshness)
	}
	key, err := kdf.DeriveKey(cfg.Secret, kdf.InfoToken)
	if err != nil {
		return nil, fmt.Errorf("token: derive key: %w", err)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{key: key, ttl: cfg.TTL, freshness: cfg.Freshness, now: now}, nil
}

// SignedMessage is the text a client signs to request a token.
func SignedMessage(userID, deploymentID string, timestamp int64) []byte {
	return []byte(userID + deploymentID + strconv.FormatInt(timestamp, 10))
}

func (s *Service) Issue(req model.SignedRequest) (string, *Claims, error) {
	if req.DeploymentID == "" {
		return "", nil, fmt.Errorf("%w: missing deployment_id", model.ErrMalformedInput)
	}
	declared, err := signature.ParseIdentity(req.UserID)
	if err != nil {
		return "", nil, err
	}
	sig, err := hexutil.Decode(ensureHexPrefix(req.Signature))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w: %v", model.ErrAuthFailed, model.ErrInvalidSignature, err)
	}

	now := s.now()
	if skew := now.Sub(time.UnixMilli(req.Timestamp)).Abs(); skew > s.freshness {
		return "", nil, fmt.Errorf("%w: timestamp outside freshness window by %v", model.ErrAuthFailed, skew-s.freshness)
	}

	id, err := signature.Verify(SignedMessage(req.UserID, req.DeploymentID, req.Timestamp), sig, declared)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", model.ErrAuthFailed, err)
	}

	claims := &Claims{
		UserID:       id.Hex(),
		DeploymentID: req.DeploymentID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(s.key)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

func (s *Service) Validate(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %v", model.ErrTokenExpired, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", model.ErrTokenInvalid, err)
	}
	if claims.UserID == "" || claims.DeploymentID == "" {
		return nil, fmt.Errorf("%w: missing scope claims", model.ErrTokenInvalid)
	}
	return claims, nil
}

// Authorize validates token and requires it to be scoped to deploymentID.
func (s *Service) Authorize(token, deploymentID string) (*Claims, error) {
	claims, err := s.Validate(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrUnauthorized, err)
	}
	if claims.DeploymentID != deploymentID {
		return nil, fmt.Errorf("%w: token scoped to %s", model.ErrUnauthorized, claims.DeploymentID)
	}
	return claims, nil
}

func ensureHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return "0x" + s[2:]
	}
	return "0x" + s
}
