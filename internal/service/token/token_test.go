package token

import (
	"crypto/ecdsa"
	"errors"
	"testing"
	"time"

	"query_gateway/internal/cryptographic/signature"
	"query_gateway/internal/model"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/golang-jwt/jwt/v5"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newTestService(t *testing.T, c *clock) *Service {
	t.Helper()
	s, err := NewService(Config{
		Secret:    []byte("test-secret"),
		TTL:       time.Hour,
		Freshness: 2 * time.Minute,
		Now:       c.Now,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return s
}

func signedRequest(t *testing.T, key *ecdsa.PrivateKey, user, deployment string, ts time.Time) model.SignedRequest {
	t.Helper()
	sig, err := signature.Sign(key, SignedMessage(user, deployment, ts.UnixMilli()))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return model.SignedRequest{
		UserID:       user,
		DeploymentID: deployment,
		Signature:    hexutil.Encode(sig),
		Timestamp:    ts.UnixMilli(),
	}
}

func TestIssueAndAuthorizeUntilExpiry(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	s := newTestService(t, c)
	key, addr, _ := signature.NewSecp256k1Keypair()

	tok, claims, err := s.Issue(signedRequest(t, key, addr.Hex(), "Qm123", c.t))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if claims.UserID != addr.Hex() || claims.DeploymentID != "Qm123" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		t.Fatalf("expires_at must be after issued_at")
	}

	c.t = c.t.Add(59 * time.Minute)
	if _, err := s.Authorize(tok, "Qm123"); err != nil {
		t.Fatalf("authorize before expiry: %v", err)
	}

	c.t = time.Unix(1_700_000_000, 0).Add(time.Hour)
	_, err = s.Validate(tok)
	if !errors.Is(err, model.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired at expiry, got %v", err)
	}
	_, err = s.Authorize(tok, "Qm123")
	if !errors.Is(err, model.ErrUnauthorized) || !errors.Is(err, model.ErrTokenExpired) {
		t.Fatalf("expected unauthorized/expired, got %v", err)
	}
}

func TestAuthorizeScopeMismatch(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	s := newTestService(t, c)
	key, addr, _ := signature.NewSecp256k1Keypair()

	tok, _, err := s.Issue(signedRequest(t, key, addr.Hex(), "Qm123", c.t))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := s.Authorize(tok, "Qm999"); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestIssueRejectsStaleTimestamp(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	s := newTestService(t, c)
	key, addr, _ := signature.NewSecp256k1Keypair()

	old := signedRequest(t, key, addr.Hex(), "Qm123", c.t.Add(-3*time.Minute))
	if _, _, err := s.Issue(old); !errors.Is(err, model.ErrAuthFailed) {
		t.Fatalf("stale replay: expected ErrAuthFailed, got %v", err)
	}

	future := signedRequest(t, key, addr.Hex(), "Qm123", c.t.Add(3*time.Minute))
	if _, _, err := s.Issue(future); !errors.Is(err, model.ErrAuthFailed) {
		t.Fatalf("future timestamp: expected ErrAuthFailed, got %v", err)
	}

	edge := signedRequest(t, key, addr.Hex(), "Qm123", c.t.Add(-2*time.Minute))
	if _, _, err := s.Issue(edge); err != nil {
		t.Fatalf("timestamp at window edge: %v", err)
	}
}

func TestIssueRejectsForeignSigner(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	s := newTestService(t, c)
	key, _, _ := signature.NewSecp256k1Keypair()
	_, victim, _ := signature.NewSecp256k1Keypair()

	req := signedRequest(t, key, victim.Hex(), "Qm123", c.t)
	_, _, err := s.Issue(req)
	if !errors.Is(err, model.ErrAuthFailed) || !errors.Is(err, model.ErrInvalidSignature) {
		t.Fatalf("expected auth failure, got %v", err)
	}
}

func TestIssueMalformed(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	s := newTestService(t, c)
	cases := []model.SignedRequest{
		{UserID: "0xAA", DeploymentID: "Qm123", Signature: "0x00", Timestamp: c.t.UnixMilli()},
		{UserID: "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", Signature: "0x00", Timestamp: c.t.UnixMilli()},
	}
	for _, req := range cases {
		if _, _, err := s.Issue(req); !errors.Is(err, model.ErrMalformedInput) {
			t.Fatalf("%+v: expected ErrMalformedInput, got %v", req, err)
		}
	}
}

func TestValidateRejectsForeignTokens(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	s := newTestService(t, c)
	claims := &Claims{
		UserID:       "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23",
		DeploymentID: "Qm123",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(c.t.Add(time.Hour)),
		},
	}

	other, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("another key"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	for name, tok := range map[string]string{"wrong key": other, "alg none": none, "garbage": "not.a.jwt"} {
		if _, err := s.Validate(tok); !errors.Is(err, model.ErrTokenInvalid) {
			t.Fatalf("%s: expected ErrTokenInvalid, got %v", name, err)
		}
	}
}

func TestTokensVerifyAcrossNodesSharingSecret(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	a := newTestService(t, c)
	b := newTestService(t, c)
	key, addr, _ := signature.NewSecp256k1Keypair()

	tok, _, err := a.Issue(signedRequest(t, key, addr.Hex(), "Qm123", c.t))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Authorize(tok, "Qm123"); err != nil {
		t.Fatalf("peer node rejected token: %v", err)
	}
}

func TestNewServiceRejectsBadConfig(t *testing.T) {
	if _, err := NewService(Config{TTL: time.Hour, Freshness: time.Minute}); err == nil {
		t.Fatalf("empty secret accepted")
	}
	if _, err := NewService(Config{Secret: []byte("x"), Freshness: time.Minute}); err == nil {
		t.Fatalf("zero ttl accepted")
	}
	for _, fresh := range []time.Duration{0, -time.Second} {
		if _, err := NewService(Config{Secret: []byte("x"), TTL: time.Hour, Freshness: fresh}); err == nil {
			t.Fatalf("freshness %v accepted", fresh)
		}
	}
}
