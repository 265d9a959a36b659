package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"query_gateway/internal/model"
	"query_gateway/internal/utils/log"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *HttpServer) GetDiscovery() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		res, err := s.pipeline.Discover(id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *HttpServer) GetToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseSignedRequest(r)
		if err != nil {
			s.metrics.ObserveToken("malformed")
			s.writeError(w, r, err)
			return
		}

		tok, claims, err := s.tokens.Issue(req)
		if err != nil {
			s.metrics.ObserveToken("rejected")
			s.writeError(w, r, err)
			return
		}
		s.metrics.ObserveToken("issued")
		log.Info("token issued",
			zap.String("user_id", claims.UserID),
			zap.String("deployment_id", claims.DeploymentID),
			zap.Time("expires_at", claims.ExpiresAt.Time))

		writeJSON(w, http.StatusOK, model.TokenResponse{Token: tok})
	}
}

func parseSignedRequest(r *http.Request) (model.SignedRequest, error) {
	var req model.SignedRequest
	if r.Method == http.MethodPost {
		dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
		if err := dec.Decode(&req); err != nil {
			return req, fmt.Errorf("%w: %v", model.ErrMalformedInput, err)
		}
		return req, nil
	}

	q := r.URL.Query()
	req.UserID = q.Get("user_id")
	req.DeploymentID = q.Get("deployment_id")
	req.Signature = q.Get("signature")
	ts, err := strconv.ParseInt(q.Get("timestamp"), 10, 64)
	if err != nil {
		return req, fmt.Errorf("%w: timestamp: %v", model.ErrMalformedInput, err)
	}
	req.Timestamp = ts
	return req, nil
}

func (s *HttpServer) GetMetadata() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := s.pipeline.Metadata(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeBackend(w, resp)
	}
}

func (s *HttpServer) PostQuery() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		bearer, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			s.writeError(w, r, fmt.Errorf("%w: missing bearer token", model.ErrUnauthorized))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.pipeline.MaxBodyBytes()))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				err = fmt.Errorf("%w: body exceeds %d bytes", model.ErrMalformedInput, tooLarge.Limit)
			}
			s.writeError(w, r, err)
			return
		}

		resp, err := s.pipeline.Query(r.Context(), bearer, id, body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeBackend(w, resp)
	}
}

func bearerToken(header string) (string, bool) {
	scheme, tok, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

type healthResponse struct {
	Status      string `json:"status"`
	Peer        string `json:"peer"`
	Deployments int    `json:"deployments"`
	Peers       int    `json:"peers"`
}

func (s *HttpServer) GetHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alive := 0
		for _, p := range s.overlay.Peers() {
			if p.Alive {
				alive++
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{
			Status:      "ok",
			Peer:        s.overlay.LocalID(),
			Deployments: len(s.overlay.Deployments()),
			Peers:       alive,
		})
	}
}
