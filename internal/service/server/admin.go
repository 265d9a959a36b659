package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"query_gateway/internal/model"
	"query_gateway/internal/service/discovery"
	"query_gateway/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const adminWriteTimeout = 5 * time.Second

var errUnknownMethod = errors.New("unknown method")

// adminConn serialises writes; gorilla connections allow one writer.
type adminConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *adminConn) send(v *model.AdminResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(adminWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (s *HttpServer) HandleAdminWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("admin upgrade failed", zap.Error(err))
			return
		}
		log.Debug("admin socket opened", zap.String("remote", r.RemoteAddr))
		s.processAdmin(r.Context(), &adminConn{conn: conn})
	}
}

func (s *HttpServer) processAdmin(ctx context.Context, c *adminConn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.conn.Close()

	var subscribed bool
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug("admin socket closed", zap.Error(err))
			return
		}

		var req model.AdminRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.send(&model.AdminResponse{Error: "malformed request"})
			continue
		}

		if req.Method == model.AdminSubscribe {
			if !subscribed {
				subscribed = true
				events, unsubscribe := s.overlay.Subscribe()
				go s.streamEvents(ctx, c, events, unsubscribe)
			}
			c.send(&model.AdminResponse{ID: req.ID, Result: json.RawMessage(`true`)})
			continue
		}

		resp := &model.AdminResponse{ID: req.ID}
		result, err := s.adminCall(ctx, req)
		if err == nil {
			resp.Result, err = json.Marshal(result)
		}
		if err != nil {
			resp.Error = err.Error()
		}
		if err := c.send(resp); err != nil {
			log.Debug("admin write failed", zap.Error(err))
			return
		}
	}
}

func (s *HttpServer) adminCall(ctx context.Context, req model.AdminRequest) (any, error) {
	param := func() (string, error) {
		if len(req.Params) == 0 || req.Params[0] == "" {
			return "", fmt.Errorf("%s: missing parameter", req.Method)
		}
		return req.Params[0], nil
	}

	switch req.Method {
	case model.AdminDeployments:
		return s.overlay.Deployments(), nil
	case model.AdminPeers:
		return s.overlay.Peers(), nil
	case model.AdminResolve:
		id, err := param()
		if err != nil {
			return nil, err
		}
		return s.overlay.Resolve(id)
	case model.AdminConnect:
		addr, err := param()
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.overlay.Connect(ctx, addr); err != nil {
			return nil, err
		}
		return true, nil
	}
	return nil, fmt.Errorf("%w %q", errUnknownMethod, req.Method)
}

func (s *HttpServer) streamEvents(ctx context.Context, c *adminConn, events <-chan discovery.Event, unsubscribe func()) {
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := c.send(&model.AdminResponse{Method: model.AdminEvent, Result: data}); err != nil {
				return
			}
		}
	}
}
