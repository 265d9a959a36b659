package server

import (
	"encoding/json"
	"net/http"

	"query_gateway/internal/model"
	"query_gateway/internal/service/proxy"
	"query_gateway/internal/utils/log"

	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("marshal response failed", zap.Error(err))
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError maps err onto the error taxonomy. Server-side failures only
// expose the kind, never the wrapped detail.
func (s *HttpServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := model.KindOf(err)
	s.metrics.ObserveError(kind.Tag)

	msg := err.Error()
	if kind.Status >= http.StatusInternalServerError {
		if kind.Err != nil {
			msg = kind.Err.Error()
		} else {
			msg = "internal error"
		}
		log.Error("request failed", zap.String("path", r.URL.Path), zap.String("kind", kind.Tag), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.String("path", r.URL.Path), zap.String("kind", kind.Tag), zap.Error(err))
	}
	writeJSON(w, kind.Status, model.ErrorResponse{Error: kind.Tag, Message: msg})
}

func writeBackend(w http.ResponseWriter, resp *proxy.Response) {
	ct := resp.ContentType
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}
