package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"query_gateway/internal/model"
	"query_gateway/internal/service/discovery"
	"query_gateway/internal/service/metrics"
	"query_gateway/internal/service/proxy"
	"query_gateway/internal/service/token"
	"query_gateway/internal/utils/log"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

type (
	Overlay interface {
		LocalID() string
		Resolve(deploymentID string) (model.Endpoint, error)
		Deployments() []model.DeploymentRecord
		Peers() []model.PeerStatus
		Subscribe() (<-chan discovery.Event, func())
		Connect(ctx context.Context, addr string) error
	}

	TokenIssuer interface {
		Issue(req model.SignedRequest) (string, *token.Claims, error)
	}

	Config struct {
		ListenAddr   string
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
		AdminEnabled bool
	}

	HttpServer struct {
		cfg      Config
		tokens   TokenIssuer
		overlay  Overlay
		pipeline *proxy.Pipeline
		metrics  *metrics.Metrics

		srv *http.Server
	}
)

func NewHttpServer(cfg Config, tokens TokenIssuer, overlay Overlay, pipeline *proxy.Pipeline, m *metrics.Metrics) *HttpServer {
	return &HttpServer{
		cfg:      cfg,
		tokens:   tokens,
		overlay:  overlay,
		pipeline: pipeline,
		metrics:  m,
	}
}

func (s *HttpServer) Name() string { return "http" }

// Handler is the full gateway surface: routes, CORS and h2c.
func (s *HttpServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/discovery/{id}", s.GetDiscovery()).Methods(http.MethodGet)
	r.HandleFunc("/token", s.GetToken()).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/metadata/{id}", s.GetMetadata()).Methods(http.MethodGet)
	r.HandleFunc("/query/{id}", s.PostQuery()).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.GetHealth()).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	if s.cfg.AdminEnabled {
		r.HandleFunc("/ws", s.HandleAdminWS()).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, model.ErrorResponse{Error: "not_found", Message: "no such route"})
	})

	return h2c.NewHandler(cors(withRequestID(r)), &http2.Server{})
}

func (s *HttpServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info("http server listening", zap.String("addr", ln.Addr().String()))
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (s *HttpServer) Stop() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

var corsHeaders = "content-type, x-apollo-tracing, agent, authorization, user-agent"

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", corsHeaders)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(proxy.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(proxy.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(proxy.WithRequestID(r.Context(), id)))
	})
}
