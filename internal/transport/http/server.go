package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/cocaine/cocaine-framework-go/internal/infra/metrics"
	"github.com/cocaine/cocaine-framework-go/internal/infra/repository/journal"
	proxyAPI "github.com/cocaine/cocaine-framework-go/internal/transport/http/proxy"
	httpauth "github.com/cocaine/cocaine-framework-go/internal/transport/http/util/auth"
	"github.com/cocaine/cocaine-framework-go/internal/transport/http/util/response"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Addr        string
	MaxBodySize int64
	Gateway     *dealer.Gateway
	Services    []string
	Metrics     *metrics.Metrics        // 可选
	Journal     journal.Repo            // 可选
	Auth        *httpauth.Authenticator // 可选，nil 时不认证
}

type Server struct {
	Server  *http.Server
	Router  *mux.Router
	journal journal.Repo
	started time.Time
	opts    Options
}

func NewServer(opts Options) *Server {
	router := mux.NewRouter()
	if opts.Auth != nil {
		router.Use(opts.Auth.Middleware)
	}

	s := &Server{
		Server:  &http.Server{Addr: opts.Addr, Handler: router},
		Router:  router,
		journal: opts.Journal,
		started: time.Now(),
		opts:    opts,
	}

	router.HandleFunc("/status", s.handleStatus).Methods("GET")
	router.HandleFunc("/journal", s.handleListJournal).Methods("GET")
	router.HandleFunc("/journal/{id}", s.handleGetJournal).Methods("GET")
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics.Handler()).Methods("GET")
	}

	var recorder proxyAPI.Recorder
	if opts.Metrics != nil {
		recorder = opts.Metrics
	}
	proxyAPI.RegisterRoutes(router, proxyAPI.Options{
		Gateway:     opts.Gateway,
		Recorder:    recorder,
		MaxBodySize: opts.MaxBodySize,
	})
	return s
}

// Start 在后台监听，返回的 channel 在服务异常退出时收到错误
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("HTTP server failed: %v", err)
			errCh <- err
		}
		close(errCh)
	}()
	logrus.Infof("HTTP proxy started on %s", s.Server.Addr)
	return errCh
}

func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Failed to stop HTTP server")
	}
	logrus.Info("HTTP proxy stopped")
}

type statusResponse struct {
	Services []string       `json:"services"`
	Uptime   string         `json:"uptime"`
	Journal  map[string]int `json:"journal,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Services: s.opts.Services,
		Uptime:   time.Since(s.started).Truncate(time.Second).String(),
	}
	if s.journal != nil {
		counts, err := s.journal.CountByState(r.Context())
		if err != nil {
			response.InternalError(err.Error()).WriteJSON(w)
			return
		}
		resp.Journal = counts
	}
	response.Success(resp).WriteJSON(w)
}

func (s *Server) handleListJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		response.ServiceUnavailable("journal is not enabled").WriteJSON(w)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.BadRequest("invalid limit " + v).WriteJSON(w)
			return
		}
		limit = n
	}
	entries, err := s.journal.List(r.Context(), r.URL.Query().Get("service"), limit)
	if err != nil {
		response.InternalError(err.Error()).WriteJSON(w)
		return
	}
	response.Success(entries).WriteJSON(w)
}

func (s *Server) handleGetJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		response.ServiceUnavailable("journal is not enabled").WriteJSON(w)
		return
	}
	entry, err := s.journal.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		response.NotFound(err.Error()).WriteJSON(w)
		return
	}
	response.Success(entry).WriteJSON(w)
}
