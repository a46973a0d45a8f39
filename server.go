package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// maxRequestBytes bounds a problem document.
const maxRequestBytes = 1 << 20

// optimizeRequest is a problem document plus optional run settings: a
// "strategy" name and a "deadlineMs" no larger than the server deadline.
type optimizeRequest struct {
	file     *ProblemFile
	strategy string
	deadline time.Duration
}

func parseOptimizeRequest(body string, cfg Config) (*optimizeRequest, error) {
	pf, err := ParseProblem(body)
	if err != nil {
		return nil, err
	}
	req := &optimizeRequest{file: pf, strategy: cfg.Strategy, deadline: cfg.Deadline}
	if s := gjson.Get(body, "strategy"); s.Exists() {
		name, err := strategyByName(s.String())
		if err != nil {
			return nil, err
		}
		req.strategy = name
	}
	if ms := gjson.Get(body, "deadlineMs").Int(); ms > 0 {
		req.deadline = min(time.Duration(ms)*time.Millisecond, cfg.Deadline)
	}
	return req, nil
}

// optimizeResponse is the wire form of a finished run.
type optimizeResponse struct {
	Name string `json:"name,omitempty"`
	Result
	Slots []SlotDetail `json:"slots,omitempty"`
}

// Server exposes the optimizer over HTTP and WebSocket.
type Server struct {
	cfg    Config
	logger *zap.Logger
}

func NewServer(cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, logger: logger}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/v1/optimize", s.HandleOptimize)
	r.Post("/v1/check", s.HandleCheck)
	r.Get("/v1/optimize/ws", s.HandleOptimizeWS)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// run executes one request. It is shared by the HTTP, WebSocket and Lambda
// entry points.
func (s *Server) run(ctx context.Context, req *optimizeRequest, onImprove func(Progress)) (optimizeResponse, error) {
	cfg := s.cfg
	cfg.Deadline = req.deadline
	opt := NewOptimizer(cfg, s.logger)
	opt.OnImprove(onImprove)

	start := time.Now()
	res, err := opt.Optimize(ctx, &req.file.Problem, req.strategy)
	if err != nil {
		return optimizeResponse{}, err
	}
	if cfg.HistoryDir != "" {
		if _, err := WriteHistory(cfg.HistoryDir, req.file.Name, &req.file.Problem, &res, start); err != nil {
			s.logger.Warn("failed to archive run", zap.String("run", res.RunID), zap.Error(err))
		}
	}
	return optimizeResponse{
		Name:   req.file.Name,
		Result: res,
		Slots:  DescribeGrid(req.file.Pieces, res.Grid()),
	}, nil
}

// statusFor maps request errors to HTTP status codes.
func statusFor(err error) int {
	if errors.Is(err, ErrInvalidPiece) || errors.Is(err, ErrInvalidProblem) || errors.Is(err, ErrUnknownStrategy) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) readRequest(w http.ResponseWriter, r *http.Request) (*optimizeRequest, bool) {
	var body json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return nil, false
	}
	req, err := parseOptimizeRequest(string(body), s.cfg)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return nil, false
	}
	return req, true
}

// HandleOptimize handles POST /v1/optimize
func (s *Server) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readRequest(w, r)
	if !ok {
		return
	}
	resp, err := s.run(r.Context(), req, nil)
	if err != nil {
		s.logger.Error("optimize failed", zap.Error(err))
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// HandleCheck handles POST /v1/check
func (s *Server) HandleCheck(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), req.deadline)
	defer cancel()
	s.writeJSON(w, http.StatusOK, CheckProblem(ctx, &req.file.Problem))
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsMessage is one frame sent to a WebSocket client.
type wsMessage struct {
	Type     string            `json:"type"` // progress, result or error
	Progress *Progress         `json:"progress,omitempty"`
	Result   *optimizeResponse `json:"result,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// HandleOptimizeWS handles GET /v1/optimize/ws. The client sends one
// problem document; the server streams every improvement and then the
// final result. Progress frames are dropped rather than stalling the
// search when the client reads slowly.
func (s *Server) HandleOptimizeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade the websocket", zap.Error(err))
		return
	}
	defer ws.Close()

	ws.SetReadLimit(maxRequestBytes)
	_, body, err := ws.ReadMessage()
	if err != nil {
		s.logger.Info("websocket client disconnected", zap.Error(err))
		return
	}
	req, err := parseOptimizeRequest(string(body), s.cfg)
	if err != nil {
		_ = ws.WriteJSON(wsMessage{Type: "error", Error: err.Error()})
		return
	}

	progress := make(chan Progress, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for p := range progress {
			if err := ws.WriteJSON(wsMessage{Type: "progress", Progress: &p}); err != nil {
				s.logger.Warn("failed to write progress", zap.Error(err))
			}
		}
	}()

	resp, err := s.run(r.Context(), req, func(p Progress) {
		select {
		case progress <- p:
		default:
		}
	})
	close(progress)
	wg.Wait()

	if err != nil {
		_ = ws.WriteJSON(wsMessage{Type: "error", Error: err.Error()})
		return
	}
	if err := ws.WriteJSON(wsMessage{Type: "result", Result: &resp}); err != nil {
		s.logger.Warn("failed to write result", zap.Error(err))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
