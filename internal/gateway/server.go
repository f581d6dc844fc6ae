// Package gateway serves the HTTP API and the operator WebSocket feed.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/intentrouter/internal/bus"
	"github.com/nextlevelbuilder/intentrouter/internal/config"
	"github.com/nextlevelbuilder/intentrouter/internal/dispatch"
	httpapi "github.com/nextlevelbuilder/intentrouter/internal/http"
	"github.com/nextlevelbuilder/intentrouter/internal/store"
	"github.com/nextlevelbuilder/intentrouter/pkg/protocol"
)

// Server is the main gateway server handling WebSocket and HTTP connections.
type Server struct {
	cfg      config.GatewayConfig
	eventPub bus.EventPublisher
	proc     httpapi.Processor
	audit    store.AuditStore // nil in memory mode
	registry *dispatch.Registry

	channelStatus func() map[string]bool

	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter
	clients     map[string]*Client
	mu          sync.RWMutex

	baseCtx    context.Context
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new gateway server. audit may be nil.
func NewServer(cfg config.GatewayConfig, eventPub bus.EventPublisher, proc httpapi.Processor, audit store.AuditStore, registry *dispatch.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		eventPub: eventPub,
		proc:     proc,
		audit:    audit,
		registry: registry,
		clients:  make(map[string]*Client),
		baseCtx:  context.Background(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	// rate_limit_rpm <= 0 disables the per-IP limiter.
	s.rateLimiter = NewRateLimiter(cfg.RateLimitRPM, 5)
	return s
}

// SetChannelStatus makes health responses report the chat channels.
func (s *Server) SetChannelStatus(fn func() map[string]bool) { s.channelStatus = fn }

// RateLimiter returns the server's per-IP limiter.
func (s *Server) RateLimiter() *RateLimiter { return s.rateLimiter }

// checkOrigin validates WebSocket connection origin against the allowed origins whitelist.
// If no origins are configured, all origins are allowed (dev mode).
// Empty Origin header (non-browser clients like CLI/SDK) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	messages := httpapi.NewMessagesHandler(s.proc, s.cfg.Token, s.cfg.MaxMessageChars)
	if s.rateLimiter.Enabled() {
		messages.SetRateLimiter(s.rateLimiter.Allow)
	}
	messages.RegisterRoutes(mux)
	httpapi.NewTurnsHandler(s.audit, s.registry, s.cfg.Token).RegisterRoutes(mux)

	s.mux = mux
	return mux
}

// Handler returns the mux wrapped with security headers.
func (s *Server) Handler() http.Handler { return securityHeaders(s.BuildMux()) }

// Start begins listening for WebSocket and HTTP connections and blocks until
// ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.baseCtx = ctx
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("gateway starting", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		s.BroadcastEvent(*protocol.NewEvent(protocol.EventShutdown, nil))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// handleWebSocket upgrades HTTP to WebSocket and manages the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !httpapi.Authorized(r, s.cfg.Token) {
		slog.Warn("security.ws_unauthorized", "ip", httpapi.ClientIP(r))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !s.rateLimiter.Allow(httpapi.ClientIP(r)) {
		slog.Warn("security.rate_limited", "ip", httpapi.ClientIP(r), "path", r.URL.Path)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(s.baseCtx)
}

func (s *Server) health() map[string]any {
	h := map[string]any{"status": "ok", "protocol": protocol.ProtocolVersion}
	if s.channelStatus != nil {
		h["channels"] = s.channelStatus()
	}
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(s.health())
}

// handleRequest answers one WebSocket request frame.
func (s *Server) handleRequest(ctx context.Context, c *Client, req protocol.RequestFrame) *protocol.ResponseFrame {
	switch req.Method {
	case protocol.MethodHealth:
		h := s.health()
		h["clients"] = s.ClientCount()
		return protocol.NewResponse(req.ID, h)
	case protocol.MethodTargetsList:
		return protocol.NewResponse(req.ID, map[string]any{"targets": s.registry.Targets()})
	case protocol.MethodTurnsList:
		if s.audit == nil {
			return protocol.NewErrorResponse(req.ID, "audit storage disabled")
		}
		actorID, _ := req.Params["actor_id"].(string)
		if actorID == "" {
			return protocol.NewErrorResponse(req.ID, "actor_id is required")
		}
		limit := 0
		if v, ok := req.Params["limit"].(float64); ok {
			limit = int(v)
		}
		recs, err := s.audit.ListTurns(ctx, actorID, limit)
		if err != nil {
			slog.Error("ws turns.list", "client", c.ID(), "error", err)
			return protocol.NewErrorResponse(req.ID, "failed to list turns")
		}
		return protocol.NewResponse(req.ID, map[string]any{"turns": recs})
	default:
		return protocol.NewErrorResponse(req.ID, "unknown method: "+req.Method)
	}
}

// BroadcastEvent sends an event to all connected clients.
func (s *Server) BroadcastEvent(event protocol.EventFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		client.SendEvent(event)
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c

	if s.eventPub != nil {
		s.eventPub.Subscribe(c.id, func(event bus.Event) {
			c.SendEvent(*protocol.NewEvent(event.Name, event.Payload))
		})
	}
	slog.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	if s.eventPub != nil {
		s.eventPub.Unsubscribe(c.id)
	}
	slog.Info("client disconnected", "id", c.id)
}

// securityHeaders sets response headers that apply to every route.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
