package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/shareboard/internal/metrics"
	"github.com/BioHazard786/shareboard/internal/room"
	"github.com/BioHazard786/shareboard/internal/signaling"
)

// Options configures a Server.
type Options struct {
	// Secret signs identity tokens. Joins are not verified when empty.
	Secret string

	// Dev puts every client in the same network room.
	Dev bool

	Logger   zerolog.Logger
	Registry *prometheus.Registry
}

// Server exposes the hub over HTTP.
type Server struct {
	hub      *Hub
	signer   *room.Signer
	dev      bool
	log      zerolog.Logger
	registry *prometheus.Registry
	upgrader websocket.Upgrader
}

func NewServer(opts Options) *Server {
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	log := opts.Logger.With().Str("component", "relay").Logger()

	s := &Server{
		dev:      opts.Dev,
		log:      log,
		registry: opts.Registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// Browser members connect from the web app's origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	hubOpts := []HubOption{
		WithHubLogger(opts.Logger),
		WithHubMetrics(metrics.NewRelay(opts.Registry)),
	}
	if opts.Secret != "" {
		s.signer = room.NewSigner(opts.Secret)
		hubOpts = append(hubOpts, WithSigner(s.signer))
	}
	s.hub = NewHub(hubOpts...)
	return s
}

// Hub returns the server's hub. It must be running for /ws to work.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the relay's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /api/room", s.roomInfo)
	mux.HandleFunc("/ws", s.serveWs)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe runs the hub and an HTTP server on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.log.Info().Str("addr", addr).Msg("relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Signaling server is healthy."))
}

// roomInfo tells a device which room its network maps to and, when the relay
// signs identities, hands it a token for its device id.
func (s *Server) roomInfo(w http.ResponseWriter, r *http.Request) {
	device := r.URL.Query().Get("device")
	if device == "" || len(device) > maxPeerIDLength || strings.ContainsAny(device, ". ") {
		http.Error(w, "missing or invalid device id", http.StatusBadRequest)
		return
	}

	ip := room.ClientIP(r, s.dev)
	info := signaling.RoomInfo{RoomName: room.Name(ip), IP: ip}
	if s.signer != nil {
		info.Token = s.signer.Sign(device)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		s.log.Debug().Err(err).Msg("write room info")
	}
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	network := room.Name(room.ClientIP(r, s.dev))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := newClient(s.hub, conn, network)
	if !s.hub.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
