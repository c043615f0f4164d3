package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/xelth-com/posyncgo/internal/config"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for tablet/register access on the LAN
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the rendezvous process: websocket endpoint plus a small
// HTTP surface for health, the device directory and tablet pairing.
type Server struct {
	cfg  config.RelayConfig
	hub  *Hub
	http *http.Server

	stopSweep chan struct{}
}

// NewServer creates a relay server around a fresh hub
func NewServer(cfg config.RelayConfig) *Server {
	s := &Server{
		cfg:       cfg,
		hub:       NewHub(),
		stopSweep: make(chan struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.healthCheck).Methods("GET")
	r.HandleFunc("/api/devices", s.listDevices).Methods("GET")
	r.HandleFunc("/api/devices/{id}", s.getDevice).Methods("GET")
	r.HandleFunc("/pair", s.pairQR).Methods("GET")
	r.HandleFunc("/ws", s.serveWs)

	s.http = &http.Server{Handler: r}
	return s
}

// Hub exposes the hub for test harnesses
func (s *Server) Hub() *Hub { return s.hub }

// Handler exposes the HTTP surface for embedding and tests
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start binds the listener and serves until Shutdown. A port bind
// failure is the one fatal startup error.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		return fmt.Errorf("relay: cannot bind port %s: %w", s.cfg.Port, err)
	}

	go s.sweepLoop()

	log.Printf("🔗 Sync relay listening on :%s", s.cfg.Port)
	if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the sweep loop and closes the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopSweep)
	return s.http.Shutdown(ctx)
}

// sweepLoop periodically evicts connections that have gone silent
func (s *Server) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.hub.sweepStale(s.cfg.StaleAfter)
		case <-s.stopSweep:
			return
		}
	}
}

// serveWs upgrades the HTTP request and hands the socket to the hub
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Relay: upgrade failed: %v", err)
		return
	}

	c := s.hub.accept(ws, r.UserAgent())
	go c.writePump()
	go c.readPump()
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"connections": s.hub.registry.Count(),
		"devices":     s.hub.directory.Count(),
	})
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.hub.directory.Snapshot())
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	info, ok := s.hub.directory.Get(vars["id"])
	if !ok {
		http.Error(w, "Device not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// pairQR renders a QR code of the relay websocket URL so new tablets
// can be pointed at this relay without typing addresses
func (s *Server) pairQR(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil || host == "" {
		host = r.Host
	}
	wsURL := fmt.Sprintf("ws://%s:%s/ws", host, s.cfg.Port)

	png, err := qrcode.Encode(wsURL, qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "QR generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}
