// Package web serves the GhostLink control surface: a JSON API, a
// server-sent-events stream mirroring the engine's event bus, and the static
// front-end assets.
//
// The package validates input (IP syntax, port range, message size) before
// anything reaches the session manager, and never touches engine state
// directly — commands go through the Controller, reads through the Store.
package web

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srujaniyengar/GhostLink/handshake"
	"github.com/srujaniyengar/GhostLink/state"
)

//go:embed static
var staticFiles embed.FS

// sseKeepAlive is the comment interval that keeps idle event streams open
// through proxies.
const sseKeepAlive = 5 * time.Second

// Controller is the command side of the engine as seen by the web surface.
type Controller interface {
	Connect(peer *net.UDPAddr)
	Disconnect()
	Send(text string)
}

// Server is the HTTP control surface.
type Server struct {
	store      *state.Store
	controller Controller
	mux        *http.ServeMux
}

// NewServer builds the route table over the given store and controller.
func NewServer(store *state.Store, controller Controller) *Server {
	s := &Server{
		store:      store,
		controller: controller,
		mux:        http.NewServeMux(),
	}

	// Routes are plain paths; each accepts only its method (GET also
	// answers HEAD) and anything else gets 405.
	only := func(method string, h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != method && !(method == http.MethodGet && r.Method == http.MethodHead) {
				httpError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			h(w, r)
		}
	}

	s.mux.HandleFunc("/api/state", only(http.MethodGet, s.handleState))
	s.mux.HandleFunc("/api/connect", only(http.MethodPost, s.handleConnect))
	s.mux.HandleFunc("/api/disconnect", only(http.MethodPost, s.handleDisconnect))
	s.mux.HandleFunc("/api/message", only(http.MethodPost, s.handleMessage))
	s.mux.HandleFunc("/api/events", only(http.MethodGet, s.handleEvents))

	assets, err := fs.Sub(staticFiles, "static")
	if err == nil {
		s.mux.Handle("/", only(http.MethodGet, http.FileServer(http.FS(assets)).ServeHTTP))
	}

	return s
}

// Handler exposes the route table for serving and for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve runs the HTTP server on an already bound listener; binding is left
// to the caller so bind failures map to the right exit code.
func (s *Server) Serve(listener net.Listener) error {
	server := &http.Server{Handler: s.mux}
	return server.Serve(listener)
}

// handleState returns the current snapshot as {"state": {...}}.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state": s.store.Snapshot(),
	})
}

// connectRequest is the POST /api/connect body. The ip field tolerates a
// pasted "a.b.c.d:port" and splits it.
type connectRequest struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	peer, err := parsePeer(req.IP, req.Port)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.store.Snapshot().Status != state.StatusDisconnected {
		httpError(w, http.StatusConflict, "node is busy: already connected or punching")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Server.handleConnect",
		"peer":     peer.String(),
	}).Info("Connect requested")

	s.controller.Connect(peer)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleDisconnect tears down or aborts the session. Disconnecting while
// disconnected is an idempotent success.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.controller.Disconnect()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type messageRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		httpError(w, http.StatusBadRequest, "message cannot be empty")
		return
	}
	if len(req.Message) > handshake.MaxPlaintext {
		httpError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("message exceeds %d bytes", handshake.MaxPlaintext))
		return
	}

	if s.store.Snapshot().Status != state.StatusConnected {
		httpError(w, http.StatusBadRequest, "not connected to a peer")
		return
	}

	s.controller.Send(req.Message)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleEvents streams the event bus as server-sent events. The subscriber
// first receives the synthetic snapshot event, then everything after it.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				logrus.WithError(err).Warn("Failed to marshal event")
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// parsePeer validates the connect target. A pasted "a.b.c.d:port" in the ip
// field wins over the separate port field.
func parsePeer(ip string, port int) (*net.UDPAddr, error) {
	ip = strings.TrimSpace(ip)
	if host, portStr, err := net.SplitHostPort(ip); err == nil {
		parsed, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid port in %q", ip)
		}
		ip, port = host, parsed
	}

	addr := net.ParseIP(ip)
	if addr == nil || addr.To4() == nil {
		return nil, fmt.Errorf("invalid IPv4 address %q", ip)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("port %d out of range 1-65535", port)
	}

	return &net.UDPAddr{IP: addr.To4(), Port: port}, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func httpError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
