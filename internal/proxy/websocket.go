package proxy

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	// the relay is only exposed on the operator's network
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server relays DevTools websocket sessions to live runs.
type Server struct {
	registry    *Registry
	log         *zap.Logger
	dialTimeout time.Duration
}

// NewServer returns a relay for the runs in registry.
func NewServer(registry *Registry, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{registry: registry, log: log, dialTimeout: 10 * time.Second}
}

// HandleDebugConnection upgrades the request and pipes frames both ways
// between the client and the run's browser until either side closes.
func (s *Server) HandleDebugConnection(w http.ResponseWriter, r *http.Request, runID string) {
	controlURL, err := s.registry.ControlURL(runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	log := s.log.With(zap.String("correlation_id", runID))

	// dial first so a dead browser is reported as an HTTP error
	ctx, cancel := context.WithTimeout(r.Context(), s.dialTimeout)
	defer cancel()
	chromeConn, _, err := websocket.DefaultDialer.DialContext(ctx, controlURL, nil)
	if err != nil {
		log.Warn("debug relay: dial browser failed", zap.Error(err))
		http.Error(w, "browser is not reachable", http.StatusBadGateway)
		return
	}
	defer chromeConn.Close()

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("debug relay: upgrade failed", zap.Error(err))
		return
	}
	defer clientConn.Close()
	log.Info("debug relay attached")

	errc := make(chan error, 2)
	go func() { errc <- relay(clientConn, chromeConn) }()
	go func() { errc <- relay(chromeConn, clientConn) }()

	err = <-errc
	if err != nil && !isClosed(err) {
		log.Warn("debug relay ended", zap.Error(err))
	}
	// unblock the other direction
	clientConn.Close()
	chromeConn.Close()
	<-errc
	log.Info("debug relay detached")
}

func relay(src, dst *websocket.Conn) error {
	for {
		kind, msg, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(kind, msg); err != nil {
			return err
		}
	}
}

func isClosed(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) || errors.Is(err, websocket.ErrCloseSent)
}
