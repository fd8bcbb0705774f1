package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// Host serves a router on a loopback port for in-process runs.
type Host struct {
	server   *http.Server
	listener net.Listener
	logger   *zap.Logger

	once sync.Once
	done chan error
}

// StartHost listens on addr (use "127.0.0.1:0" for a free port) and serves
// handler until Close.
func StartHost(addr string, handler http.Handler, logger *zap.Logger) (*Host, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	h := &Host{
		server:   &http.Server{Handler: handler},
		listener: ln,
		logger:   logger,
		done:     make(chan error, 1),
	}
	go func() {
		err := h.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		h.done <- err
	}()

	logger.Debug("controller host started", zap.String("addr", ln.Addr().String()))
	return h, nil
}

// URL returns the base URL of the host.
func (h *Host) URL() string {
	return "http://" + h.listener.Addr().String()
}

// Close shuts the server down gracefully within ctx. It is safe to call
// more than once.
func (h *Host) Close(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		if shutdownErr := h.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("shutdown host: %w", shutdownErr)
			_ = h.server.Close()
		}
		if serveErr := <-h.done; serveErr != nil && err == nil {
			err = serveErr
		}
		h.logger.Debug("controller host stopped", zap.String("addr", h.listener.Addr().String()))
	})
	return err
}
