package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const shutdownTimeout = 30 * time.Second

// Serve owns the listener lifecycle. It binds addr and serves until either
// ctx is canceled or the watch channel delivers a different address. On
// rebind the new listener starts accepting first; the old server drains in
// the background so in-flight streams finish where they started.
func Serve(ctx context.Context, handler http.Handler, addr string, watch <-chan string, log *slog.Logger) error {
	for {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		srv := &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Serve(ln)
		}()
		log.Info("listening", "addr", addr)

	serving:
		for {
			select {
			case <-ctx.Done():
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(sctx)

			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err

			case next := <-watch:
				if next == addr {
					continue serving
				}
				log.Info("rebinding", "from", addr, "to", next)
				go func(old *http.Server) {
					// No deadline: active streams on the old listener run
					// to completion.
					if err := old.Shutdown(context.Background()); err != nil {
						log.Warn("old listener shutdown", "error", err)
					}
				}(srv)
				addr = next
				break serving
			}
		}
	}
}
