package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/tasksync/internal/logging"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run background sync and the local event relay",
		Long: `Open the session, keep it synchronized in the background and serve
local clients:

  GET  /events        websocket stream of entity, sync and connectivity events
  GET  /api/health    liveness
  GET  /api/status    synchronizer and queue state
  POST /api/sync      run a reconciliation pass now
  /api/tasks, /api/folders, /api/queue

Examples:
  tasksync serve --user alice
  tasksync serve --addr localhost:9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Relay.Addr
			}
			return serve(ctx, a, addr, func(bound net.Addr) {
				fmt.Fprintf(stdout(cmd), "tasksync serving %s on http://%s\n", a.session.UserID(), bound)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default relay.addr)")
	return cmd
}

// serve runs the daemon until ctx is cancelled. ready is called once the
// listener is bound.
func serve(ctx context.Context, a *app, addr string, ready func(net.Addr)) error {
	relay := NewRelay()
	defer relay.Stop()

	sub := a.data.Subscribe(0)
	defer sub.Close()
	go relay.Pump(sub)

	if err := a.session.Start(ctx); err != nil {
		return err
	}
	if a.prober != nil {
		a.prober.Start()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	server := &http.Server{
		Handler:           newMux(a.data, relay),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	logging.Info("Serving", map[string]interface{}{"addr": ln.Addr().String(), "user_id": a.session.UserID()})
	if ready != nil {
		ready(ln.Addr())
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Server shutdown", map[string]interface{}{"error": err.Error()})
	}
	logging.Info("Stopped serving", nil)
	return nil
}
