package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/triage-go/internal/logging"
	"github.com/54b3r/triage-go/internal/server"
	"github.com/54b3r/triage-go/internal/version"
)

// NewServeCmd constructs the `triage serve` command, which starts the ops
// HTTP server and, optionally, a periodic clustering loop.
func NewServeCmd() *cobra.Command {
	var (
		host     string
		port     int
		interval string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ops HTTP server",
		Long: `Start the ops HTTP server.

Endpoints:
  GET  /api/health                liveness
  GET  /api/ready                 readiness of the item, metadata and vector stores
  GET  /metrics                   Prometheus metrics
  POST /api/passes                run a clustering pass (Bearer TRIAGE_API_KEY)
  GET  /api/clusters              list clusters
  GET  /api/clusters/{id}         one cluster with members
  PUT  /api/clusters/{id}/status  set status (Bearer TRIAGE_API_KEY)

Only one pass runs at a time; a trigger that arrives while a pass is running
gets 409. With --interval (or SERVER_PASS_INTERVAL) a pass also runs on a
timer.

Examples:
  triage serve
  triage serve --port 9090 --interval 5m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logging.FromContext(ctx)

			st, err := openStack(ctx, log, stackOptions{summarize: true, registerer: prometheus.DefaultRegisterer})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer st.close()

			rt := st.rt
			if cmd.Flags().Changed("host") {
				rt.ServerHost = host
			}
			if cmd.Flags().Changed("port") {
				rt.ServerPort = port
			}
			if cmd.Flags().Changed("interval") {
				d, err := parseInterval(interval)
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				rt.PassInterval = d
			}

			srv, err := server.New(st.orch, &server.Config{
				Host:         rt.ServerHost,
				Port:         rt.ServerPort,
				Logger:       log,
				Pingers:      st.pingers(),
				APIKey:       rt.APIKey,
				Threshold:    rt.Threshold,
				PassInterval: rt.PassInterval,
				Version:      version.Version,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			log.Info("serve starting",
				slog.String("addr", rt.Addr()),
				slog.Float64("threshold", rt.Threshold),
				slog.Duration("pass_interval", rt.PassInterval),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (default: SERVER_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (default: SERVER_PORT)")
	cmd.Flags().StringVar(&interval, "interval", "", "Run a pass on this interval, e.g. 5m (default: SERVER_PASS_INTERVAL, off)")

	return cmd
}
