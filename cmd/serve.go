package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/vet-analytics/internal/api"
	"github.com/sells-group/vet-analytics/internal/dashboard"
	"github.com/sells-group/vet-analytics/internal/vector"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run reports, dashboard data and QA search over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openWriteStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stops, err := loadStopwords()
		if err != nil {
			return err
		}
		origins, _ := cmd.Flags().GetStringSlice("allowed-origins")
		handler := api.NewServer(
			dashboard.NewExporter(st, stops),
			vector.New(vector.DefaultSeed),
			api.Options{AllowedOrigins: origins},
		)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringSlice("allowed-origins", nil, "CORS origins (default: any)")
	rootCmd.AddCommand(serveCmd)
}
