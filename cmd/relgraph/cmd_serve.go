package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the extraction engine over HTTP",
	Long: "Exposes filing extraction, single-mention judging, reconciliation\n" +
		"and edge queries as a JSON API. Set RELGRAPH_API_KEY to require a\n" +
		"bearer token and RELGRAPH_CORS_ORIGINS to allow browser clients.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", ":8080", "Listen address")
	_ = v.BindPFlag("addr", f.Lookup("addr"))
}

func serverHandler(h *handler, apiKey, corsOrigins string) http.Handler {
	return chain(h.routes(),
		recoverPanics,
		allowOrigins(corsOrigins),
		requireAPIKey(apiKey),
		logRequests,
	)
}

func runServe(cmd *cobra.Command, _ []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:         addr,
		Handler:      serverHandler(newHandler(eng), v.GetString("api-key"), v.GetString("cors-origins")),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // filing extraction can run for minutes
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("serve: starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-cmd.Context().Done():
	}
	slog.Info("serve: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	slog.Info("serve: stopped")
	return nil
}
