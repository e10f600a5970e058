package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cortex.dev/cortex/internal/adminapi"
	"cortex.dev/cortex/internal/appctx"
	"cortex.dev/cortex/internal/gateway"
)

const gracefulShutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the inference gateway, admin API, and metrics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	app, err := appctx.New()
	if err != nil {
		return err
	}
	defer app.Close()

	log := app.Log.NewLogger("serve")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go app.Run(ctx)

	inferEngine := gateway.NewRouter(app.Guard, app.Selector, app.Registry, app.Usage, app.Metrics, app.Log.NewLogger("gateway"), gateway.Config{
		BackendAuthHeader: "x-cortex-backend-auth",
		BackendAuthValue:  app.Config.InternalAuthToken,
	})
	adminEngine := adminapi.NewRouter(adminapi.Deps{
		Registry:   app.Registry,
		Controller: app.Controller,
		Guard:      app.Guard,
		APIKeys:    app.APIKeys,
		Identity:   app.Identity,
		UsageQuery: app.UsageQuery,
		Metrics:    app.Metrics,
		Deployment: app.Deployment,
		ConfigKV:   app.ConfigKV,
		ModelsDir:  app.Config.ModelsDir,
		Log:        app.Log.NewLogger("adminapi"),
	})

	servers := []*http.Server{
		{Addr: app.Config.HTTPAddr, Handler: inferEngine},
		{Addr: app.Config.AdminAddr, Handler: adminEngine},
		{Addr: app.Config.MetricsAddr, Handler: app.Metrics.Handler()},
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		go func() {
			log.WithField("addr", srv.Addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.WithError(err).Error("server failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).WithField("addr", srv.Addr).Warn("graceful shutdown failed")
		}
	}
	return nil
}
