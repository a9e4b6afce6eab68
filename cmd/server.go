package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/soonaverse/settle/api"
	"github.com/soonaverse/settle/config"
	"github.com/soonaverse/settle/internal/traces"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func initializeRouter(app *settleInstance) (*gin.Engine, error) {
	a := api.NewAPI(app.engine)
	if a == nil {
		return nil, errors.New("api could not load its configuration")
	}
	return a.Router(), nil
}

// initializeObservability installs the OTel SDK when telemetry is enabled. The
// returned shutdown is never nil.
func initializeObservability(ctx context.Context, cfg *config.Configuration) (func(context.Context) error, error) {
	if !cfg.EnableTelemetry {
		return func(context.Context) error { return nil }, nil
	}
	shutdown, err := traces.SetupOTelSDK(ctx, cfg.ProjectName)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

// newHTTPServer builds the server for cfg. With SSL on, certificates for
// cfg.Domain are obtained and renewed by CertMagic.
func newHTTPServer(ctx context.Context, router *gin.Engine, cfg config.ServerConfig) (*http.Server, error) {
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if !cfg.SSL {
		return server, nil
	}

	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = cfg.Email
	magic := certmagic.NewDefault()

	domain := cfg.Domain
	if domain == "" {
		log.Println("No domain specified, defaulting to localhost")
		domain = "localhost"
	}
	if err := magic.ManageSync(ctx, []string{domain}); err != nil {
		return nil, err
	}
	server.TLSConfig = magic.TLSConfig()
	return server, nil
}

// startServer serves until ctx is cancelled, then drains in-flight requests.
func startServer(ctx context.Context, router *gin.Engine, cfg config.ServerConfig) error {
	server, err := newHTTPServer(ctx, router, cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.SSL {
			log.Printf("Starting HTTPS server on %s", cfg.Port)
			err = server.ListenAndServeTLS("", "")
		} else {
			log.Printf("Starting server on http://localhost:%s", cfg.Port)
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func serverCommands(app *settleInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start settle server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := initializeObservability(ctx, app.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			router, err := initializeRouter(app)
			if err != nil {
				log.Fatal(err)
			}

			if err := startServer(ctx, router, app.cnf.Server); err != nil {
				log.Fatal(err)
			}
			logrus.Info("server stopped")
		},
	}

	return cmd
}
