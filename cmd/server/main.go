package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portal-service/internal/config"
	"portal-service/internal/factory"
	"portal-service/internal/util"
)

func main() {
	cfg := config.LoadConfig()

	f, err := factory.NewFactory(context.Background(), cfg)
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	migrateCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err = f.Migrate(migrateCtx)
	cancel()
	if err != nil {
		util.Fatal("Failed to apply store schema", util.ErrorField(err))
	}

	if cfg.Scheduler.Enabled {
		if err := f.Scheduler().Start(); err != nil {
			util.Fatal("Failed to start scheduler", util.ErrorField(err))
		}
	}

	router := f.Router()

	var serverAddr string
	if cfg.Server.EnableTLS {
		serverAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.TLSPort)
	} else {
		serverAddr = cfg.GetServerAddress()
	}

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if !cfg.Server.EnableTLS {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
		startServer(f, server, nil)
		return
	}

	server.TLSConfig = f.TLSManager().GetTLSConfig()

	// The plain listener only answers ACME challenges and redirects to
	// HTTPS; card and bank details never travel over it.
	redirect := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           redirectHandler(f),
		ReadHeaderTimeout: 5 * time.Second,
	}

	util.Info("Starting HTTPS server",
		util.String("environment", cfg.Environment),
		util.Int("port", cfg.Server.TLSPort),
		util.Bool("auto_cert", cfg.Server.AutoCert),
	)
	startServer(f, server, redirect)
}

func redirectHandler(f *factory.Factory) http.Handler {
	cfg := f.Config()
	toHTTPS := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := cfg.Server.Domain
		if cfg.Server.TLSPort != 443 {
			host = fmt.Sprintf("%s:%d", host, cfg.Server.TLSPort)
		}
		http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusPermanentRedirect)
	})
	if m := f.TLSManager().GetAutocertManager(); m != nil {
		return m.HTTPHandler(toHTTPS)
	}
	return toHTTPS
}

func startServer(f *factory.Factory, server, redirect *http.Server) {
	go func() {
		var err error
		if server.TLSConfig != nil {
			// Certificates come from TLSConfig.GetCertificate.
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	if redirect != nil {
		go func() {
			util.Info("Starting HTTP redirect server", util.String("address", redirect.Addr))
			if err := redirect.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				util.Error("HTTP redirect server failed", util.ErrorField(err))
			}
		}()
	}

	util.Info("Server started successfully",
		util.String("environment", f.Config().Environment),
		util.Bool("tls_enabled", server.TLSConfig != nil),
		util.String("address", server.Addr),
	)

	waitForShutdown(f, server, redirect)
}

func waitForShutdown(f *factory.Factory, servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed", util.String("address", srv.Addr))
		}
	}

	if f.Config().Scheduler.Enabled {
		f.Scheduler().Stop(ctx)
	}
	f.Close()
}
