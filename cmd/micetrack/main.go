package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"micetrack/internal/api"
	"micetrack/internal/auth"
	"micetrack/internal/backend"
	"micetrack/internal/config"
	"micetrack/internal/database"
)

func main() {
	var (
		configF   = flag.String("config", "", "Path to JSON config file")
		addrF     = flag.String("addr", "", "Listen address (overrides config)")
		simulateF = flag.Bool("simulate", false, "Run against the in-process backend simulator")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[micetrack] ", log.Ltime)

	cfg, err := config.Load(*configF)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if *addrF != "" {
		cfg.ListenAddr = *addrF
	}
	if *simulateF {
		cfg.SimulateBackend = true
	}

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		logger.Fatalf("database: %v", err)
	}
	if cfg.RunRetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.RunRetentionDays)
		n, err := db.DeleteOldAnalysisRuns(cutoff)
		if err != nil {
			logger.Printf("run retention sweep failed: %v", err)
		} else if n > 0 {
			logger.Printf("pruned %d archived runs older than %d days", n, cfg.RunRetentionDays)
		}
	}

	backendURL := cfg.BackendURL
	if cfg.SimulateBackend {
		backendURL, err = startSimulator(logger)
		if err != nil {
			logger.Fatalf("simulator: %v", err)
		}
	}
	client := backend.NewClient(backendURL, cfg.RequestTimeout())

	authenticator := auth.NewAuthenticator(auth.Config{
		Enabled:     cfg.AuthEnabled,
		Username:    cfg.AuthUsername,
		Password:    cfg.AuthPassword,
		JWTSecret:   cfg.JWTSecret,
		TokenExpiry: cfg.TokenExpiry,
	})

	server := api.NewServer(cfg, db, client, authenticator)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket connections stay open
	}

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()
	go func() {
		logger.Printf("listening on %s (backend: %s)", cfg.ListenAddr, backendURL)
		errc <- httpServer.ListenAndServe()
	}()

	logger.Printf("exiting (%v)", <-errc)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
	logger.Println("exited")
}

// startSimulator serves the in-process backend simulator on a loopback port
// and returns its base URL.
func startSimulator(logger *log.Logger) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	sim := backend.NewSimulator(backend.DefaultSimulatorConfig())
	go func() {
		if err := http.Serve(ln, sim); err != nil {
			logger.Printf("simulator stopped: %v", err)
		}
	}()
	url := "http://" + ln.Addr().String()
	logger.Printf("backend simulator listening on %s", url)
	return url, nil
}
