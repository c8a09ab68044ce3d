// Package main provides the entry point for VRClog Lifelog.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/graaaaa/vrclog-lifelog/internal/api"
	"github.com/graaaaa/vrclog-lifelog/internal/app"
	"github.com/graaaaa/vrclog-lifelog/internal/appinfo"
	"github.com/graaaaa/vrclog-lifelog/internal/config"
	"github.com/graaaaa/vrclog-lifelog/internal/procwatch"
	"github.com/graaaaa/vrclog-lifelog/internal/singleinstance"
	"github.com/graaaaa/vrclog-lifelog/internal/store"
	"github.com/graaaaa/vrclog-lifelog/internal/tail"
	"github.com/graaaaa/vrclog-lifelog/internal/version"
	"github.com/graaaaa/vrclog-lifelog/internal/watch"
)

// shutdownTimeout bounds how long the supervisor waits for each service on
// exit. Log readers are waited for separately before the store closes.
const shutdownTimeout = 10 * time.Second

func main() {
	// 1. Data directory and single instance lock
	if _, err := config.EnsureDataDir(); err != nil {
		log.Fatalf("Failed to ensure data directory: %v", err)
	}
	lockPath, err := config.LockFilePath()
	if err != nil {
		log.Fatalf("Failed to resolve lock path: %v", err)
	}
	release, ok, err := singleinstance.AcquireLock(lockPath)
	if err != nil {
		log.Fatalf("Failed to acquire lock: %v", err)
	}
	if !ok {
		log.Println("Another instance is already running")
		os.Exit(1)
	}
	defer release()

	// 2. Configuration: file, then environment, then flags
	cfg, _ := config.LoadConfig()
	cfg = config.ApplyEnvOverrides(cfg)

	port := flag.Int("port", cfg.Port, "HTTP server port")
	logDir := flag.String("log-dir", cfg.LogDir, "VRChat log directory (default: platform location)")
	logLevel := flag.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	cfg.Port, cfg.LogDir, cfg.LogLevel = *port, *logDir, *logLevel

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// 3. Secrets and LAN auth
	secrets := loadSecrets(cfg.LanEnabled)

	// 4. Store
	dbPath, err := config.DatabasePath()
	if err != nil {
		log.Fatalf("Failed to resolve database path: %v", err)
	}
	db, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if vacuumed, err := db.VacuumIfNeeded(ctx); err != nil {
		logger.Warn("vacuum failed", "error", err)
	} else if vacuumed {
		logger.Info("database vacuumed")
	}

	// 5. Change hub, producer liveness and log coordinator
	hub := api.NewHub(api.WithHubLogger(logger))
	go hub.Run()
	defer hub.Stop()

	producer := procwatch.New(cfg.ProducerProcess, procwatch.WithLogger(logger))

	dir, err := config.ResolveLogDir(cfg)
	if err != nil {
		log.Fatalf("Failed to resolve log directory: %v", err)
	}
	coordinator := watch.New(dir, db, producer,
		watch.WithLogger(logger),
		watch.WithReaderOptions(
			tail.WithPollInterval(cfg.PollInterval()),
			tail.WithOpenRetry(cfg.OpenRetryCount, cfg.OpenRetryDelay()),
		),
		watch.WithOnChange(hub.PublishChange),
	)

	// 6. API server
	host := "127.0.0.1"
	if cfg.LanEnabled {
		host = "0.0.0.0"
	}
	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Port))

	configPath, _ := config.ConfigPath()
	secretsPath, _ := config.SecretsPath()

	serverOpts := []api.ServerOption{
		api.WithServerLogger(logger),
		api.WithHub(hub),
		api.WithHistoryUsecase(&app.HistoryService{Store: db}),
		api.WithStatusUsecase(app.StatusService{Readers: coordinator, Producer: producer, Store: db}),
		api.WithStatsUsecase(app.NewStatsService(db)),
		api.WithConfigUsecase(app.ConfigService{ConfigPath: configPath, SecretsPath: secretsPath}),
	}
	if cfg.LanEnabled {
		rl := api.NewRateLimiter(api.DefaultRateLimiterConfig())
		defer rl.Stop()
		serverOpts = append(serverOpts,
			api.WithBasicAuth(secrets.BasicAuthUsername, secrets.BasicAuthPassword.Value()),
			api.WithAuthFailureLimiter(api.NewAuthFailureLimiter(api.DefaultAuthFailureLimiterConfig())),
			api.WithRateLimiter(rl),
			api.WithAllowedHosts(lanHosts()...),
		)
		log.Println("Basic Auth enabled for LAN mode")
	}
	server := api.NewServer(addr, app.HealthService{Version: version.String(), DB: db}, serverOpts...)

	// 7. Supervise the coordinator and the server until a signal arrives
	hook := &sutureslog.Handler{Logger: logger}
	sup := suture.New("lifelog", suture.Spec{
		EventHook: hook.MustHook(),
		Timeout:   shutdownTimeout,
	})
	sup.Add(coordinator)
	sup.Add(server)

	log.Printf("Starting %s v%s on %s, watching %s", appinfo.AppName, version.String(), addr, dir)
	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Supervisor stopped: %v", err)
	}
	log.Println("Shutting down...")

	if report, err := sup.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		log.Printf("Services still running at exit: %d", len(report))
	}
	// A long first import can outlive the supervisor timeout; readers must
	// save their watermarks before the store closes.
	log.Println("Waiting for log readers to drain...")
	coordinator.Wait()
	log.Println("Server stopped")
}

// loadSecrets loads secrets.json and, in LAN mode, generates Basic Auth
// credentials when none exist.
func loadSecrets(lanEnabled bool) config.Secrets {
	secrets, status, err := config.LoadSecrets()
	if err != nil {
		log.Printf("Warning: %v", err)
	}

	updated, generatedPw, err := config.EnsureLanAuth(&secrets, lanEnabled)
	if err != nil {
		log.Fatalf("Failed to ensure LAN auth: %v", err)
	}
	if !updated {
		return secrets
	}

	// A secrets file that failed to load is never overwritten.
	if status == config.SecretsFallback {
		log.Println("WARNING: Secrets file has errors; new credentials not saved to avoid data loss")
		log.Println("Please fix or delete secrets.json and restart")
		return secrets
	}

	if err := config.SaveSecrets(secrets); err != nil {
		log.Fatalf("Failed to save secrets: %v", err)
	}
	if generatedPw != "" {
		pwPath, err := config.WritePasswordFile(secrets.BasicAuthUsername, generatedPw)
		if err != nil {
			log.Printf("Warning: failed to write password file: %v", err)
			log.Println("=== GENERATED BASIC AUTH CREDENTIALS ===")
			log.Printf("Username: %s", secrets.BasicAuthUsername)
			log.Printf("Password: %s", generatedPw)
			log.Println("=========================================")
		} else {
			log.Println("=== BASIC AUTH CREDENTIALS GENERATED ===")
			log.Printf("Credentials saved to: %s", pwPath)
			log.Println("Delete this file after saving the credentials!")
			log.Println("=========================================")
		}
	}
	return secrets
}

// lanHosts returns this machine's IPv4 addresses and hostname, accepted as
// Origin for config updates from the LAN.
func lanHosts() []string {
	var hosts []string
	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				hosts = append(hosts, ipnet.IP.String())
			}
		}
	}
	if name, err := os.Hostname(); err == nil {
		hosts = append(hosts, name)
	}
	return hosts
}
