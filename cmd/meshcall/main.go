package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/internal/core/services"
	httphandlers "meshcall/internal/handlers/http"
	"meshcall/internal/infrastructure/media"
	"meshcall/internal/infrastructure/middleware"
	"meshcall/internal/infrastructure/monitoring"
	"meshcall/internal/infrastructure/reliability"
	"meshcall/internal/infrastructure/repositories/memory"
	signalinfra "meshcall/internal/infrastructure/signal"
	webrtcinfra "meshcall/internal/infrastructure/webrtc"
	"meshcall/pkg/circuitbreaker"
	"meshcall/pkg/config"
	"meshcall/pkg/logger"
	"meshcall/pkg/retry"
	"meshcall/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: "production",
		SampleRate:  cfg.Tracing.SamplingRate,
	})
	if err != nil {
		log.Fatalw("Failed to initialize tracing", "error", err)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	var metrics ports.CallMetrics = monitoring.NewNopMetrics()
	if cfg.Monitoring.PrometheusEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = monitoring.NewPrometheusCollector(registry)
	}

	peers := memory.NewMemoryPeerRegistry(log)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.Issuer)
	// Relays without auth get no Authorization header.
	var tokens signalinfra.TokenSource
	if cfg.Auth.JWTSecret != "" {
		tokens = authService.TokenSource(cfg.Call.DisplayName, domain.RoomID(cfg.Call.Room))
	}

	// Signaling transport, tried in the configured order
	var dialers []ports.TransportDialer
	for _, mode := range cfg.Signal.Modes {
		switch domain.TransportMode(mode) {
		case domain.TransportWebSocket:
			dialers = append(dialers, signalinfra.NewWebSocketDialer(cfg.Signal.URL, tokens, cfg.Signal.PingInterval, log))
		case domain.TransportPolling:
			dialers = append(dialers, signalinfra.NewPollingDialer(cfg.Signal.PollURL, tokens))
		default:
			log.Fatalw("Unknown signaling mode", "mode", mode)
		}
	}

	sessionConfig := signalinfra.SessionConfig{
		TierAttempts:  cfg.Signal.TierAttempts,
		MaxAttempts:   cfg.Signal.MaxAttempts,
		TierTimeout:   cfg.Signal.TierTimeout,
		JoinTimeout:   cfg.Signal.JoinTimeout,
		RetryDelay:    cfg.Signal.RetryDelay,
		AutoReconnect: cfg.Signal.AutoReconnect,
	}
	if cfg.RateLimiting.Enabled {
		sessionConfig.MessagesPerSecond = cfg.RateLimiting.Signal.MessagesPerSecond
		sessionConfig.Burst = cfg.RateLimiting.Signal.Burst
	}
	transport := signalinfra.NewTransportSession(dialers, sessionConfig, metrics, log)

	// WebRTC
	webrtcConfig := webrtcinfra.WebRTCConfig{
		ICEServers: webrtcinfra.ICEServersFromConfig(cfg.WebRTC.ICEServers),
	}
	webrtcConfig.PortRange.Min = cfg.WebRTC.PortRange.Min
	webrtcConfig.PortRange.Max = cfg.WebRTC.PortRange.Max

	factory, err := webrtcinfra.NewPeerConnectionFactory(webrtcConfig, metrics, log)
	if err != nil {
		log.Fatalw("Failed to create peer connection factory", "error", err)
	}

	// Media
	device := media.NewSyntheticDevice(media.SyntheticOptions{PacketInterval: cfg.Media.PacketInterval}, log)
	classifier := media.StaticClassifier{Condition: domain.NetworkCondition{
		Mobile:       cfg.Media.Network.Mobile,
		LowBandwidth: cfg.Media.Network.LowBandwidth,
	}}
	mediaService := services.NewMediaService(device, classifier, metrics, log)

	// Connectivity diagnostics behind retry and a circuit breaker
	var stunURLs []string
	for _, server := range cfg.WebRTC.ICEServers {
		stunURLs = append(stunURLs, server.URLs...)
	}
	breaker := circuitbreaker.DefaultConfig()
	breaker.FailureThreshold = cfg.Health.BreakerThreshold
	breaker.Timeout = cfg.Health.BreakerTimeout
	diagnostics := reliability.NewDiagnosticsGuard(
		monitoring.NewSTUNChecker(stunURLs, cfg.Health.ProbeTimeout, log),
		retry.DefaultConfig(),
		breaker,
		log,
	)

	events := services.NewEventLog(200)
	controller := services.NewCallController(transport, peers, factory, mediaService, diagnostics, events, metrics,
		services.CallConfig{
			Audio: cfg.Call.Audio,
			Video: cfg.Call.Video,
			Health: services.HealthConfig{
				Interval:           cfg.Health.Interval,
				MaxRestartAttempts: cfg.Health.MaxRestartAttempts,
				BackoffInitial:     cfg.Health.BackoffInitial,
				BackoffMax:         cfg.Health.BackoffMax,
			},
		}, log)

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddTransportCheck(transport, controller.Active)
	healthChecker.AddCheck("diagnostics", func(ctx context.Context) (bool, error) {
		if state := diagnostics.BreakerState(); state == circuitbreaker.StateOpen {
			return false, fmt.Errorf("connectivity probe circuit %s", state)
		}
		return true, nil
	}, time.Second)

	var srv *http.Server
	serverErr := make(chan error, 1)
	if cfg.Control.Enabled {
		srv = newControlServer(cfg, controller, events, authService, healthChecker, registry, zapLogger)
		go func() {
			log.Infow("Starting control API", "address", cfg.Control.Address)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErr <- err
			}
		}()
	}

	if cfg.Call.AutoStart {
		// The session bounds its own attempts.
		if err := controller.StartCall(context.Background(), domain.RoomID(cfg.Call.Room), cfg.Call.DisplayName); err != nil {
			log.Errorw("Failed to start call", "room", cfg.Call.Room, "error", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("Control API failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down meshcall...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Control.ShutdownTimeout)
	defer shutdownCancel()

	controller.Close(shutdownCtx)

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error during server shutdown", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Errorw("Error force closing server", "error", closeErr)
			}
		}
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}

	log.Info("meshcall stopped")
}

func newControlServer(
	cfg *config.Config,
	calls ports.CallService,
	events ports.EventSource,
	authService services.AuthService,
	healthChecker *monitoring.HealthChecker,
	registry *prometheus.Registry,
	zapLogger *zap.Logger,
) *http.Server {
	log := zapLogger.Sugar()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestLogMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	router.GET("/health", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if !healthChecker.IsReady(ctx) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "not_ready",
				"timestamp": time.Now(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"timestamp": time.Now(),
		})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
		log.Info("Prometheus metrics enabled")
	}

	var auth []gin.HandlerFunc
	if cfg.Control.RequireAuth {
		auth = append(auth, middleware.AuthMiddleware(authService))
	}
	httphandlers.NewCallHandler(calls, events).SetupRoutes(router, auth...)

	return &http.Server{
		Addr:         cfg.Control.Address,
		Handler:      router,
		ReadTimeout:  cfg.Control.ReadTimeout,
		WriteTimeout: cfg.Control.WriteTimeout,
	}
}
