package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"terminal-cloud/internal/audit"
	"terminal-cloud/internal/auth"
	dispatchapp "terminal-cloud/internal/dispatch/application"
	dispatchevents "terminal-cloud/internal/dispatch/application/events"
	dispatch "terminal-cloud/internal/dispatch/domain"
	dispatchmemory "terminal-cloud/internal/dispatch/infrastructure/memory"
	dispatchpostgres "terminal-cloud/internal/dispatch/infrastructure/postgres"
	dispatchhttp "terminal-cloud/internal/dispatch/interfaces/http"
	"terminal-cloud/internal/dispatch/interfaces/iclock"
	dispatchkafka "terminal-cloud/internal/dispatch/interfaces/kafka"
	"terminal-cloud/internal/eventing"
	eventingrepo "terminal-cloud/internal/eventing/infrastructure/postgres"
	"terminal-cloud/internal/observability/metrics"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	policies := dispatch.DefaultConfig()
	if cfg.PolicyPath != "" {
		loaded, err := dispatch.LoadConfig(cfg.PolicyPath)
		if err != nil {
			logger.Fatalf("policy config error: %v", err)
		}
		policies = loaded
	}

	// Without a database the engine runs standalone: checkpoints stay in
	// memory and audit/outbox persistence is disabled.
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		opened, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer opened.Close()
		if err := opened.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
		db = opened
	} else {
		logger.Printf("no DATABASE_URL configured, running without persistence")
	}

	metrics.Init()

	bus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(dispatchevents.CommandIssued{})
	registry.Register(dispatchevents.CommandSent{})
	registry.Register(dispatchevents.CommandAcked{})
	registry.Register(dispatchevents.CommandFailed{})
	registry.Register(dispatchevents.CommandExpired{})
	registry.Register(dispatchevents.CommandAbandoned{})
	registry.Register(dispatchevents.ReplyReceived{})

	var publisher *eventing.Publisher
	var auditLogger audit.Logger
	var checkpointStore dispatchapp.CheckpointStore
	var processedStore eventing.ProcessedStore
	if db != nil {
		outboxStore := eventingrepo.NewOutboxStore(db)
		dispatcher := eventing.NewDispatcher(bus, outboxStore, registry)
		publisher = eventing.NewPublisher(outboxStore, dispatcher, bus, bus)
		auditLogger = audit.NewRepository(db)
		checkpointStore = dispatchpostgres.NewCheckpointStore(db)
		processedStore = eventingrepo.NewProcessedStore(db)
	} else {
		publisher = eventing.NewPublisher(nil, nil, bus, bus)
		checkpointStore = dispatchmemory.NewCheckpointStore()
	}

	engine, err := dispatchapp.NewEngine(policies, publisher, logger)
	if err != nil {
		logger.Fatalf("dispatch engine error: %v", err)
	}

	checkpointer := dispatchapp.NewCheckpointer(engine, checkpointStore, logger, cfg.CheckpointInterval)
	if err := checkpointer.Restore(context.Background()); err != nil {
		logger.Fatalf("checkpoint restore error: %v", err)
	}
	go checkpointer.Run(context.Background())

	scheduler := dispatchapp.NewScheduler(engine, logger, cfg.SweepInterval)
	go scheduler.Run(context.Background())

	if len(cfg.KafkaBrokers) > 0 {
		bridge, err := dispatchkafka.NewBridge(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			logger.Fatalf("kafka bridge error: %v", err)
		}
		defer bridge.Close()
		bridge.Attach(bus,
			eventing.EventTypeOf[dispatchevents.CommandIssued](),
			eventing.EventTypeOf[dispatchevents.CommandAcked](),
			eventing.EventTypeOf[dispatchevents.CommandFailed](),
			eventing.EventTypeOf[dispatchevents.CommandExpired](),
			eventing.EventTypeOf[dispatchevents.CommandAbandoned](),
			eventing.EventTypeOf[dispatchevents.ReplyReceived](),
		)
		logger.Printf("kafka bridge attached: brokers=%s topic=%s", strings.Join(cfg.KafkaBrokers, ","), cfg.KafkaTopic)
	}

	eventing.Subscribe(bus, eventing.EventTypeOf[dispatchevents.CommandFailed](), "dispatch.log", func(ctx context.Context, event any) error {
		evt, ok := event.(dispatchevents.CommandFailed)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		code := 0
		if evt.ReturnCode != nil {
			code = *evt.ReturnCode
		}
		logger.Printf("command failed: sn=%s id=%d return=%d", evt.DeviceSN, evt.CommandID, code)
		return nil
	}, processedStore)

	deviceHandler, err := iclock.NewHandler(engine, logger)
	if err != nil {
		logger.Fatalf("iclock handler error: %v", err)
	}
	operatorHandler, err := dispatchhttp.NewHandler(engine, auditLogger)
	if err != nil {
		logger.Fatalf("operator handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/iclock/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/iclock/devicecmd", deviceHandler)
	mux.HandleFunc("/iclock/getrequest", deviceHandler.Heartbeat)
	mux.Handle("/api/v1/commands", operatorHandler)
	mux.HandleFunc("/api/v1/devices", operatorHandler.HandleDevices)
	mux.HandleFunc("/api/v1/exports/commands.xlsx", operatorHandler.HandleExportXLSX)
	mux.HandleFunc("/api/v1/reports/fleet.pdf", operatorHandler.HandleFleetPDF)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL        string
	HTTPAddr           string
	PolicyPath         string
	SweepInterval      time.Duration
	CheckpointInterval time.Duration
	KafkaBrokers       []string
	KafkaTopic         string
	JWTSecret          string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:        getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:           getenvDefault("HTTP_ADDR", ":8080"),
		PolicyPath:         getenvDefault("DISPATCH_CONFIG", ""),
		SweepInterval:      getenvDuration("SWEEP_INTERVAL", 15*time.Second),
		CheckpointInterval: getenvDuration("CHECKPOINT_INTERVAL", 30*time.Second),
		KafkaTopic:         getenvDefault("KAFKA_TOPIC", "terminal.dispatch.events"),
		JWTSecret:          getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
	}
	if brokers := getenvDefault("KAFKA_BROKERS", ""); brokers != "" {
		for _, broker := range strings.Split(brokers, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, broker)
			}
		}
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
