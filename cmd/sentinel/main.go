package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Aidin1998/sentinel/internal/alerting"
	"github.com/Aidin1998/sentinel/internal/archive"
	"github.com/Aidin1998/sentinel/internal/config"
	"github.com/Aidin1998/sentinel/internal/notify"
	"github.com/Aidin1998/sentinel/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	simulate := flag.Bool("simulate", false, "feed a synthetic metric stream through the engine")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create logger
	zapLogger, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	registry := prometheus.NewRegistry()
	metrics := alerting.NewMetrics(registry)

	opts := []alerting.Option{alerting.WithMetrics(metrics)}
	sink, closeSink, err := buildSink(cfg.Archive, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize archive", zap.Error(err))
	}
	if sink != nil {
		opts = append(opts, alerting.WithSink(sink))
		defer closeSink()
	}

	engine := alerting.NewEngine(cfg.Engine, zapLogger, opts...)

	async := registerChannels(engine, cfg.Channels, zapLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Register rules
	rules := alerting.DefaultRules()
	if cfg.RulesFile != "" {
		rules, err = config.LoadRulesFile(cfg.RulesFile)
		if err != nil {
			zapLogger.Fatal("Failed to load rules file", zap.Error(err))
		}
	}
	for _, rule := range rules {
		if err := engine.RegisterRule(ctx, rule); err != nil {
			zapLogger.Fatal("Failed to register rule", zap.String("rule", rule.Name), zap.Error(err))
		}
	}

	// Register playbooks
	playbooks := alerting.DefaultPlaybooks()
	if cfg.PlaybooksFile != "" {
		playbooks, err = config.LoadPlaybooksFile(cfg.PlaybooksFile)
		if err != nil {
			zapLogger.Fatal("Failed to load playbooks file", zap.Error(err))
		}
	}
	for severity, playbook := range playbooks {
		engine.RegisterPlaybook(severity, playbook)
	}

	// Start metrics server
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			zapLogger.Info("Starting metrics server", zap.String("addr", cfg.Metrics.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				zapLogger.Fatal("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	// Start the escalation sweeper
	if err := engine.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start alert engine", zap.Error(err))
	}

	if *simulate {
		if _, err := engine.SetOnCallRotation("oncall", []string{"alice", "bob", "carol"}, alerting.RotationWeekly); err != nil {
			zapLogger.Fatal("Failed to seed on-call rotation", zap.Error(err))
		}
		go runSimulation(ctx, engine, zapLogger)
		zapLogger.Info("Synthetic metric feed started")
	}

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down...")

	cancel()
	engine.Stop()
	async.wait()

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("Failed to stop metrics server", zap.Error(err))
		}
	}

	zapLogger.Info("Sentinel exited properly")
}

// buildSink constructs the configured archive sink. The returned
// cleanup closes the underlying connection.
func buildSink(cfg config.ArchiveConfig, zapLogger *zap.Logger) (alerting.Sink, func(), error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil, nil

	case "sqlite":
		db, err := archive.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		sink, err := archive.NewGormSink(db, zapLogger)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		zapLogger.Info("Archiving to sqlite", zap.String("path", cfg.SQLitePath))
		return sink, cleanup, nil

	case "redis":
		client, err := archive.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		sink := archive.NewRedisSink(client, cfg.Redis, zapLogger)
		zapLogger.Info("Archiving to redis", zap.String("addr", cfg.Redis.Addr))
		return sink, func() { client.Close() }, nil
	}
	return nil, nil, nil
}

// asyncHandlers tracks background-delivering handlers so shutdown can
// drain them.
type asyncHandlers []*alerting.AsyncHandler

func (a asyncHandlers) wait() {
	for _, h := range a {
		h.Wait()
	}
}

// multiHandler fans one delivery out to several transports serving
// the same channel.
type multiHandler struct {
	handlers []alerting.ChannelHandler
}

func (m *multiHandler) Deliver(ctx context.Context, alert alerting.Alert) error {
	var firstErr error
	for _, h := range m.handlers {
		if err := h.Deliver(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// registerChannels wires every delivery transport. Channels without a
// configured integration fall back to the log handler so local runs
// still show deliveries. The webhook channel is the machine feed:
// HTTP push and kafka both publish the same JSON payload there.
func registerChannels(engine *alerting.Engine, cfg config.ChannelsConfig, zapLogger *zap.Logger) asyncHandlers {
	var async asyncHandlers

	var machineFeed []alerting.ChannelHandler
	if cfg.Webhook != nil {
		// Retries can outlive the dispatch window, so the webhook
		// delivers in the background.
		h := alerting.NewAsyncHandler(notify.NewWebhookHandler(*cfg.Webhook, zapLogger), 2*time.Minute, zapLogger)
		async = append(async, h)
		machineFeed = append(machineFeed, h)
	}
	if cfg.Kafka != nil {
		machineFeed = append(machineFeed, notify.NewKafkaHandler(*cfg.Kafka, zapLogger))
	}
	switch len(machineFeed) {
	case 0:
		engine.RegisterChannelHandler(alerting.ChannelWebhook, notify.NewLogHandler("webhook", zapLogger))
	case 1:
		engine.RegisterChannelHandler(alerting.ChannelWebhook, machineFeed[0])
	default:
		engine.RegisterChannelHandler(alerting.ChannelWebhook, &multiHandler{handlers: machineFeed})
	}

	if cfg.Slack != nil {
		engine.RegisterChannelHandler(alerting.ChannelSlack, notify.NewSlackHandler(*cfg.Slack, zapLogger))
	} else {
		engine.RegisterChannelHandler(alerting.ChannelSlack, notify.NewLogHandler("slack", zapLogger))
	}

	if cfg.Email != nil {
		engine.RegisterChannelHandler(alerting.ChannelEmail, notify.NewEmailHandler(*cfg.Email, zapLogger))
	} else {
		engine.RegisterChannelHandler(alerting.ChannelEmail, notify.NewLogHandler("email", zapLogger))
	}

	if cfg.PagerDuty != nil {
		engine.RegisterChannelHandler(alerting.ChannelPagerDuty, notify.NewPagerDutyHandler(*cfg.PagerDuty, zapLogger))
	} else {
		engine.RegisterChannelHandler(alerting.ChannelPagerDuty, notify.NewLogHandler("pagerduty", zapLogger))
	}

	// No SMS gateway ships with the daemon.
	engine.RegisterChannelHandler(alerting.ChannelSMS, notify.NewLogHandler("sms", zapLogger))

	return async
}

// runSimulation random-walks one synthetic value per registered rule
// and feeds it through Evaluate, resolving alerts after the value has
// stayed healthy for a few ticks.
func runSimulation(ctx context.Context, engine *alerting.Engine, zapLogger *zap.Logger) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	rules := slices.Collect(engine.ListRules())
	values := make(map[string]float64, len(rules))
	healthy := make(map[string]int, len(rules))
	for _, rule := range rules {
		if rule.Operator == alerting.OperatorLT {
			values[rule.Name] = rule.Threshold * 1.4
		} else {
			values[rule.Name] = rule.Threshold * 0.7
		}
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, rule := range rules {
				value := values[rule.Name] + rng.NormFloat64()*rule.Threshold*0.08
				if value < 0 {
					value = 0
				}
				if value > rule.Threshold*1.6 {
					value = rule.Threshold * 1.6
				}
				values[rule.Name] = value

				alert, err := engine.Evaluate(ctx, rule.Name, value)
				if err != nil {
					zapLogger.Warn("Evaluation failed", zap.String("rule", rule.Name), zap.Error(err))
					continue
				}
				if alert != nil {
					zapLogger.Info("Synthetic alert fired",
						zap.String("rule", rule.Name),
						zap.Float64("value", value))
				}

				if rule.Operator.Matches(value, rule.Threshold) {
					healthy[rule.Name] = 0
					continue
				}
				healthy[rule.Name]++
				if healthy[rule.Name] >= 5 && engine.ResolveAlertByRule(ctx, rule.Name) {
					zapLogger.Info("Synthetic alert recovered", zap.String("rule", rule.Name))
				}
			}
		}
	}
}
