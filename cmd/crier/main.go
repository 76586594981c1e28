package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	crierconfig "callboard/internal/config"
	"callboard/internal/handlers"
	"callboard/internal/hub"
	"callboard/internal/metrics"
	"callboard/internal/websocket"
	"callboard/pkg/config"
	"callboard/pkg/kafka"
	"callboard/pkg/logging"
	"callboard/pkg/monitoring"
	"callboard/pkg/server"
	"callboard/pkg/version"
)

const serviceName = "crier"

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService(serviceName)

	if err := run(logger); err != nil {
		logger.WithError(err).Fatal("Crier stopped with error")
	}
	logger.Info("Crier stopped")
}

// run wires and serves Crier until a signal arrives. Deferred cleanup runs on
// every return path.
func run(logger logging.Logger) error {
	// Load environment variables
	config.LoadEnv(logger)
	logger.SetLevel(config.GetLogLevel())
	cfg, err := crierconfig.LoadConfig()
	if err != nil {
		return err
	}

	build := version.GetInfo(serviceName)
	logger.WithFields(logging.Fields{
		"version":     build.Version,
		"commit":      build.ShortCommit(),
		"environment": cfg.Environment,
	}).Info("Starting Crier (announcement board)")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker(serviceName, build.Version)
	metricsCollector := monitoring.NewMetricsCollector(serviceName, build.Version, build.GitCommit)
	serviceMetrics := metrics.New(metricsCollector)

	board := hub.New(cfg.HubConfig(), logger, serviceMetrics)

	healthChecker.AddCheck("hub", monitoring.PingHealthCheck("hub", board, 2*time.Second))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"PORT":           cfg.Port,
		"STORE_CAPACITY": strconv.Itoa(board.Config().Capacity),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return board.Run(gctx)
	})

	if cfg.KafkaEnabled() {
		consumer, closeKafka, err := setupKafka(cfg, board, healthChecker, serviceMetrics, logger)
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("initialize kafka ingest: %w", err)
		}
		defer closeKafka()

		g.Go(func() error {
			return consumer.Start(gctx)
		})
	} else {
		logger.Info("KAFKA_BROKERS not set, Kafka ingest disabled")
	}

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, serviceName, healthChecker, metricsCollector)
	crierHandlers := handlers.NewCrierHandlers(board, websocket.NewServer(board, logger, serviceMetrics), cfg, logger, serviceMetrics)
	crierHandlers.RegisterRoutes(router)

	serverConfig := server.DefaultConfig(serviceName, crierconfig.DefaultPort)
	serverConfig.Port = cfg.Port

	g.Go(func() error {
		return server.Run(gctx, serverConfig, router, logger)
	})

	return g.Wait()
}

// setupKafka builds the consumer and, when a DLQ topic is configured, the
// producer behind it. The returned func closes both.
func setupKafka(cfg crierconfig.Config, board *hub.Hub, hc *monitoring.HealthChecker, m *metrics.Metrics, logger logging.Logger) (*kafka.Consumer, func(), error) {
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:   cfg.KafkaBrokers,
		GroupID:   cfg.KafkaGroupID,
		ClusterID: cfg.KafkaClusterID,
		ClientID:  cfg.KafkaClientID,
		OnLag:     m.KafkaLagObserved,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	closers := []func() error{consumer.Close}

	var deadLetter handlers.DeadLetterSink
	if cfg.KafkaDLQTopic != "" {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:   cfg.KafkaBrokers,
			ClientID:  cfg.KafkaClientID + "-dlq",
			ClusterID: cfg.KafkaClusterID,
		}, logger)
		if err != nil {
			_ = consumer.Close()
			return nil, nil, err
		}
		closers = append(closers, producer.Close)
		hc.AddOptionalCheck("kafka_dlq", monitoring.PingHealthCheck("kafka dlq producer", producer, 5*time.Second))
		deadLetter = kafka.NewDeadLetter(producer, cfg.KafkaDLQTopic, serviceName)
	}

	ingest := handlers.NewKafkaIngest(board, deadLetter, logger, m)
	consumer.AddHandler(cfg.KafkaTopic, ingest.HandleMessage)

	hc.AddCheck("kafka", monitoring.PingHealthCheck("kafka", consumer, 5*time.Second))
	hc.AddCheck("kafka_config", monitoring.ConfigurationHealthCheck(map[string]string{
		"KAFKA_BROKERS": strings.Join(cfg.KafkaBrokers, ","),
		"KAFKA_TOPIC":   cfg.KafkaTopic,
	}))

	logger.WithFields(logging.Fields{
		"brokers":   cfg.KafkaBrokers,
		"topic":     cfg.KafkaTopic,
		"group_id":  cfg.KafkaGroupID,
		"dlq_topic": cfg.KafkaDLQTopic,
	}).Info("Kafka ingest enabled")

	return consumer, func() {
		for _, c := range closers {
			_ = c()
		}
	}, nil
}
