package di

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"TrustGate/internal/domain/models"
	domrepo "TrustGate/internal/domain/repository"
	"TrustGate/internal/handler/api"
	mid "TrustGate/internal/middleware"
	"TrustGate/internal/repository"
	"TrustGate/internal/service/binance"
	"TrustGate/internal/service/csvreplay"
	"TrustGate/internal/services/hypothesis"
	"TrustGate/internal/services/sanitizer"
	"TrustGate/internal/services/trust"
	"TrustGate/internal/usecase"
	"TrustGate/pkg/cache"
	pkgch "TrustGate/pkg/clickhouse"
	"TrustGate/pkg/config"
	xhttp "TrustGate/pkg/http"
	pkgkafka "TrustGate/pkg/kafka"
	applogger "TrustGate/pkg/logger"
	"TrustGate/pkg/metrics"
	"TrustGate/pkg/server"
)

// RunDir is the per-mode output directory: <output.dir>/<mode>.
func RunDir(cfg *config.Config, mode usecase.Mode) string {
	return filepath.Join(cfg.Output.Dir, string(mode))
}

func needsProducer(cfg *config.Config) bool {
	return cfg.HasBackend(config.BackendKafka) || cfg.Log.Collector.Enabled
}

// ProvideKafkaProducer creates a Kafka producer, or nil when nothing publishes.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !needsProducer(cfg) {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatch(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the application logger and, when enabled, attaches the
// collector that ships aggregated warnings and errors to Kafka.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.Collector.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.Collector.FlushInterval,
			CountThreshold: cfg.Log.Collector.Threshold,
			Topic:          cfg.Log.Collector.Topic,
			Publisher:      producer,
		})
	}
	return l, nil
}

// ProvideMetrics registers the gate metrics on the default registry served at /metrics.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
}

func ProvideGatePipeline(cfg *config.Config) *usecase.GatePipeline {
	return usecase.NewGatePipeline(
		sanitizer.New(
			sanitizer.WithAllowedLateness(cfg.Gate.AllowedLatenessSec),
			sanitizer.WithFatFinger(cfg.Gate.FatFingerWindowSec, cfg.Gate.FatFingerRatio),
		),
		trust.New(trust.WithStallThresholds(cfg.Gate.StallThresholds)),
		hypothesis.New(cfg.Gate.NoDecisionWindowSec),
	)
}

func ProvideEventQueue(cfg *config.Config, m domrepo.Metrics) *mid.EventQueue {
	return mid.NewEventQueue(m, mid.WithBufferSize(cfg.Ingest.QueueSize))
}

// ProvideClickHouseClient connects and creates the gate tables, or returns nil
// when the clickhouse backend is off.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.HasBackend(config.BackendClickHouse) {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	stmts := repository.NewClickHouseRecorder(client, cfg.ClickHouse.DecisionsTable, cfg.ClickHouse.TransitionsTable).SchemaStatements()
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideRecorder fans decisions and transitions out to every configured backend.
func ProvideRecorder(
	cfg *config.Config,
	mode usecase.Mode,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
) (domrepo.Recorder, error) {
	var recs []domrepo.Recorder
	for _, backend := range cfg.Backends() {
		switch backend {
		case config.BackendFile:
			r, err := repository.NewJSONLRecorder(RunDir(cfg, mode))
			if err != nil {
				return nil, err
			}
			recs = append(recs, r)
		case config.BackendKafka:
			r, err := repository.NewKafkaRecorder(producer, cfg.Output.DecisionsTopic, cfg.Output.TransitionsTopic)
			if err != nil {
				return nil, err
			}
			recs = append(recs, r)
		case config.BackendClickHouse:
			recs = append(recs, repository.NewClickHouseRecorder(ch, cfg.ClickHouse.DecisionsTable, cfg.ClickHouse.TransitionsTable,
				repository.WithBatchSize(cfg.ClickHouse.BatchSize),
				repository.WithFlushInterval(cfg.ClickHouse.FlushInterval)))
		default:
			return nil, fmt.Errorf("unknown output backend %q", backend)
		}
	}
	return repository.NewMultiRecorder(recs...), nil
}

// ProvideCache returns Redis when enabled, otherwise an in-process cache.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(64)), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rc, err := cache.NewRedisCache(ctx,
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 0, 0),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

func ProvideSnapshotStore(cfg *config.Config, c cache.Service) domrepo.SnapshotStore {
	return repository.NewCacheSnapshotStore(c, cfg.Redis.SnapshotTTL)
}

func ProvideKafkaEventsHandler(cfg *config.Config) *usecase.KafkaEventsHandler {
	return usecase.NewKafkaEventsHandler(cfg.Ingest.KafkaTopic, time.Now)
}

// ProvideKafkaConsumer creates the consumer feeding the kafka source, or nil
// when events come from elsewhere.
func ProvideKafkaConsumer(
	cfg *config.Config,
	mode usecase.Mode,
	h *usecase.KafkaEventsHandler,
	log *applogger.Logger,
) (*pkgkafka.Consumer, error) {
	if cfg.SourceFor(string(mode)) != config.SourceKafka {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerStartOffset(cfg.Kafka.Consumer.StartOffset),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	if err := consumer.RegisterHandler(h); err != nil {
		return nil, err
	}
	return consumer, nil
}

// ProvideSources picks the event source for the run mode.
func ProvideSources(
	cfg *config.Config,
	mode usecase.Mode,
	h *usecase.KafkaEventsHandler,
	log *applogger.Logger,
) ([]domrepo.EventSource, error) {
	switch src := cfg.SourceFor(string(mode)); src {
	case config.SourceCSV:
		s, err := csvreplay.New(cfg.Ingest.DataDir, csvreplay.WithLogger(log))
		if err != nil {
			return nil, err
		}
		return []domrepo.EventSource{s}, nil
	case config.SourceBinance:
		c, err := binance.New(cfg.Ingest.Symbol,
			binance.WithBaseURL(cfg.Ingest.WebSocketURL),
			binance.WithStreams(cfg.Ingest.Streams),
			binance.WithRecvTimeout(cfg.Ingest.RecvTimeout),
			binance.WithReconnectDelay(cfg.Ingest.ReconnectDelay),
			binance.WithPingInterval(cfg.Ingest.PingInterval),
			binance.WithLogger(log),
		)
		if err != nil {
			return nil, err
		}
		return []domrepo.EventSource{c}, nil
	case config.SourceKafka:
		return []domrepo.EventSource{h}, nil
	default:
		return nil, fmt.Errorf("unknown ingest source %q", src)
	}
}

func ProvideRunStats(cfg *config.Config, mode usecase.Mode) *usecase.RunStats {
	base := models.RunSummary{
		RunID:              uuid.NewString(),
		Mode:               string(mode),
		Symbol:             strings.ToLower(cfg.Ingest.Symbol),
		AllowedLatenessSec: cfg.Gate.AllowedLatenessSec,
		OutputDir:          RunDir(cfg, mode),
	}
	if cfg.SourceFor(string(mode)) == config.SourceCSV {
		base.DataDir = cfg.Ingest.DataDir
	}
	return usecase.NewRunStats(base)
}

func ProvideTransitionLog(cfg *config.Config) *usecase.TransitionLog {
	return usecase.NewTransitionLog(cfg.Output.TransitionsBuffer)
}

func ProvideGateRunner(
	cfg *config.Config,
	mode usecase.Mode,
	pipeline *usecase.GatePipeline,
	queue *mid.EventQueue,
	recorder domrepo.Recorder,
	snaps domrepo.SnapshotStore,
	m domrepo.Metrics,
	log *applogger.Logger,
	stats *usecase.RunStats,
	tlog *usecase.TransitionLog,
	sources []domrepo.EventSource,
	consumer *pkgkafka.Consumer,
) *usecase.GateRunner {
	opts := []usecase.RunnerOption{
		usecase.WithMode(mode),
		usecase.WithSymbol(strings.ToLower(cfg.Ingest.Symbol)),
		usecase.WithSources(sources...),
		usecase.WithClockMode(usecase.ClockMode(cfg.Gate.Clock)),
		usecase.WithTransitionLog(tlog),
	}
	if mode == usecase.ModeRealtime {
		opts = append(opts,
			usecase.WithStallCheck(cfg.Gate.StallCheckInterval, true),
			usecase.WithRunDuration(cfg.Ingest.RunDuration),
		)
	}
	if consumer != nil {
		opts = append(opts, usecase.WithReadyHook(func() {
			if err := consumer.Start(); err != nil {
				log.Error("kafka consumer start failed", applogger.Error(err))
			}
		}))
	}
	return usecase.NewGateRunner(pipeline, queue, recorder, snaps, m, log, stats, opts...)
}

func ProvideSummaryWriter(cfg *config.Config, mode usecase.Mode) *repository.SummaryWriter {
	return repository.NewSummaryWriter(RunDir(cfg, mode))
}

// ProvideHTTPServer builds the read-only API server, or nil when disabled.
func ProvideHTTPServer(
	cfg *config.Config,
	log *applogger.Logger,
	runner *usecase.GateRunner,
	snaps domrepo.SnapshotStore,
) *xhttp.Server {
	if !cfg.Server.Enabled {
		return nil
	}
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(
		api.NewGateEchoHandler(log, runner, snaps),
		log,
		xhttp.WithAddr("", cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithRateLimit(cfg.Server.RateLimitRPS),
	)
}

// ProvideApp assembles the application. Closers are registered so that the
// producer closes last, after the recorder and the log collector flushed.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	runner *usecase.GateRunner,
	summary *repository.SummaryWriter,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	c cache.Service,
	recorder domrepo.Recorder,
) *server.App {
	opts := []server.AppOption{}
	if httpServer != nil {
		opts = append(opts, server.WithHTTPServer(httpServer))
	}
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer))
	}
	if producer != nil {
		opts = append(opts, server.WithCloser("kafka producer", producer.Close))
	}
	opts = append(opts, server.WithCloser("log collector", func() error {
		log.RemoveCollector()
		return nil
	}))
	if ch != nil {
		opts = append(opts, server.WithCloser("clickhouse", ch.Close))
	}
	if closer, ok := c.(interface{ Close() error }); ok {
		opts = append(opts, server.WithCloser("cache", closer.Close))
	}
	opts = append(opts, server.WithCloser("recorder", recorder.Close))
	return server.New(cfg, log, runner, summary, opts...)
}
