package di

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"GateKeeper/internal/domain/models"
	domrepo "GateKeeper/internal/domain/repository"
	domsvc "GateKeeper/internal/domain/service"
	"GateKeeper/internal/handler/api"
	mid "GateKeeper/internal/middleware"
	internalrepo "GateKeeper/internal/repository"
	"GateKeeper/internal/service/analysis"
	"GateKeeper/internal/service/event"
	"GateKeeper/internal/service/feed"
	"GateKeeper/internal/service/gate"
	"GateKeeper/internal/service/lock"
	"GateKeeper/internal/service/regime"
	"GateKeeper/internal/service/throttle"
	"GateKeeper/internal/usecase"
	"GateKeeper/pkg/cache"
	pkgch "GateKeeper/pkg/clickhouse"
	"GateKeeper/pkg/config"
	xhttp "GateKeeper/pkg/http"
	pkgkafka "GateKeeper/pkg/kafka"
	"GateKeeper/pkg/logger"
	"GateKeeper/pkg/metrics"
	"GateKeeper/pkg/postgres"
	"GateKeeper/pkg/server"
	"GateKeeper/pkg/util"
)

// ProvideOwner returns the configured process identity, or a generated one.
func ProvideOwner(cfg *config.Config) string {
	if cfg.Owner != "" {
		return cfg.Owner
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "gatekeeper"
	}
	return host + "-" + uuid.NewString()[:8]
}

// ProvideLogger builds the process logger. With log.collect_errors set, warn
// and error entries are aggregated and shipped to the logs topic.
func ProvideLogger(cfg *config.Config, owner string, producer *pkgkafka.Producer) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.CollectErrors && producer != nil {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Log.CollectInterval,
			CountThreshold: 50,
			Topic:          cfg.Kafka.LogsTopic,
			Source:         owner,
			Publisher:      producer,
		})
	}
	return l, nil
}

func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithAutoCreateTopics(cfg.Environment == "development"),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideCache returns Redis when any coordination backend needs it, else an
// in-process cache.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	co := cfg.Coordination
	if co.LockBackend != "redis" && co.GateBackend != "redis" {
		return cache.NewMemoryCache(), nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
		cache.WithRedisTimeouts(cfg.Redis.DialTimeout, cfg.Redis.ReadTimeout, cfg.Redis.WriteTimeout),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvidePostgres connects only for the postgres lock backend; otherwise it returns nil.
func ProvidePostgres(cfg *config.Config) (*postgres.Client, error) {
	if cfg.Coordination.LockBackend != "postgres" {
		return nil, nil
	}
	pg, err := postgres.NewClient(
		postgres.WithDSN(cfg.Postgres.DSN),
		postgres.WithPool(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns, cfg.Postgres.ConnMaxLifetime),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pg.Migrate(ctx, internalrepo.LockSchema); err != nil {
		_ = pg.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return pg, nil
}

// ProvideClickHouseClient returns nil when ClickHouse is disabled; the
// throttle then runs without a durable attempt log.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.AttemptSchema); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideNotifier fans out to the log, the notify topic and, when enabled, Telegram.
func ProvideNotifier(cfg *config.Config, owner string, producer *pkgkafka.Producer, l *logger.Logger) (domrepo.Notifier, error) {
	targets := []domrepo.Notifier{
		internalrepo.NewLogNotifier(l),
		internalrepo.NewKafkaNotifier(producer, cfg.Kafka.NotifyTopic, owner),
	}
	if cfg.Telegram.Enabled {
		tg, err := internalrepo.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		targets = append(targets, tg)
	}
	return internalrepo.NewFanoutNotifier(l, targets...), nil
}

func ProvideLockStore(cfg *config.Config, c cache.Service, pg *postgres.Client) domrepo.LockStore {
	if cfg.Coordination.LockBackend == "postgres" && pg != nil {
		return internalrepo.NewPostgresLockStore(pg.DB())
	}
	return internalrepo.NewCacheLockStore(c, cfg.Coordination.StreakTTL)
}

func ProvideLockManager(cfg *config.Config, store domrepo.LockStore, notifier domrepo.Notifier, l *logger.Logger, rec domrepo.Metrics) *lock.Manager {
	return lock.NewManager(store, notifier, lock.Config{
		SuppressThreshold: cfg.Coordination.SuppressThreshold,
		SuppressTTL:       cfg.Coordination.SuppressTTL,
		StoreTimeout:      cfg.Coordination.StoreTimeout,
	}, l, rec)
}

// ProvideGateStore keeps gate counters in the shared cache. The memory backend
// gets its own in-process cache when the shared one is Redis.
func ProvideGateStore(cfg *config.Config, c cache.Service) domrepo.GateStateStore {
	if cfg.Coordination.GateBackend == "memory" {
		if _, ok := c.(*cache.MemoryCache); !ok {
			c = cache.NewMemoryCache()
		}
	}
	return internalrepo.NewCacheGateStateStore(c, cfg.Gate.StateKey, cfg.Gate.WriteGuardTTL)
}

func ProvideAnalyzer(cfg *config.Config, l *logger.Logger) *analysis.Client {
	return analysis.NewClient(analysis.Config{
		URL:          cfg.Analysis.URL,
		APIKey:       cfg.Analysis.APIKey,
		Timeout:      cfg.Analysis.Timeout,
		MaxRetries:   cfg.Analysis.MaxRetries,
		RetryBackoff: cfg.Analysis.RetryBackoff,
	}, l)
}

// ProvideGate builds the budget gate and registers the analysis gate on it.
func ProvideGate(cfg *config.Config, store domrepo.GateStateStore, notifier domrepo.Notifier, analyzer *analysis.Client, l *logger.Logger, rec domrepo.Metrics) *gate.Gate {
	gc := cfg.Gate
	g := gate.New(store, notifier, gate.Config{
		Location:         util.LoadLocation(gc.Timezone),
		AuditedGate:      gc.AuditedGate,
		DailyCalls:       gc.DailyCalls,
		DailyCost:        decimal.NewFromFloat(gc.DailyCost),
		MonthlyCost:      decimal.NewFromFloat(gc.MonthlyCost),
		UrgentDailyCalls: gc.UrgentDailyCalls,
		Cooldown:         gc.Cooldown,
		EventWindow:      gc.EventWindow,
		UserWindow:       gc.UserWindow,
		UrgentWindow:     gc.UrgentWindow,
		ErrorBackoff:     gc.ErrorBackoff,
	}, l, rec)
	g.Register(usecase.AnalysisGate, gate.Spec{Capable: analyzer.Capable})
	return g
}

// ProvideAttemptLog returns a nil interface when ClickHouse is disabled.
func ProvideAttemptLog(ch *pkgch.Client, l *logger.Logger) domrepo.AttemptLog {
	if ch == nil {
		return nil
	}
	return internalrepo.NewClickHouseAttemptLog(ch.DB(), l)
}

func ProvideThrottle(cfg *config.Config, attempts domrepo.AttemptLog, notifier domrepo.Notifier, l *logger.Logger, rec domrepo.Metrics) *throttle.Throttle {
	tc := cfg.Throttle
	return throttle.New(throttle.Config{
		HourlyCap:          tc.HourlyCap,
		TenMinuteCap:       tc.TenMinuteCap,
		ActionCooldown:     tc.ActionCooldown,
		AnyCooldown:        tc.AnyCooldown,
		RateLimitLockout:   tc.RateLimitLockout,
		MinSizeBackoff:     tc.MinSizeBackoff,
		PersistBackoffBase: tc.PersistBackoffBase,
		PersistBackoffMax:  tc.PersistBackoffMax,
		PersistHaltAfter:   tc.PersistHaltAfter,
		NetworkBackoffBase: tc.NetworkBackoffBase,
		NetworkBackoffMax:  tc.NetworkBackoffMax,
	}, attempts, notifier, l, rec)
}

func ProvideOrderBroker(cfg *config.Config, producer *pkgkafka.Producer) domsvc.OrderBroker {
	return internalrepo.NewKafkaOrderBroker(producer, cfg.Kafka.OrderTopic)
}

func ProvideOrderGuard(t *throttle.Throttle, broker domsvc.OrderBroker, l *logger.Logger, rec domrepo.Metrics) *usecase.OrderGuard {
	return usecase.NewOrderGuard(t, broker, l, rec)
}

func ProvideRegimes(cfg *config.Config, l *logger.Logger, rec domrepo.Metrics) *regime.Registry {
	rc := cfg.Regime
	return regime.NewRegistry(regime.Config{
		VolumeZFloor:      rc.VolumeZFloor,
		VolExpansionFloor: rc.VolExpansionFloor,
		TrendFloor:        rc.TrendFloor,
		BandFloor:         rc.BandFloor,
		DriftThreshold:    rc.DriftThreshold,
		RangeTrendCeiling: rc.RangeTrendCeiling,
		MinDwell:          rc.MinDwell,
		Confirmations:     rc.Confirmations,
	}, l, rec)
}

func ProvideDetector(cfg *config.Config, l *logger.Logger, rec domrepo.Metrics) *event.Detector {
	ec := cfg.Event
	dc := event.DefaultConfig()
	dc.ShortMove = ec.ShortMove
	dc.AdverseMove = ec.AdverseMove
	dc.LiqDistance = ec.LiqDistance
	dc.VolSurge = ec.VolSurge
	dc.VolumeConfirm = ec.VolumeConfirm
	dc.BoxBandWidth = ec.BoxBandWidth
	dc.BoxMove = ec.BoxMove
	dc.Ret1m, dc.Ret5m, dc.Ret15m, dc.Ret1h = ec.Ret1m, ec.Ret5m, ec.Ret15m, ec.Ret1h
	dc.VolumeSpike = ec.VolumeSpike
	dc.LevelNear = ec.LevelNear
	dc.VolLow, dc.VolHigh = ec.VolLow, ec.VolHigh
	dc.Dedup = map[models.TriggerType]time.Duration{
		models.TriggerReturnSpike: ec.DedupReturn,
		models.TriggerVolumeSpike: ec.DedupVolume,
		models.TriggerLevelBreak:  ec.DedupLevel,
		models.TriggerVolRegime:   ec.DedupVolRegime,
	}
	dc.PriceBucketPct = ec.PriceBucketPct
	dc.TimeBucket = ec.TimeBucket
	dc.Lockout = ec.Lockout
	dc.MaxEntries = ec.MaxEntries
	return event.NewDetector(dc, l, rec)
}

func ProvideCycleRunner(
	cfg *config.Config,
	owner string,
	regimes *regime.Registry,
	detector *event.Detector,
	locks *lock.Manager,
	g *gate.Gate,
	analyzer *analysis.Client,
	guard *usecase.OrderGuard,
	l *logger.Logger,
	rec domrepo.Metrics,
) *usecase.CycleRunner {
	return usecase.NewCycleRunner(usecase.CycleConfig{
		Owner:        owner,
		EventLockTTL: cfg.Coordination.EventLockTTL,
		UserLockTTL:  cfg.Gate.UserWindow,
		AnalysisCost: decimal.NewFromFloat(cfg.Analysis.CostPerCall),
		MaxSymbols:   cfg.Event.MaxEntries,
	}, regimes, detector, locks, g, analyzer, guard, l, rec)
}

// ProvidePipeline sits between either feed and the cycle runner.
func ProvidePipeline(cfg *config.Config, runner *usecase.CycleRunner, l *logger.Logger, rec domrepo.Metrics) *mid.SnapshotPipeline {
	return mid.NewSnapshotPipeline(runner, rec,
		mid.WithMinInterval(cfg.Feed.MinInterval),
		mid.WithBufferSize(cfg.Feed.BufferSize),
		mid.WithRetryMax(cfg.Feed.RetryMax),
		mid.WithLogger(l),
	)
}

// ProvideSnapshotCollector returns nil unless feed.source is websocket.
func ProvideSnapshotCollector(cfg *config.Config, pipe *mid.SnapshotPipeline, l *logger.Logger, rec domrepo.Metrics) *usecase.SnapshotCollector {
	if cfg.Feed.Source != "websocket" {
		return nil
	}
	stream := feed.NewWSClient(feed.Config{
		URL:            cfg.WebSocket.URL,
		Symbols:        cfg.WebSocket.Symbols,
		ReconnectDelay: cfg.WebSocket.ReconnectDelay,
		PingInterval:   cfg.WebSocket.PingInterval,
		BufferSize:     cfg.Feed.BufferSize,
	}, l)
	return usecase.NewSnapshotCollector(stream, pipe, rec, l)
}

// ProvideKafkaConsumer returns nil unless feed.source is kafka.
func ProvideKafkaConsumer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Feed.Source != "kafka" {
		return nil, nil
	}
	kc := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(kc.GroupID),
		pkgkafka.WithConsumerWorkers(kc.Workers),
		pkgkafka.WithConsumerBufferSize(kc.BufferSize),
		pkgkafka.WithConsumerRetry(kc.RetryMax, kc.BackoffMin, kc.BackoffMax),
		pkgkafka.WithConsumerDLQ(kc.DLQTopic),
		pkgkafka.WithConsumerFetch(kc.MinBytes, kc.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TraceHook(), pkgkafka.LogHook(l)))
	return consumer, nil
}

func ProvideKafkaSnapshotHandler(cfg *config.Config, pipe *mid.SnapshotPipeline, rec domrepo.Metrics) pkgkafka.MessageHandler {
	return usecase.NewKafkaSnapshotHandler(cfg.Kafka.SnapshotTopic, pipe, rec)
}

func ProvideScheduler(cfg *config.Config, locks *lock.Manager, runner *usecase.CycleRunner, l *logger.Logger) (*usecase.Scheduler, error) {
	return usecase.NewScheduler(usecase.SchedulerConfig{
		CleanupSpec:  cfg.Schedule.CleanupCron,
		AnalysisSpec: cfg.Schedule.AnalysisCron,
		Symbols:      cfg.Schedule.Symbols,
	}, locks, runner, l)
}

func ProvideAdminHandler(
	l *logger.Logger,
	g *gate.Gate,
	t *throttle.Throttle,
	locks *lock.Manager,
	regimes *regime.Registry,
	runner *usecase.CycleRunner,
) *api.AdminHandler {
	return api.NewAdminHandler(l, g, t, locks, regimes, runner)
}

func ProvideHTTPServer(cfg *config.Config, admin *api.AdminHandler, l *logger.Logger) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer([]xhttp.Handler{admin},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(l),
	)
}

// ProvideApp assembles the App and registers the clients it must close.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	pipe *mid.SnapshotPipeline,
	collector *usecase.SnapshotCollector,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	scheduler *usecase.Scheduler,
	t *throttle.Throttle,
	httpServer *xhttp.Server,
	producer *pkgkafka.Producer,
	c cache.Service,
	pg *postgres.Client,
	ch *pkgch.Client,
) *server.App {
	app := server.New(cfg, l, pipe, collector, consumer, kh, scheduler, t, httpServer)
	// registered first so it closes last and still ships the shutdown logs
	app.AddCloser("kafka-producer", producer)
	app.AddCloser("cache", c)
	if pg != nil {
		app.AddCloser("postgres", pg)
	}
	if ch != nil {
		app.AddCloser("clickhouse", ch)
	}
	return app
}
