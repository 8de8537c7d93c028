package di

import (
	"context"
	"fmt"
	"time"

	"CryptoDaily/internal/domain/repository"
	"CryptoDaily/internal/handler/api"
	internalrepo "CryptoDaily/internal/repository"
	"CryptoDaily/internal/service/binance"
	"CryptoDaily/internal/usecase"
	"CryptoDaily/pkg/cache"
	pkgch "CryptoDaily/pkg/clickhouse"
	"CryptoDaily/pkg/config"
	xhttp "CryptoDaily/pkg/http"
	pkgkafka "CryptoDaily/pkg/kafka"
	applogger "CryptoDaily/pkg/logger"
	"CryptoDaily/pkg/metrics"
	pkgmongo "CryptoDaily/pkg/mongo"
	"CryptoDaily/pkg/scheduler"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	connectTimeout = 15 * time.Second
	closeTimeout   = 5 * time.Second
	reportTTL      = 7 * 24 * time.Hour
)

// ProvideLogger builds the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the Prometheus registry served on the metrics path.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

// ProvideMongoClient connects to MongoDB.
func ProvideMongoClient(cfg *config.Config, l *applogger.Logger) (*pkgmongo.Client, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := pkgmongo.NewClient(ctx,
		pkgmongo.WithURI(cfg.Mongo.URI),
		pkgmongo.WithDatabase(cfg.Mongo.Database),
		pkgmongo.WithConnectTimeout(cfg.Mongo.ConnectTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("mongo client: %w", err)
	}
	l.Info("mongo connected", applogger.String("database", cfg.Mongo.Database))

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := client.Close(ctx); err != nil {
			l.Warn("mongo close error", applogger.Error(err))
		}
	}
	return client, cleanup, nil
}

// ProvideAssetRepository ensures the unique symbol index and returns the asset store.
func ProvideAssetRepository(cfg *config.Config, client *pkgmongo.Client) (repository.AssetRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.OpTimeout)
	defer cancel()
	if err := client.EnsureUniqueIndex(ctx, cfg.Mongo.Collection, "symbol"); err != nil {
		return nil, fmt.Errorf("asset index: %w", err)
	}
	// The client is closed by its own cleanup.
	return internalrepo.NewMongoAssetRepository(client.Collection(cfg.Mongo.Collection), cfg.Mongo.OpTimeout, client.Health, nil), nil
}

// ProvideMarketClient creates the Binance REST client.
func ProvideMarketClient(cfg *config.Config, l *applogger.Logger, m repository.Metrics) repository.MarketClient {
	hc := xhttp.NewClient(
		xhttp.WithTimeout(cfg.Upstream.Timeout),
		xhttp.WithUserAgent("cryptodaily/"+cfg.Environment),
	)
	return binance.New(cfg.Upstream.BaseURL,
		binance.WithHTTPClient(hc),
		binance.WithQuoteAsset(cfg.Upstream.QuoteAsset),
		binance.WithRetries(cfg.Upstream.MaxRetries, cfg.Upstream.RetryDelay),
		binance.WithPageSize(cfg.Upstream.PageSize),
		binance.WithPageDelay(cfg.Pacing.PageDelay),
		binance.WithHistoryFloor(cfg.HistoryFloor()),
		binance.WithLogger(l),
		binance.WithMetrics(m),
	)
}

// ProvideCache returns Redis when the cross-process lease is enabled, memory otherwise.
func ProvideCache(cfg *config.Config, l *applogger.Logger) (cache.Service, func(), error) {
	var (
		c   cache.Service
		err error
	)
	if cfg.Lock.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		c, err = cache.NewRedisCache(ctx,
			cache.WithRedisAddr(cfg.Redis.Addr),
			cache.WithRedisPassword(cfg.Redis.Password),
			cache.WithRedisDB(cfg.Redis.DB),
			cache.WithRedisPrefix(cfg.Redis.Prefix),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		l.Info("redis lease enabled", applogger.String("addr", cfg.Redis.Addr))
	} else {
		c = cache.NewMemoryCache(cache.WithMemoryMaxSize(64))
	}

	cleanup := func() {
		if err := c.Close(); err != nil {
			l.Warn("cache close error", applogger.Error(err))
		}
	}
	return c, cleanup, nil
}

// ProvideSyncState keeps the cycle lease and last report in the cache.
func ProvideSyncState(c cache.Service) *internalrepo.CacheSyncState {
	return internalrepo.NewCacheSyncState(c, reportTTL)
}

// ProvideBarSinks builds the enabled event sinks (Kafka, ClickHouse, both or none).
func ProvideBarSinks(cfg *config.Config, l *applogger.Logger, reg *prometheus.Registry) ([]repository.BarSink, func(), error) {
	var (
		sinks    []repository.BarSink
		closers  []func()
		teardown = func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	)

	if k := cfg.Events.Kafka; k.Enabled {
		producer, err := pkgkafka.NewProducer(
			pkgkafka.WithBrokers(k.Brokers),
			pkgkafka.WithTopic(k.Topic),
			pkgkafka.WithCompression(k.Compression),
			pkgkafka.WithRequiredAcks(k.RequiredAcks),
			pkgkafka.WithMaxAttempts(k.MaxAttempts),
			pkgkafka.WithTimeouts(k.WriteTimeout, k.WriteTimeout),
			pkgkafka.WithHashByKey(true),
			pkgkafka.WithRegisterer(reg),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka producer: %w", err)
		}
		sink := internalrepo.NewKafkaBarPublisher(producer)
		sinks = append(sinks, sink)
		closers = append(closers, func() {
			if err := sink.Close(); err != nil {
				l.Warn("kafka producer close error", applogger.Error(err))
			}
		})
		l.Info("kafka sink enabled", applogger.Strings("brokers", k.Brokers), applogger.String("topic", k.Topic))
	}

	if ch := cfg.Events.ClickHouse; ch.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		client, err := pkgch.NewClient(ctx,
			pkgch.WithHost(ch.Host),
			pkgch.WithPort(ch.Port),
			pkgch.WithDatabase(ch.Database),
			pkgch.WithCredentials(ch.User, ch.Password),
			pkgch.WithHTTP(ch.UseHTTP),
			pkgch.WithTimeouts(ch.DialTimeout, 30*time.Second),
		)
		if err != nil {
			teardown()
			return nil, nil, fmt.Errorf("clickhouse client: %w", err)
		}
		if err := client.InitSchema(ctx, internalrepo.DaylineMirrorSchema(ch.Database, ch.Table)); err != nil {
			_ = client.Close()
			teardown()
			return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
		}
		sinks = append(sinks, internalrepo.NewClickHouseDaylineMirror(client, ch.Database+"."+ch.Table))
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				l.Warn("clickhouse close error", applogger.Error(err))
			}
		})
		l.Info("clickhouse sink enabled", applogger.String("table", ch.Database+"."+ch.Table))
	}

	return sinks, teardown, nil
}

// ProvideDaylineSync creates the sync orchestrator.
func ProvideDaylineSync(
	cfg *config.Config,
	l *applogger.Logger,
	market repository.MarketClient,
	assets repository.AssetRepository,
	state *internalrepo.CacheSyncState,
	sinks []repository.BarSink,
	m repository.Metrics,
) *usecase.DaylineSync {
	return usecase.NewDaylineSync(market, assets,
		usecase.WithSinks(sinks...),
		usecase.WithLease(state, cfg.Lock.Key, cfg.Lock.TTL),
		usecase.WithReportStore(state),
		usecase.WithSyncMetrics(m),
		usecase.WithSyncLogger(l),
		usecase.WithAssetDelay(cfg.Pacing.AssetDelay),
	)
}

// ProvideScheduler creates the cron scheduler in the configured timezone.
func ProvideScheduler(cfg *config.Config, l *applogger.Logger) *scheduler.Scheduler {
	return scheduler.New(l, cfg.Location())
}

// ProvideStatusHandler creates the ops API handler.
func ProvideStatusHandler(l *applogger.Logger, assets repository.AssetRepository, state *internalrepo.CacheSyncState) *api.StatusEchoHandler {
	return api.NewStatusEchoHandler(l, assets, state)
}

// ProvideHTTPServer creates the ops server, or nil when disabled.
func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, h *api.StatusEchoHandler, reg *prometheus.Registry) *xhttp.Server {
	if !cfg.Server.Enabled {
		return nil
	}
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(reg, cfg.Metrics.Path))
	}
	return xhttp.NewServer(h, l, opts...)
}
