package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/infofi/ton-signal-publisher/domain"
	"github.com/infofi/ton-signal-publisher/external/elastic"
	"github.com/infofi/ton-signal-publisher/external/kafka"
	"github.com/infofi/ton-signal-publisher/external/nlp"
	"github.com/infofi/ton-signal-publisher/external/tonapi"
	"github.com/infofi/ton-signal-publisher/infrastructure/store/pebbledb"
	"github.com/infofi/ton-signal-publisher/offchain"
)

const prefix = "INFOFI_SIGNAL_PUBLISHER"

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: exited with error: %s", err.Error())
	}
}

func run() error {
	config := zap.NewProductionConfig()
	// this is just for sugar, to display a readable date instead of an epoch time
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)

	logger, err := config.Build()
	if err != nil {
		return fmt.Errorf("creating logger: %v", err)
	}
	defer logger.Sync()
	sLogger := logger.Sugar()

	var cfg struct {
		InternalStoreFolder string `conf:"default:store"`
		TonApi              struct {
			BaseUrl string        `conf:"default:https://tonapi.io/v2"`
			ApiKey  string        `conf:"optional,mask"`
			Timeout time.Duration `conf:"default:15s"`
		}
		Nlp struct {
			BaseUrl string        `conf:"default:http://localhost:8081"`
			Timeout time.Duration `conf:"default:10s"`
		}
		Kafka struct {
			BootstrapServers  []string `conf:"default:localhost:9092"`
			TransactionsTopic string   `conf:"default:ton-transactions"`
			WhaleAlertsTopic  string   `conf:"default:whale-alerts"`
			SignalsTopic      string   `conf:"default:ai-signals"`
			NewsFeedTopic     string   `conf:"default:news-feed"`
		}
		Elastic struct {
			Address      string        `conf:"optional"`
			SignalsIndex string        `conf:"default:infofi-signals"`
			Timeout      time.Duration `conf:"default:10s"`
		}
		Sync struct {
			PollInterval   time.Duration `conf:"default:5s"`
			BackoffBase    time.Duration `conf:"default:1s"`
			BackoffMax     time.Duration `conf:"default:60s"`
			PublishTimeout time.Duration `conf:"default:30s"`
			StartBlock     uint64        `conf:"optional"` // overrides last processed block
			Enabled        bool          `conf:"default:true"`
		}
		Classifier struct {
			WhaleThresholdTon   float64       `conf:"default:100000"`
			MinValueTon         float64       `conf:"default:1"`
			WalletWindow        time.Duration `conf:"default:1h"`
			BaselineWarmUpCount int           `conf:"default:100"`
			BaselineAlpha       float64       `conf:"default:0.1"`
		}
		OffChain struct {
			Enabled            bool          `conf:"default:true"`
			NewsInterval       time.Duration `conf:"default:5m"`
			SocialInterval     time.Duration `conf:"default:10m"`
			DevInterval        time.Duration `conf:"default:1h"`
			FetchTimeout       time.Duration `conf:"default:10s"`
			CallsPerSecond     int           `conf:"default:2"`
			TwitterBearerToken string        `conf:"optional,mask"`
			GithubToken        string        `conf:"optional,mask"`
			TwitterApiUrl      string        `conf:"default:https://api.twitter.com"`
			GithubApiUrl       string        `conf:"default:https://api.github.com"`
		}
		Insight struct {
			Interval   time.Duration `conf:"default:15m"`
			WindowSize int           `conf:"default:200"`
		}
		MetricsNamespace string `conf:"default:infofi_signal_publisher"`
		MetricsPort      int    `conf:"default:9999"`
		ServerPort       int    `conf:"default:8000"`
	}

	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch {
		case errors.Is(err, conf.ErrHelpWanted):
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %v", err)
			}
			fmt.Println(usage)
			return nil
		case errors.Is(err, conf.ErrVersionWanted):
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %v", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %v", err)
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %v", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	store, err := pebbledb.NewCursorStore(cfg.InternalStoreFolder)
	if err != nil {
		return fmt.Errorf("creating cursor store: %v", err)
	}
	defer store.Close()

	if cfg.Sync.StartBlock > 0 {
		sLogger.Infow("Overriding last processed block", "height", cfg.Sync.StartBlock)
		if err := store.SetLastProcessedBlock(cfg.Sync.StartBlock); err != nil {
			return fmt.Errorf("setting last processed block: %v", err)
		}
	}

	chainClient := tonapi.NewClient(cfg.TonApi.BaseUrl, cfg.TonApi.ApiKey, cfg.TonApi.Timeout)

	// the chain source must be reachable at startup
	probeCtx, cancelProbe := context.WithTimeout(context.Background(), cfg.TonApi.Timeout)
	height, err := chainClient.GetLatestHeight(probeCtx)
	cancelProbe()
	if err != nil {
		return fmt.Errorf("chain client unreachable at startup: %v", err)
	}
	sLogger.Infow("Connected to chain source", "latest_height", height)

	kafkaMetrics := kprom.NewMetrics(cfg.MetricsNamespace,
		kprom.Registerer(prometheus.DefaultRegisterer),
		kprom.Gatherer(prometheus.DefaultGatherer))
	kcl, err := kgo.NewClient(
		kgo.WithHooks(kafkaMetrics),
		kgo.SeedBrokers(cfg.Kafka.BootstrapServers...),
		kgo.ProducerBatchCompression(kgo.ZstdCompression()),
	)
	if err != nil {
		return errors.Wrap(err, "creating kafka client")
	}
	defer kcl.Close()

	sink := kafka.NewClient(kcl, kafka.Topics{
		Transactions: cfg.Kafka.TransactionsTopic,
		WhaleAlerts:  cfg.Kafka.WhaleAlertsTopic,
		Signals:      cfg.Kafka.SignalsTopic,
		NewsFeed:     cfg.Kafka.NewsFeedTopic,
	})

	var archiver domain.SignalArchiver
	if cfg.Elastic.Address != "" {
		esClient, err := elastic.NewClient(cfg.Elastic.Address, cfg.Elastic.SignalsIndex, cfg.Elastic.Timeout)
		if err != nil {
			return fmt.Errorf("creating elastic client: %v", err)
		}
		archiver = esClient
	}

	metrics := domain.NewProcessingMetrics(cfg.MetricsNamespace)
	emitter := domain.NewEmitter(sink, archiver, domain.DefaultEmitterConfig(), metrics, sLogger)

	stats := domain.NewRollingStats(cfg.Classifier.WalletWindow, cfg.Classifier.BaselineWarmUpCount, cfg.Classifier.BaselineAlpha)
	classifierCfg := domain.DefaultClassifierConfig()
	classifierCfg.WhaleThresholdTon = cfg.Classifier.WhaleThresholdTon
	classifier := domain.NewClassifier(classifierCfg, stats)
	extractor := domain.NewExtractor(cfg.Classifier.MinValueTon, metrics, sLogger)

	processorCfg := domain.ProcessorConfig{
		PollInterval:   cfg.Sync.PollInterval,
		BackoffBase:    cfg.Sync.BackoffBase,
		BackoffMax:     cfg.Sync.BackoffMax,
		FetchTimeout:   cfg.TonApi.Timeout,
		PublishTimeout: cfg.Sync.PublishTimeout,
	}
	processor := domain.NewProcessor(chainClient, store, sink, extractor, classifier, emitter,
		processorCfg, metrics, sLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	procErr := make(chan error, 1)
	if cfg.Sync.Enabled {
		go func() {
			procErr <- processor.Run(ctx)
		}()
	} else {
		log.Println("[WARN] main: Block processing disabled")
	}

	// pollers and the insight loop are awaited on shutdown so an in-flight
	// poll cycle can finish
	var workers sync.WaitGroup
	startPoller := func(poller *offchain.Poller) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			poller.Run(ctx)
		}()
	}

	if cfg.OffChain.Enabled {
		analyzer := nlp.NewClient(cfg.Nlp.BaseUrl, cfg.Nlp.Timeout)

		news := offchain.NewNewsSource(offchain.DefaultNewsFeeds, cfg.OffChain.FetchTimeout)
		startPoller(offchain.NewPoller(news, cfg.OffChain.NewsInterval, cfg.OffChain.CallsPerSecond,
			analyzer, sink, emitter, sLogger))

		if cfg.OffChain.TwitterBearerToken != "" {
			social := offchain.NewSocialSource(cfg.OffChain.TwitterApiUrl, offchain.DefaultSocialQueries,
				cfg.OffChain.TwitterBearerToken, cfg.OffChain.FetchTimeout)
			startPoller(offchain.NewPoller(social, cfg.OffChain.SocialInterval, cfg.OffChain.CallsPerSecond,
				analyzer, sink, emitter, sLogger))
		} else {
			sLogger.Warn("Twitter bearer token not configured, social poller disabled")
		}

		dev := offchain.NewDevActivitySource(cfg.OffChain.GithubApiUrl, offchain.DefaultDevRepos,
			cfg.OffChain.GithubToken, cfg.OffChain.FetchTimeout)
		startPoller(offchain.NewPoller(dev, cfg.OffChain.DevInterval, cfg.OffChain.CallsPerSecond,
			analyzer, sink, emitter, sLogger))
	}

	insights := domain.NewRuleBasedInsights()
	workers.Add(1)
	go func() {
		defer workers.Done()
		ticker := time.NewTicker(cfg.Insight.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				insight, err := insights.Summarize(ctx, emitter.Recent(cfg.Insight.WindowSize))
				if err != nil {
					sLogger.Warnw("Generating insight failed", "error", err)
					continue
				}
				if _, err := emitter.EmitInsightSignal(ctx, insight); err != nil {
					sLogger.Warnw("Emitting insight signal failed", "error", err)
				}
			}
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	apiError := make(chan error, 1)
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"UP"}`))
		})
		mux.HandleFunc("/v1/status", func(w http.ResponseWriter, r *http.Request) {
			lastProcessed, err := store.GetLastProcessedBlock()
			if err != nil {
				http.Error(w, fmt.Sprintf("getting last processed block: %v", err), http.StatusInternalServerError)
				return
			}
			response := map[string]any{
				"lastProcessedBlock": lastProcessed,
				"recentSignals":      emitter.Recent(20),
			}
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(response); err != nil {
				http.Error(w, fmt.Sprintf("writing response: %v", err), http.StatusInternalServerError)
			}
		})
		log.Printf("main: Starting server on port [%d].", cfg.ServerPort)
		apiError <- http.ListenAndServe(fmt.Sprintf(":%d", cfg.ServerPort), mux)
	}()

	metricsError := make(chan error, 1)
	go func() {
		log.Printf("main: Starting metrics server on port [%d].", cfg.MetricsPort)
		http.Handle("/metrics", promhttp.Handler())
		metricsError <- http.ListenAndServe(fmt.Sprintf(":%d", cfg.MetricsPort), nil)
	}()

	log.Println("main: Service started.")

	select {
	case <-shutdown:
		log.Println("main: Received shutdown signal, shutting down...")
		cancel()
		if cfg.Sync.Enabled {
			<-procErr // let the in-flight block finish
		}
		workers.Wait()
		return nil
	case err := <-procErr:
		cancel()
		workers.Wait()
		if err != nil {
			return fmt.Errorf("processing error: %v", err)
		}
		return nil
	case err := <-apiError:
		return fmt.Errorf("server error: %v", err)
	case err := <-metricsError:
		return fmt.Errorf("metrics server error: %v", err)
	}
}
