package domain

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/infofi/ton-signal-publisher/entities"
)

type ChainClient interface {
	GetLatestHeight(ctx context.Context) (uint64, error)
	GetBlockTransactions(ctx context.Context, height uint64) ([]entities.RawTx, error)
	GetAccountInfo(ctx context.Context, address string) (*entities.AccountInfo, error)
}

type CursorStore interface {
	GetLastProcessedBlock() (uint64, error)
	SetLastProcessedBlock(height uint64) error
}

type EventSink interface {
	PublishTransactions(ctx context.Context, txs []entities.Tx) error
	PublishWhaleAlert(ctx context.Context, alert entities.WhaleAlert) error
}

type ProcessorConfig struct {
	PollInterval   time.Duration // sleep when caught up with the chain head
	BackoffBase    time.Duration // first retry delay after a failure
	BackoffMax     time.Duration // retry delay cap
	FetchTimeout   time.Duration // per chain client call
	PublishTimeout time.Duration // per sink publish call
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PollInterval:   5 * time.Second,
		BackoffBase:    time.Second,
		BackoffMax:     60 * time.Second,
		FetchTimeout:   15 * time.Second,
		PublishTimeout: 30 * time.Second,
	}
}

// Processor drives the ingestion cursor. It processes blocks strictly in
// order and advances the cursor only after a block's transactions are
// classified, its signals emitted and all records acknowledged by the sink.
// Delivery is therefore at least once; the emitter's dedup set absorbs
// replays after a crash or a mid-block failure.
type Processor struct {
	chain      ChainClient
	store      CursorStore
	sink       EventSink
	extractor  *Extractor
	classifier *Classifier
	emitter    *Emitter
	cfg        ProcessorConfig
	metrics    *ProcessingMetrics
	logger     *zap.SugaredLogger
}

func NewProcessor(chain ChainClient, store CursorStore, sink EventSink,
	extractor *Extractor, classifier *Classifier, emitter *Emitter,
	cfg ProcessorConfig, metrics *ProcessingMetrics, logger *zap.SugaredLogger) *Processor {

	return &Processor{
		chain:      chain,
		store:      store,
		sink:       sink,
		extractor:  extractor,
		classifier: classifier,
		emitter:    emitter,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
	}
}

// Run loops until the context is cancelled. A cancellation lets the
// in-flight block finish so the cursor is never left half-advanced.
func (p *Processor) Run(ctx context.Context) error {
	backoff := p.cfg.BackoffBase
	for {
		if ctx.Err() != nil {
			p.logger.Info("Processor stopped")
			return nil
		}

		caughtUp, err := p.runCycle(ctx)
		if err != nil {
			p.logger.Warnw("Processing cycle failed, backing off", "delay", backoff, "error", err)
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, p.cfg.BackoffMax)
			continue
		}
		backoff = p.cfg.BackoffBase

		if caughtUp {
			if !sleepCtx(ctx, p.cfg.PollInterval) {
				return nil
			}
		}
	}
}

// runCycle processes at most the blocks between the cursor and the current
// chain head. It returns true when the cursor has caught up with the head.
// The first failing block aborts the cycle; the caller retries the same
// height after backoff.
func (p *Processor) runCycle(ctx context.Context) (bool, error) {
	latest, err := p.latestHeight(ctx)
	if err != nil {
		return false, errors.Wrap(err, "getting latest height")
	}
	if latest == 0 {
		return false, errors.New("chain head reports height zero")
	}
	p.metrics.SetSourceHeight(latest)

	cursor, err := p.store.GetLastProcessedBlock()
	if errors.Is(err, entities.ErrStoreEntityNotFound) {
		// fresh store, start just below the head
		cursor = latest - 1
		if err := p.store.SetLastProcessedBlock(cursor); err != nil {
			return false, errors.Wrap(err, "initializing cursor")
		}
	} else if err != nil {
		return false, errors.Wrap(err, "getting last processed block")
	}

	for cursor < latest {
		if ctx.Err() != nil {
			return true, nil
		}
		height := cursor + 1
		if err := p.processBlock(ctx, height); err != nil {
			return false, errors.Wrapf(err, "processing block [%d]", height)
		}
		if err := p.store.SetLastProcessedBlock(height); err != nil {
			return false, errors.Wrapf(err, "storing last processed block [%d]", height)
		}
		cursor = height
		p.metrics.SetProcessedHeight(height)
		p.metrics.IncProcessedBlocks()
	}
	return true, nil
}

func (p *Processor) processBlock(ctx context.Context, height uint64) error {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	raw, err := p.chain.GetBlockTransactions(fetchCtx, height)
	cancel()
	if err != nil {
		return errors.Wrap(err, "fetching block transactions")
	}

	txs := p.extractor.ExtractTransactions(raw, height)
	alerts, anomalies := p.classifier.Classify(txs)

	publishCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	if err := p.sink.PublishTransactions(publishCtx, txs); err != nil {
		return errors.Wrap(err, "publishing transactions")
	}
	p.metrics.AddProcessedTransactions(len(txs))

	for _, alert := range alerts {
		p.enrichAlert(ctx, &alert)
		if err := p.sink.PublishWhaleAlert(publishCtx, alert); err != nil {
			return errors.Wrapf(err, "publishing whale alert [%s]", alert.TxHash)
		}
		p.metrics.IncWhaleAlerts()
		p.logger.Infow("Whale alert", "value_ton", alert.ValueTon,
			"source", alert.Source, "destination", alert.Destination, "severity", alert.Severity)
		if _, err := p.emitter.EmitWhaleSignal(publishCtx, alert); err != nil {
			return errors.Wrapf(err, "emitting whale signal [%s]", alert.TxHash)
		}
	}

	for _, anomaly := range anomalies {
		p.metrics.IncAnomalies()
		if _, err := p.emitter.EmitAnomalySignal(publishCtx, anomaly); err != nil {
			return errors.Wrapf(err, "emitting anomaly signal [%s]", anomaly.Type)
		}
	}

	if len(txs) > 0 {
		p.logger.Infow("Processed block", "height", height, "transactions", len(txs),
			"whale_alerts", len(alerts), "anomalies", len(anomalies))
	}
	return nil
}

// enrichAlert attaches account info to both parties, best effort. A failed
// lookup is logged and the alert proceeds unenriched.
func (p *Processor) enrichAlert(ctx context.Context, alert *entities.WhaleAlert) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	source, err := p.chain.GetAccountInfo(fetchCtx, alert.Source)
	if err != nil {
		p.logger.Warnw("Account enrichment failed", "address", alert.Source, "error", err)
	} else {
		alert.SourceAccount = source
	}

	destination, err := p.chain.GetAccountInfo(fetchCtx, alert.Destination)
	if err != nil {
		p.logger.Warnw("Account enrichment failed", "address", alert.Destination, "error", err)
	} else {
		alert.DestinationAccount = destination
	}
}

func (p *Processor) latestHeight(ctx context.Context) (uint64, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()
	return p.chain.GetLatestHeight(fetchCtx)
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// sleepCtx returns false when the context was cancelled while sleeping.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
