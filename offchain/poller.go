package offchain

import (
	"context"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/infofi/ton-signal-publisher/entities"
)

// Source produces raw off-chain items: news articles, social posts, commits.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]entities.SourceItem, error)
}

// Analyzer is the NLP collaborator. Both calls are best effort: the poller
// substitutes neutral/empty defaults on failure and never blocks emission.
type Analyzer interface {
	AnalyzeSentiment(ctx context.Context, text string) (entities.SentimentResult, error)
	ExtractEntities(ctx context.Context, text string) ([]entities.Entity, error)
}

type ItemSink interface {
	PublishSourceItem(ctx context.Context, item entities.SourceItem) error
}

type SentimentEmitter interface {
	EmitSentimentSignal(ctx context.Context, item entities.SourceItem,
		sentiment entities.SentimentResult, related []entities.Entity) (bool, error)
}

// Poller runs one source on its own fixed schedule. Failures are logged and
// retried on the next cycle without affecting other pollers or the cursor
// loop. Successive external calls within a cycle are paced by the limiter.
type Poller struct {
	source   Source
	interval time.Duration
	analyzer Analyzer
	sink     ItemSink
	emitter  SentimentEmitter
	limiter  ratelimit.Limiter
	logger   *zap.SugaredLogger
}

func NewPoller(source Source, interval time.Duration, callsPerSecond int,
	analyzer Analyzer, sink ItemSink, emitter SentimentEmitter, logger *zap.SugaredLogger) *Poller {

	return &Poller{
		source:   source,
		interval: interval,
		analyzer: analyzer,
		sink:     sink,
		emitter:  emitter,
		limiter:  ratelimit.New(callsPerSecond),
		logger:   logger,
	}
}

func (p *Poller) Run(ctx context.Context) {
	p.logger.Infow("Starting off-chain poller", "source", p.source.Name(), "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.cycle(ctx); err != nil {
			p.logger.Warnw("Poll cycle failed", "source", p.source.Name(), "error", err)
		}
		select {
		case <-ctx.Done():
			p.logger.Infow("Off-chain poller stopped", "source", p.source.Name())
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) cycle(ctx context.Context) error {
	items, err := p.source.Fetch(ctx)
	if err != nil {
		return err
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return nil
		}
		p.limiter.Take()
		p.processItem(ctx, item)
	}

	if len(items) > 0 {
		p.logger.Infow("Processed off-chain items", "source", p.source.Name(), "count", len(items))
	}
	return nil
}

// processItem forwards one item through NLP and the emitter. Per-item
// failures are logged and the cycle continues with the next item.
func (p *Poller) processItem(ctx context.Context, item entities.SourceItem) {
	if err := p.sink.PublishSourceItem(ctx, item); err != nil {
		p.logger.Warnw("Publishing source item failed", "source", p.source.Name(), "ref", item.Ref, "error", err)
		return
	}

	sentiment, err := p.analyzer.AnalyzeSentiment(ctx, item.Title+" "+item.Text)
	if err != nil {
		p.logger.Warnw("Sentiment analysis failed, using neutral default", "ref", item.Ref, "error", err)
		sentiment = entities.SentimentResult{Label: entities.SentimentNeutral, Score: 0}
	}

	related, err := p.analyzer.ExtractEntities(ctx, item.Title+" "+item.Text)
	if err != nil {
		p.logger.Warnw("Entity extraction failed, using empty default", "ref", item.Ref, "error", err)
		related = nil
	}

	if _, err := p.emitter.EmitSentimentSignal(ctx, item, sentiment, related); err != nil {
		p.logger.Warnw("Emitting sentiment signal failed", "ref", item.Ref, "error", err)
	}
}
