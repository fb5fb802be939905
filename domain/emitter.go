package domain

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/infofi/ton-signal-publisher/entities"
)

const signalCreator = "signal-publisher"

const (
	signalTypeWhaleToExchange   = "whale_to_exchange"
	signalTypeWhaleAccumulation = "whale_accumulation"
	signalTypeAnomalyDetection  = "anomaly_detection"
	signalTypeSentimentAnalysis = "sentiment_analysis"
	signalTypeMarketInsight     = "market_insight"
)

type SignalSink interface {
	PublishSignal(ctx context.Context, signal entities.Signal) error
}

// SignalArchiver is the optional secondary store for emitted signals.
type SignalArchiver interface {
	ArchiveSignals(signals []entities.Signal) error
}

type EmitterConfig struct {
	DedupWindow time.Duration // detection window rounding for dedup keys
	DedupTTL    time.Duration // how long a seen key suppresses re-emission
	DedupMax    int           // bound on the recent-key set
	RecentMax   int           // size of the recent-signal ring buffer
}

func DefaultEmitterConfig() EmitterConfig {
	return EmitterConfig{
		DedupWindow: time.Hour,
		DedupTTL:    24 * time.Hour,
		DedupMax:    10_000,
		RecentMax:   1000,
	}
}

type seenKey struct {
	key      string
	expireAt time.Time
}

// Emitter maps classification events and off-chain sentiment into canonical
// signals. The dedup set absorbs at-least-once replays from backoff and
// crash-restart; it is the only state shared between the cursor loop and the
// off-chain pollers, so all mutations are serialized behind the mutex.
type Emitter struct {
	sink     SignalSink
	archiver SignalArchiver // may be nil
	cfg      EmitterConfig
	metrics  *ProcessingMetrics
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	seen     map[string]time.Time
	seenQ    []seenKey
	seenHead int
	recent   []entities.Signal
	next     int
	filled   int

	now func() time.Time
}

func NewEmitter(sink SignalSink, archiver SignalArchiver, cfg EmitterConfig,
	metrics *ProcessingMetrics, logger *zap.SugaredLogger) *Emitter {

	if cfg.RecentMax <= 0 {
		cfg.RecentMax = DefaultEmitterConfig().RecentMax
	}
	if cfg.DedupMax <= 0 {
		cfg.DedupMax = DefaultEmitterConfig().DedupMax
	}
	return &Emitter{
		sink:     sink,
		archiver: archiver,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		seen:     make(map[string]time.Time),
		recent:   make([]entities.Signal, cfg.RecentMax),
		now:      time.Now,
	}
}

// EmitWhaleSignal publishes a whale movement signal. Returns false when the
// signal was dropped as a duplicate.
func (e *Emitter) EmitWhaleSignal(ctx context.Context, alert entities.WhaleAlert) (bool, error) {
	signalType := signalTypeWhaleAccumulation
	sentiment := entities.SentimentBullish
	description := fmt.Sprintf("Whale accumulated %.2f TON - potential bullish signal", alert.ValueTon)
	if strings.Contains(strings.ToLower(alert.Destination), "exchange") {
		signalType = signalTypeWhaleToExchange
		sentiment = entities.SentimentBearish
		description = fmt.Sprintf("Whale moved %.2f TON to exchange - potential sell pressure", alert.ValueTon)
	}

	signal := entities.Signal{
		SignalType:      signalType,
		Title:           fmt.Sprintf("Whale Alert: %.2f TON Movement", alert.ValueTon),
		Description:     description,
		Sentiment:       sentiment,
		Confidence:      0.75,
		Severity:        alert.Severity,
		Creator:         signalCreator,
		Tags:            []string{"whale", "on-chain", signalType},
		RelatedEntities: []string{alert.Source, alert.Destination},
	}
	return e.emit(ctx, signal, alert.TxHash, alert.DetectedAt)
}

func (e *Emitter) EmitAnomalySignal(ctx context.Context, anomaly entities.Anomaly) (bool, error) {
	signal := entities.Signal{
		SignalType:  signalTypeAnomalyDetection,
		Title:       fmt.Sprintf("Anomaly Detected: %s", anomaly.Type),
		Description: anomaly.Reason,
		Sentiment:   entities.SentimentNeutral,
		Confidence:  0.8,
		Severity:    anomaly.Severity,
		Creator:     signalCreator,
		Tags:        []string{"anomaly", "alert", string(anomaly.Type)},
	}
	if anomaly.Subject != "" {
		signal.RelatedEntities = []string{anomaly.Subject}
	}
	subject := string(anomaly.Type) + "|" + anomaly.Subject
	return e.emit(ctx, signal, subject, anomaly.DetectedAt)
}

func (e *Emitter) EmitSentimentSignal(ctx context.Context, item entities.SourceItem,
	sentiment entities.SentimentResult, related []entities.Entity) (bool, error) {

	confidence := sentiment.Score
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	severity := entities.SeverityLow
	if confidence > 0.7 && sentiment.Label != entities.SentimentNeutral {
		severity = entities.SeverityHigh
	}

	relatedEntities := make([]string, 0, len(related))
	for _, entity := range related {
		relatedEntities = append(relatedEntities, entity.Text)
	}

	signal := entities.Signal{
		SignalType:      signalTypeSentimentAnalysis,
		Title:           fmt.Sprintf("Market Sentiment: %s", strings.ToUpper(string(sentiment.Label))),
		Description:     fmt.Sprintf("%s: %s", item.Source, item.Title),
		Sentiment:       sentiment.Label,
		Confidence:      confidence,
		Severity:        severity,
		Creator:         signalCreator,
		Tags:            []string{"sentiment", "off-chain", item.Kind},
		RelatedEntities: relatedEntities,
	}
	contentKey := strconv.FormatUint(xxhash.Sum64String(item.Ref), 16)
	return e.emit(ctx, signal, contentKey, item.FetchedAt)
}

func (e *Emitter) EmitInsightSignal(ctx context.Context, insight Insight) (bool, error) {
	signal := entities.Signal{
		SignalType:  signalTypeMarketInsight,
		Title:       fmt.Sprintf("Market Insight: %s", strings.ToUpper(string(insight.MarketSentiment))),
		Description: insight.Summary,
		Sentiment:   insight.MarketSentiment,
		Confidence:  insight.Confidence,
		Severity:    entities.SeverityLow,
		Creator:     signalCreator,
		Tags:        []string{"insight", "aggregate", insight.RiskLevel},
	}
	return e.emit(ctx, signal, insight.RiskLevel, insight.GeneratedAt)
}

// Recent returns up to limit signals, newest first.
func (e *Emitter) Recent(limit int) []entities.Signal {
	e.mu.Lock()
	defer e.mu.Unlock()

	if limit > e.filled {
		limit = e.filled
	}
	signals := make([]entities.Signal, 0, limit)
	for i := 1; i <= limit; i++ {
		signals = append(signals, e.recent[(e.next-i+len(e.recent))%len(e.recent)])
	}
	return signals
}

func (e *Emitter) emit(ctx context.Context, signal entities.Signal, subject string, detectedAt time.Time) (bool, error) {
	signal.DedupKey = e.dedupKey(signal.SignalType, subject, detectedAt)
	signal.CreatedAt = e.now()

	if e.seenOrAdd(signal.DedupKey) {
		e.metrics.IncDedupDropped()
		e.logger.Debugw("Dropping duplicate signal", "type", signal.SignalType, "dedup_key", signal.DedupKey)
		return false, nil
	}

	signal.ID = uuid.NewString()

	if err := e.sink.PublishSignal(ctx, signal); err != nil {
		// forget the key so a retry can emit again
		e.forget(signal.DedupKey)
		return false, err
	}

	e.remember(signal)
	e.metrics.IncEmittedSignals()

	if e.archiver != nil {
		if err := e.archiver.ArchiveSignals([]entities.Signal{signal}); err != nil {
			e.logger.Warnw("Archiving signal failed", "id", signal.ID, "error", err)
		}
	}
	return true, nil
}

func (e *Emitter) dedupKey(signalType, subject string, detectedAt time.Time) string {
	window := detectedAt.Truncate(e.cfg.DedupWindow).Unix()
	h := xxhash.Sum64String(signalType + "|" + subject + "|" + strconv.FormatInt(window, 10))
	return strconv.FormatUint(h, 16)
}

func (e *Emitter) seenOrAdd(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.evictSeen(now)

	if expireAt, ok := e.seen[key]; ok && expireAt.After(now) {
		return true
	}
	e.seen[key] = now.Add(e.cfg.DedupTTL)
	e.seenQ = append(e.seenQ, seenKey{key: key, expireAt: now.Add(e.cfg.DedupTTL)})
	return false
}

func (e *Emitter) forget(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.seen, key)
}

func (e *Emitter) remember(signal entities.Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recent[e.next] = signal
	e.next = (e.next + 1) % len(e.recent)
	if e.filled < len(e.recent) {
		e.filled++
	}
}

// evictSeen drops expired keys in insertion order and enforces the size
// bound. Caller holds the mutex.
func (e *Emitter) evictSeen(now time.Time) {
	for e.seenHead < len(e.seenQ) {
		item := e.seenQ[e.seenHead]
		if item.expireAt.After(now) && len(e.seen) < e.cfg.DedupMax {
			break
		}
		if expireAt, ok := e.seen[item.key]; ok && expireAt.Equal(item.expireAt) {
			delete(e.seen, item.key)
		}
		e.seenHead++
	}
	if e.seenHead > 4096 && e.seenHead*2 > len(e.seenQ) {
		e.seenQ = append([]seenKey(nil), e.seenQ[e.seenHead:]...)
		e.seenHead = 0
	}
}
