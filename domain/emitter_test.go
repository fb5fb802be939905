package domain

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/infofi/ton-signal-publisher/entities"
)

type fakeSignalSink struct {
	published []entities.Signal
	err       error
}

func (f *fakeSignalSink) PublishSignal(_ context.Context, signal entities.Signal) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, signal)
	return nil
}

type fakeArchiver struct {
	archived []entities.Signal
	err      error
}

func (f *fakeArchiver) ArchiveSignals(signals []entities.Signal) error {
	if f.err != nil {
		return f.err
	}
	f.archived = append(f.archived, signals...)
	return nil
}

func newTestEmitter(sink SignalSink, archiver SignalArchiver) *Emitter {
	return NewEmitter(sink, archiver, DefaultEmitterConfig(), testMetrics, testLogger)
}

func testAlert(value float64, destination string) entities.WhaleAlert {
	return entities.WhaleAlert{
		TxHash:      "tx-whale",
		ValueTon:    value,
		Source:      "wallet-whale",
		Destination: destination,
		Severity:    entities.SeverityMedium,
		DetectedAt:  time.Date(2026, 1, 15, 12, 30, 0, 0, time.UTC),
	}
}

func TestEmitter_EmitWhaleSignal(t *testing.T) {
	sink := &fakeSignalSink{}
	emitter := newTestEmitter(sink, nil)

	emitted, err := emitter.EmitWhaleSignal(context.Background(), testAlert(150_000, "wallet-cold"))
	require.NoError(t, err)
	require.True(t, emitted)
	require.Len(t, sink.published, 1)

	signal := sink.published[0]
	require.Equal(t, "whale_accumulation", signal.SignalType)
	require.Equal(t, "Whale Alert: 150000.00 TON Movement", signal.Title)
	require.Equal(t, entities.SentimentBullish, signal.Sentiment)
	require.InDelta(t, 0.75, signal.Confidence, 1e-9)
	require.Equal(t, entities.SeverityMedium, signal.Severity)
	require.Equal(t, "signal-publisher", signal.Creator)
	require.Equal(t, []string{"wallet-whale", "wallet-cold"}, signal.RelatedEntities)
	require.NotEmpty(t, signal.ID)
	require.NotEmpty(t, signal.DedupKey)
}

func TestEmitter_EmitWhaleSignal_ExchangeDestination(t *testing.T) {
	sink := &fakeSignalSink{}
	emitter := newTestEmitter(sink, nil)

	emitted, err := emitter.EmitWhaleSignal(context.Background(), testAlert(200_000, "some-exchange-wallet"))
	require.NoError(t, err)
	require.True(t, emitted)

	signal := sink.published[0]
	require.Equal(t, "whale_to_exchange", signal.SignalType)
	require.Equal(t, entities.SentimentBearish, signal.Sentiment)
	require.Contains(t, signal.Description, "sell pressure")
}

func TestEmitter_DedupOnReplay(t *testing.T) {
	sink := &fakeSignalSink{}
	emitter := newTestEmitter(sink, nil)
	alert := testAlert(150_000, "wallet-cold")

	emitted, err := emitter.EmitWhaleSignal(context.Background(), alert)
	require.NoError(t, err)
	require.True(t, emitted)

	// replaying the same block re-emits the same event, the second one drops
	emitted, err = emitter.EmitWhaleSignal(context.Background(), alert)
	require.NoError(t, err)
	require.False(t, emitted)
	require.Len(t, sink.published, 1)
}

func TestEmitter_DedupKeyWindow(t *testing.T) {
	sink := &fakeSignalSink{}
	emitter := newTestEmitter(sink, nil)

	anomaly := entities.Anomaly{
		Type:       entities.AnomalyLargeVolume,
		Subject:    "wallet-whale",
		Severity:   entities.SeverityHigh,
		Reason:     "Wallet moved 1200000.00 TON in recent activity",
		DetectedAt: time.Date(2026, 1, 15, 12, 10, 0, 0, time.UTC),
	}

	emitted, err := emitter.EmitAnomalySignal(context.Background(), anomaly)
	require.NoError(t, err)
	require.True(t, emitted)

	// same event later within the same hour window is a duplicate
	anomaly.DetectedAt = anomaly.DetectedAt.Add(30 * time.Minute)
	emitted, err = emitter.EmitAnomalySignal(context.Background(), anomaly)
	require.NoError(t, err)
	require.False(t, emitted)

	// in the next window the same condition is a new event
	anomaly.DetectedAt = anomaly.DetectedAt.Add(time.Hour)
	emitted, err = emitter.EmitAnomalySignal(context.Background(), anomaly)
	require.NoError(t, err)
	require.True(t, emitted)
	require.Len(t, sink.published, 2)
}

func TestEmitter_DedupTTLExpiry(t *testing.T) {
	sink := &fakeSignalSink{}
	emitter := newTestEmitter(sink, nil)

	current := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	emitter.now = func() time.Time { return current }

	alert := testAlert(150_000, "wallet-cold")
	emitted, _ := emitter.EmitWhaleSignal(context.Background(), alert)
	require.True(t, emitted)

	emitted, _ = emitter.EmitWhaleSignal(context.Background(), alert)
	require.False(t, emitted)

	// after the TTL the key is forgotten and the event may emit again
	current = current.Add(25 * time.Hour)
	emitted, _ = emitter.EmitWhaleSignal(context.Background(), alert)
	require.True(t, emitted)
}

func TestEmitter_ForgetsKeyOnPublishFailure(t *testing.T) {
	sink := &fakeSignalSink{err: errors.New("broker unavailable")}
	emitter := newTestEmitter(sink, nil)
	alert := testAlert(150_000, "wallet-cold")

	emitted, err := emitter.EmitWhaleSignal(context.Background(), alert)
	require.Error(t, err)
	require.False(t, emitted)

	// a retry after the sink recovers must not be treated as a duplicate
	sink.err = nil
	emitted, err = emitter.EmitWhaleSignal(context.Background(), alert)
	require.NoError(t, err)
	require.True(t, emitted)
	require.Len(t, sink.published, 1)
}

func TestEmitter_EmitAnomalySignal(t *testing.T) {
	sink := &fakeSignalSink{}
	emitter := newTestEmitter(sink, nil)

	anomaly := entities.Anomaly{
		Type:       entities.AnomalyHighFrequencyTrading,
		Subject:    "busy-wallet",
		Severity:   entities.SeverityMedium,
		Reason:     "Wallet executed 140 transactions in short period",
		DetectedAt: time.Now(),
	}
	emitted, err := emitter.EmitAnomalySignal(context.Background(), anomaly)
	require.NoError(t, err)
	require.True(t, emitted)

	signal := sink.published[0]
	require.Equal(t, "anomaly_detection", signal.SignalType)
	require.Equal(t, "Anomaly Detected: high_frequency_trading", signal.Title)
	require.Equal(t, anomaly.Reason, signal.Description)
	require.Equal(t, entities.SentimentNeutral, signal.Sentiment)
	require.InDelta(t, 0.8, signal.Confidence, 1e-9)
	require.Equal(t, []string{"busy-wallet"}, signal.RelatedEntities)
}

func TestEmitter_EmitSentimentSignal(t *testing.T) {
	sink := &fakeSignalSink{}
	emitter := newTestEmitter(sink, nil)

	item := entities.SourceItem{
		Source:    "ton-blog",
		Kind:      "news",
		Ref:       "https://blog.ton.org/some-article",
		Title:     "TON ecosystem update",
		Text:      "Major partnership announced",
		FetchedAt: time.Now(),
	}

	tests := []struct {
		name             string
		sentiment        entities.SentimentResult
		related          []entities.Entity
		expectConfidence float64
		expectSeverity   entities.Severity
	}{
		{
			name:             "confident bullish is high severity",
			sentiment:        entities.SentimentResult{Label: entities.SentimentBullish, Score: 0.9},
			related:          []entities.Entity{{Text: "TON", Type: "TOKEN"}},
			expectConfidence: 0.9,
			expectSeverity:   entities.SeverityHigh,
		},
		{
			name:             "confident neutral stays low severity",
			sentiment:        entities.SentimentResult{Label: entities.SentimentNeutral, Score: 0.95},
			expectConfidence: 0.95,
			expectSeverity:   entities.SeverityLow,
		},
		{
			name:             "score above one clamps",
			sentiment:        entities.SentimentResult{Label: entities.SentimentBearish, Score: 1.7},
			expectConfidence: 1,
			expectSeverity:   entities.SeverityHigh,
		},
		{
			name:             "negative score clamps to zero",
			sentiment:        entities.SentimentResult{Label: entities.SentimentBearish, Score: -0.5},
			expectConfidence: 0,
			expectSeverity:   entities.SeverityLow,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// a distinct ref per case keeps the dedup set out of the way
			testItem := item
			testItem.Ref = fmt.Sprintf("%s-%d", item.Ref, i)

			emitted, err := emitter.EmitSentimentSignal(context.Background(), testItem, tt.sentiment, tt.related)
			require.NoError(t, err)
			require.True(t, emitted)

			signal := sink.published[len(sink.published)-1]
			require.Equal(t, "sentiment_analysis", signal.SignalType)
			require.Equal(t, tt.sentiment.Label, signal.Sentiment)
			require.InDelta(t, tt.expectConfidence, signal.Confidence, 1e-9)
			require.Equal(t, tt.expectSeverity, signal.Severity)
			require.Contains(t, signal.Description, "ton-blog")
		})
	}
}

func TestEmitter_ArchiverFailureDoesNotFailEmit(t *testing.T) {
	sink := &fakeSignalSink{}
	archiver := &fakeArchiver{err: errors.New("index unavailable")}
	emitter := newTestEmitter(sink, archiver)

	emitted, err := emitter.EmitWhaleSignal(context.Background(), testAlert(150_000, "wallet-cold"))
	require.NoError(t, err)
	require.True(t, emitted)
	require.Len(t, sink.published, 1)
}

func TestEmitter_Recent(t *testing.T) {
	sink := &fakeSignalSink{}
	cfg := DefaultEmitterConfig()
	cfg.RecentMax = 3
	emitter := NewEmitter(sink, nil, cfg, testMetrics, testLogger)

	for i := 0; i < 5; i++ {
		anomaly := entities.Anomaly{
			Type:       entities.AnomalyLargeTransaction,
			Subject:    fmt.Sprintf("tx-%d", i),
			Severity:   entities.SeverityHigh,
			Reason:     "test",
			DetectedAt: time.Now(),
		}
		emitted, err := emitter.EmitAnomalySignal(context.Background(), anomaly)
		require.NoError(t, err)
		require.True(t, emitted)
	}

	// the ring keeps the newest three, returned newest first
	recent := emitter.Recent(10)
	require.Len(t, recent, 3)
	require.Equal(t, []string{"tx-4"}, recent[0].RelatedEntities)
	require.Equal(t, []string{"tx-3"}, recent[1].RelatedEntities)
	require.Equal(t, []string{"tx-2"}, recent[2].RelatedEntities)

	recent = emitter.Recent(1)
	require.Len(t, recent, 1)
	require.Equal(t, []string{"tx-4"}, recent[0].RelatedEntities)
}
