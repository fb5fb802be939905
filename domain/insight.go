package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/infofi/ton-signal-publisher/entities"
)

// Insight is an aggregate market-condition summary over recent signals.
type Insight struct {
	GeneratedAt     time.Time
	MarketSentiment entities.Sentiment
	Confidence      float64
	RiskLevel       string
	Summary         string
}

// InsightGenerator produces periodic summaries from recent pipeline output.
// Implementations may wrap a model runtime; the pipeline only depends on
// this interface and ships with a rule-based default.
type InsightGenerator interface {
	Summarize(ctx context.Context, signals []entities.Signal) (Insight, error)
}

// RuleBasedInsights derives market conditions from whale activity and the
// bullish/bearish ratio of recent signals.
type RuleBasedInsights struct {
	now func() time.Time
}

func NewRuleBasedInsights() *RuleBasedInsights {
	return &RuleBasedInsights{now: time.Now}
}

func (g *RuleBasedInsights) Summarize(_ context.Context, signals []entities.Signal) (Insight, error) {
	insight := Insight{
		GeneratedAt:     g.now(),
		MarketSentiment: entities.SentimentNeutral,
		Confidence:      0.5,
		RiskLevel:       "medium",
		Summary:         "No significant market activity in the observed window",
	}
	if len(signals) == 0 {
		return insight, nil
	}

	var whaleCount, bullish, bearish int
	for _, signal := range signals {
		switch signal.Sentiment {
		case entities.SentimentBullish:
			bullish++
		case entities.SentimentBearish:
			bearish++
		}
		if signal.SignalType == signalTypeWhaleAccumulation || signal.SignalType == signalTypeWhaleToExchange {
			whaleCount++
		}
	}

	ratio := float64(bullish) / float64(len(signals))
	switch {
	case ratio > 0.6:
		insight.MarketSentiment = entities.SentimentBullish
		insight.Confidence = ratio
		insight.RiskLevel = "low"
	case float64(bearish)/float64(len(signals)) > 0.6:
		insight.MarketSentiment = entities.SentimentBearish
		insight.Confidence = float64(bearish) / float64(len(signals))
		insight.RiskLevel = "high"
	}

	insight.Summary = fmt.Sprintf("%d signals in window, %d whale movements, sentiment %s",
		len(signals), whaleCount, insight.MarketSentiment)
	return insight, nil
}
