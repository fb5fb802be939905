package entities

import "time"

type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentBearish Sentiment = "bearish"
	SentimentNeutral Sentiment = "neutral"
)

// Signal is the canonical outbound record. It is immutable once emitted;
// DedupKey identifies the underlying event so that replayed blocks do not
// produce duplicates downstream.
type Signal struct {
	ID              string    `json:"id"`
	SignalType      string    `json:"signal_type"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Sentiment       Sentiment `json:"sentiment"`
	Confidence      float64   `json:"confidence"`
	Severity        Severity  `json:"severity"`
	CreatedAt       time.Time `json:"created_at"`
	Creator         string    `json:"creator"`
	Tags            []string  `json:"tags,omitempty"`
	RelatedEntities []string  `json:"related_entities,omitempty"`
	DedupKey        string    `json:"dedup_key"`
}
