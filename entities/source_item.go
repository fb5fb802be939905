package entities

import "time"

// SourceItem is one raw off-chain item (news article, social post, commit)
// before sentiment analysis. Ref is the stable identity of the item at its
// origin: article URL, post id or commit SHA.
type SourceItem struct {
	Source      string    `json:"source"`
	Kind        string    `json:"kind"` // news, social, dev_activity
	Ref         string    `json:"ref"`
	Title       string    `json:"title,omitempty"`
	Text        string    `json:"text"`
	PublishedAt time.Time `json:"published_at"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// SentimentResult is the NLP collaborator's verdict on a text. A failed
// analysis yields the neutral zero-confidence default instead of an error.
type SentimentResult struct {
	Label Sentiment `json:"label"`
	Score float64   `json:"score"`
}

// Entity is a named entity extracted from off-chain text.
type Entity struct {
	Text string `json:"text"`
	Type string `json:"type"`
}
