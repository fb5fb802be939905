package offchain

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/infofi/ton-signal-publisher/entities"
)

// default crypto news feeds, overridable via config
var DefaultNewsFeeds = []string{
	"https://cointelegraph.com/rss",
	"https://decrypt.co/feed",
	"https://cryptonews.com/news/feed/",
	"https://www.coindesk.com/arc/outboundfeeds/rss/",
}

var tonKeywords = []string{"ton", "the open network", "telegram blockchain", "toncoin"}

const articlesPerFeed = 10

// NewsSource aggregates TON-related articles from RSS feeds. Feeds are
// fetched concurrently; a failing feed is skipped, the rest of the cycle
// proceeds.
type NewsSource struct {
	feeds  []string
	parser *gofeed.Parser
	now    func() time.Time
}

func NewNewsSource(feeds []string, timeout time.Duration) *NewsSource {
	parser := gofeed.NewParser()
	parser.Client = newHTTPClient(timeout)
	return &NewsSource{
		feeds:  feeds,
		parser: parser,
		now:    time.Now,
	}
}

func (s *NewsSource) Name() string {
	return "news"
}

func (s *NewsSource) Fetch(ctx context.Context) ([]entities.SourceItem, error) {
	var mu sync.Mutex
	var items []entities.SourceItem

	group, groupCtx := errgroup.WithContext(ctx)
	for _, feedURL := range s.feeds {
		group.Go(func() error {
			feed, err := s.parser.ParseURLWithContext(feedURL, groupCtx)
			if err != nil {
				// a single broken feed must not fail the cycle
				return nil
			}
			fetched := s.convertFeed(feed)
			mu.Lock()
			items = append(items, fetched...)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, errors.Wrap(err, "fetching feeds")
	}
	return items, nil
}

func (s *NewsSource) convertFeed(feed *gofeed.Feed) []entities.SourceItem {
	var items []entities.SourceItem
	for i, entry := range feed.Items {
		if i >= articlesPerFeed {
			break
		}
		if !tonRelated(entry.Title + " " + entry.Description) {
			continue
		}
		published := s.now()
		if entry.PublishedParsed != nil {
			published = *entry.PublishedParsed
		}
		items = append(items, entities.SourceItem{
			Source:      feed.Title,
			Kind:        "news",
			Ref:         entry.Link,
			Title:       entry.Title,
			Text:        entry.Description,
			PublishedAt: published,
			FetchedAt:   s.now(),
		})
	}
	return items
}

func tonRelated(text string) bool {
	text = strings.ToLower(text)
	for _, keyword := range tonKeywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}
