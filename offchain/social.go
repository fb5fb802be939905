package offchain

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/infofi/ton-signal-publisher/entities"
)

var DefaultSocialQueries = []string{"#TON", "#Toncoin", "$TON"}

// SocialSource searches recent posts for TON-related discussion. It requires
// a bearer token; without one the source is disabled at startup.
type SocialSource struct {
	apiURL      string
	queries     []string
	bearerToken string
	httpClient  *http.Client
	now         func() time.Time
}

func NewSocialSource(apiURL string, queries []string, bearerToken string, timeout time.Duration) *SocialSource {
	return &SocialSource{
		apiURL:      apiURL,
		queries:     queries,
		bearerToken: bearerToken,
		httpClient:  newHTTPClient(timeout),
		now:         time.Now,
	}
}

func (s *SocialSource) Name() string {
	return "social"
}

type post struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

func (s *SocialSource) Fetch(ctx context.Context) ([]entities.SourceItem, error) {
	var items []entities.SourceItem
	for _, query := range s.queries {
		posts, err := s.search(ctx, query)
		if err != nil {
			return items, errors.Wrapf(err, "searching [%s]", query)
		}
		for _, p := range posts {
			published, _ := time.Parse(time.RFC3339, p.CreatedAt)
			items = append(items, entities.SourceItem{
				Source:      "twitter",
				Kind:        "social",
				Ref:         p.ID,
				Text:        p.Text,
				PublishedAt: published,
				FetchedAt:   s.now(),
			})
		}
	}
	return items, nil
}

func (s *SocialSource) search(ctx context.Context, query string) ([]post, error) {
	endpoint := s.apiURL + "/2/tweets/search/recent?query=" + url.QueryEscape(query) +
		"&tweet.fields=created_at"
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	request.Header.Set("Authorization", "Bearer "+s.bearerToken)

	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, errors.Wrap(entities.ErrSourceUnavailable, err.Error())
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status [%d]", response.StatusCode)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, errors.Wrap(entities.ErrSourceUnavailable, err.Error())
	}

	var result struct {
		Data []post `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errors.Wrap(err, "unmarshalling search response")
	}
	return result.Data, nil
}
