package offchain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/infofi/ton-signal-publisher/entities"
)

var DefaultDevRepos = []string{
	"ton-blockchain/ton",
	"ton-blockchain/wallet-contract",
	"ton-community/ton-docs",
}

// DevActivitySource tracks commits on monitored ecosystem repositories.
// A token raises the rate limit but is optional.
type DevActivitySource struct {
	apiURL     string
	repos      []string
	token      string
	httpClient *http.Client
	lastFetch  time.Time
	now        func() time.Time
}

func NewDevActivitySource(apiURL string, repos []string, token string, timeout time.Duration) *DevActivitySource {
	return &DevActivitySource{
		apiURL:     apiURL,
		repos:      repos,
		token:      token,
		httpClient: newHTTPClient(timeout),
		now:        time.Now,
	}
}

func (s *DevActivitySource) Name() string {
	return "dev_activity"
}

type commit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string `json:"name"`
			Date string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

func (s *DevActivitySource) Fetch(ctx context.Context) ([]entities.SourceItem, error) {
	since := s.lastFetch
	if since.IsZero() {
		since = s.now().Add(-time.Hour)
	}

	var items []entities.SourceItem
	for _, repo := range s.repos {
		commits, err := s.fetchCommits(ctx, repo, since)
		if err != nil {
			// one broken repo must not fail the cycle
			continue
		}
		for _, c := range commits {
			published, _ := time.Parse(time.RFC3339, c.Commit.Author.Date)
			items = append(items, entities.SourceItem{
				Source:      repo,
				Kind:        "dev_activity",
				Ref:         c.SHA,
				Title:       firstLine(c.Commit.Message),
				Text:        c.Commit.Message,
				PublishedAt: published,
				FetchedAt:   s.now(),
			})
		}
	}
	s.lastFetch = s.now()
	return items, nil
}

func (s *DevActivitySource) fetchCommits(ctx context.Context, repo string, since time.Time) ([]commit, error) {
	url := fmt.Sprintf("%s/repos/%s/commits?since=%s", s.apiURL, repo, since.UTC().Format(time.RFC3339))
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	if s.token != "" {
		request.Header.Set("Authorization", "token "+s.token)
	}

	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, errors.Wrapf(entities.ErrSourceUnavailable, "fetching commits for [%s]: %v", repo, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetching commits for [%s]: status [%d]", repo, response.StatusCode)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, errors.Wrap(entities.ErrSourceUnavailable, err.Error())
	}

	var commits []commit
	if err := json.Unmarshal(body, &commits); err != nil {
		return nil, errors.Wrapf(err, "unmarshalling commits for [%s]", repo)
	}
	return commits, nil
}

func firstLine(message string) string {
	for i, r := range message {
		if r == '\n' {
			return message[:i]
		}
	}
	return message
}
