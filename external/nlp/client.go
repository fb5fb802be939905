package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/infofi/ton-signal-publisher/entities"
	"github.com/pkg/errors"
)

// Client calls the NLP service for sentiment and entity extraction. Both are
// best-effort collaborators: callers fall back to neutral/empty defaults on
// error instead of blocking emission.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) AnalyzeSentiment(ctx context.Context, text string) (entities.SentimentResult, error) {
	var result entities.SentimentResult
	err := c.postJSON(ctx, "/v1/sentiment", map[string]string{"text": text}, &result)
	if err != nil {
		return entities.SentimentResult{}, errors.Wrap(err, "analyzing sentiment")
	}
	if result.Label == "" {
		result.Label = entities.SentimentNeutral
	}
	return result, nil
}

func (c *Client) ExtractEntities(ctx context.Context, text string) ([]entities.Entity, error) {
	var result struct {
		Entities []entities.Entity `json:"entities"`
	}
	err := c.postJSON(ctx, "/v1/entities", map[string]string{"text": text}, &result)
	if err != nil {
		return nil, errors.Wrap(err, "extracting entities")
	}
	return result.Entities, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, target any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshalling request")
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return errors.Wrapf(entities.ErrSourceUnavailable, "calling [%s]: %v", path, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return errors.Errorf("calling [%s]: unexpected status [%d]", path, response.StatusCode)
	}

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return errors.Wrap(entities.ErrSourceUnavailable, err.Error())
	}
	return json.Unmarshal(data, target)
}
