package tonapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/infofi/ton-signal-publisher/entities"
	"github.com/pkg/errors"
)

// Client talks to a TON indexing API (tonapi.io v2 shapes). All calls are
// retryable; network and server-side failures map to ErrSourceUnavailable so
// the processor can apply its backoff policy.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type masterchainHead struct {
	Last struct {
		Seqno uint64 `json:"seqno"`
	} `json:"last"`
}

func (c *Client) GetLatestHeight(ctx context.Context) (uint64, error) {
	var head masterchainHead
	err := c.getJSON(ctx, "/blockchain/masterchain-head", &head)
	if err != nil {
		return 0, errors.Wrap(err, "getting masterchain head")
	}
	if head.Last.Seqno == 0 {
		return 0, errors.New("masterchain head without seqno")
	}
	return head.Last.Seqno, nil
}

type blockTransactions struct {
	Transactions []entities.RawTx `json:"transactions"`
}

// GetBlockTransactions returns the raw transactions of one block. An empty
// block is a valid success and returns an empty slice.
func (c *Client) GetBlockTransactions(ctx context.Context, height uint64) ([]entities.RawTx, error) {
	var block blockTransactions
	err := c.getJSON(ctx, fmt.Sprintf("/blockchain/blocks/%d/transactions", height), &block)
	if err != nil {
		return nil, errors.Wrapf(err, "getting transactions for block [%d]", height)
	}
	return block.Transactions, nil
}

type account struct {
	Balance      int64  `json:"balance"`
	Status       string `json:"status"`
	LastActivity int64  `json:"last_activity"`
	IsWallet     bool   `json:"is_wallet"`
}

func (c *Client) GetAccountInfo(ctx context.Context, address string) (*entities.AccountInfo, error) {
	var acc account
	err := c.getJSON(ctx, "/accounts/"+address, &acc)
	if err != nil {
		return nil, errors.Wrapf(err, "getting account [%s]", address)
	}
	return &entities.AccountInfo{
		Address:      address,
		BalanceTon:   float64(acc.Balance) / 1e9,
		Status:       acc.Status,
		LastActivity: acc.LastActivity,
		IsWallet:     acc.IsWallet,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return errors.Wrapf(entities.ErrSourceUnavailable, "calling [%s]: %v", path, err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 500 {
		return errors.Wrapf(entities.ErrSourceUnavailable, "calling [%s]: status [%d]", path, response.StatusCode)
	}
	if response.StatusCode != http.StatusOK {
		return errors.Errorf("calling [%s]: unexpected status [%d]", path, response.StatusCode)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return errors.Wrap(entities.ErrSourceUnavailable, err.Error())
	}
	if err := json.Unmarshal(body, target); err != nil {
		return errors.Wrapf(err, "unmarshalling [%s] response", path)
	}
	return nil
}
