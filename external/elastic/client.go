package elastic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/infofi/ton-signal-publisher/entities"
)

// Client archives emitted signals into an elasticsearch index so they stay
// searchable after the kafka retention window. Archiving is best effort and
// never gates cursor advancement.
type Client struct {
	index    string
	esClient *elasticsearch.Client
}

func NewClient(address, index string, timeout time.Duration) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{address},
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: timeout,
		},
	}

	esClient, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %v", err)
	}

	return &Client{
		index:    index,
		esClient: esClient,
	}, nil
}

func (es *Client) ArchiveSignals(signals []entities.Signal) error {
	var buf bytes.Buffer

	for _, signal := range signals {
		meta := []byte(fmt.Sprintf(`{ "index": { "_index": "%s", "_id": "%s" } }%s`, es.index, signal.ID, "\n"))
		buf.Write(meta)

		data, err := json.Marshal(signal)
		if err != nil {
			return fmt.Errorf("serializing signal: %w", err)
		}
		buf.Write(data)
		buf.Write([]byte("\n"))
	}

	res, err := es.esClient.Bulk(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("bulk request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("bulk request error: %s", res.String())
	}

	return nil
}
