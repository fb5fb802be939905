package kafka

import (
	"context"
	"encoding/binary"
	"encoding/json"

	"github.com/infofi/ton-signal-publisher/entities"
	"github.com/pkg/errors"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Topics groups the destination topics per record category.
type Topics struct {
	Transactions string
	WhaleAlerts  string
	Signals      string
	NewsFeed     string
}

// Client publishes pipeline records. Produce calls are synchronous: the
// cursor only advances after the whole block's records are acknowledged, and
// the processor already serializes blocks.
type Client struct {
	kcl    *kgo.Client
	topics Topics
}

func NewClient(kcl *kgo.Client, topics Topics) *Client {
	return &Client{
		kcl:    kcl,
		topics: topics,
	}
}

func (c *Client) PublishTransactions(ctx context.Context, txs []entities.Tx) error {
	if len(txs) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(txs))
	for _, tx := range txs {
		payload, err := json.Marshal(tx)
		if err != nil {
			return errors.Wrapf(err, "marshalling transaction [%s]", tx.Hash)
		}
		key := make([]byte, 8)
		binary.LittleEndian.PutUint64(key, tx.BlockHeight)
		records = append(records, &kgo.Record{
			Topic: c.topics.Transactions,
			Key:   key,
			Value: payload,
		})
	}
	if err := c.kcl.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return errors.Wrap(err, "producing transaction records")
	}
	return nil
}

func (c *Client) PublishWhaleAlert(ctx context.Context, alert entities.WhaleAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return errors.Wrapf(err, "marshalling whale alert [%s]", alert.TxHash)
	}
	record := &kgo.Record{
		Topic: c.topics.WhaleAlerts,
		Key:   []byte(alert.TxHash),
		Value: payload,
	}
	if err := c.kcl.ProduceSync(ctx, record).FirstErr(); err != nil {
		return errors.Wrap(err, "producing whale alert record")
	}
	return nil
}

func (c *Client) PublishSignal(ctx context.Context, signal entities.Signal) error {
	payload, err := json.Marshal(signal)
	if err != nil {
		return errors.Wrapf(err, "marshalling signal [%s]", signal.ID)
	}
	record := &kgo.Record{
		Topic: c.topics.Signals,
		Key:   []byte(signal.DedupKey),
		Value: payload,
	}
	if err := c.kcl.ProduceSync(ctx, record).FirstErr(); err != nil {
		return errors.Wrap(err, "producing signal record")
	}
	return nil
}

func (c *Client) PublishSourceItem(ctx context.Context, item entities.SourceItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return errors.Wrapf(err, "marshalling source item [%s]", item.Ref)
	}
	record := &kgo.Record{
		Topic: c.topics.NewsFeed,
		Key:   []byte(item.Ref),
		Value: payload,
	}
	if err := c.kcl.ProduceSync(ctx, record).FirstErr(); err != nil {
		return errors.Wrap(err, "producing source item record")
	}
	return nil
}
