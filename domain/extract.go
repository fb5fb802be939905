package domain

import (
	"go.uber.org/zap"

	"github.com/infofi/ton-signal-publisher/entities"
)

const nanoPerTon = 1e9

// Extractor normalizes raw chain payloads into canonical transactions.
// A malformed record is skipped and counted; it never fails the block.
type Extractor struct {
	minValueTon float64
	metrics     *ProcessingMetrics
	logger      *zap.SugaredLogger
}

func NewExtractor(minValueTon float64, metrics *ProcessingMetrics, logger *zap.SugaredLogger) *Extractor {
	return &Extractor{
		minValueTon: minValueTon,
		metrics:     metrics,
		logger:      logger,
	}
}

func (e *Extractor) ExtractTransactions(raw []entities.RawTx, height uint64) []entities.Tx {
	txs := make([]entities.Tx, 0, len(raw))
	for _, rawTx := range raw {
		tx, ok := e.extract(rawTx, height)
		if !ok {
			continue
		}
		if tx.ValueTon < e.minValueTon {
			// dust, not an error
			continue
		}
		txs = append(txs, tx)
	}
	return txs
}

func (e *Extractor) extract(raw entities.RawTx, height uint64) (entities.Tx, bool) {
	if raw.Hash == "" || raw.InMsg == nil || raw.InMsg.Value <= 0 ||
		raw.InMsg.Source == nil || raw.InMsg.Source.Address == "" ||
		raw.InMsg.Destination == nil || raw.InMsg.Destination.Address == "" {
		e.metrics.IncParseErrors()
		e.logger.Warnw("Skipping malformed transaction record", "hash", raw.Hash, "block", height)
		return entities.Tx{}, false
	}

	return entities.Tx{
		Hash:        raw.Hash,
		Source:      raw.InMsg.Source.Address,
		Destination: raw.InMsg.Destination.Address,
		ValueNano:   raw.InMsg.Value,
		ValueTon:    float64(raw.InMsg.Value) / nanoPerTon,
		BlockHeight: height,
		Timestamp:   raw.Utime,
	}, true
}
