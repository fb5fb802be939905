package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/infofi/ton-signal-publisher/entities"
)

type ClassifierConfig struct {
	WhaleThresholdTon    float64 // whale alert at or above
	HighSeverityTon      float64 // whale severity boundary
	LargeTxFactor        float64 // multiple of batch average
	WalletTxLimit        int     // tx count per window before anomaly
	WalletVolumeLimitTon float64 // volume per window before anomaly
	NetworkVolumeFactor  float64 // multiple of baseline volume
}

func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		WhaleThresholdTon:    100_000,
		HighSeverityTon:      1_000_000,
		LargeTxFactor:        10,
		WalletTxLimit:        100,
		WalletVolumeLimitTon: 1_000_000,
		NetworkVolumeFactor:  3,
	}
}

// Classifier runs the anomaly and whale checks over one batch (one block's
// transactions). It is stateless apart from the rolling stats store.
type Classifier struct {
	cfg   ClassifierConfig
	stats *RollingStats
	now   func() time.Time
}

func NewClassifier(cfg ClassifierConfig, stats *RollingStats) *Classifier {
	return &Classifier{
		cfg:   cfg,
		stats: stats,
		now:   time.Now,
	}
}

// Classify returns the whale alerts and anomalies for a batch. An empty
// batch yields no events and mutates no state.
func (c *Classifier) Classify(batch []entities.Tx) ([]entities.WhaleAlert, []entities.Anomaly) {
	if len(batch) == 0 {
		return nil, nil
	}

	detectedAt := c.now()

	alerts := c.whaleAlerts(batch, detectedAt)

	var anomalies []entities.Anomaly
	anomalies = append(anomalies, c.largeTransactionAnomalies(batch, detectedAt)...)
	anomalies = append(anomalies, c.walletAnomalies(batch, detectedAt)...)
	anomalies = append(anomalies, c.networkAnomalies(batch, detectedAt)...)

	// drop windows that aged out so the wallet map stays bounded
	c.stats.Evict()

	return alerts, anomalies
}

func (c *Classifier) whaleAlerts(batch []entities.Tx, detectedAt time.Time) []entities.WhaleAlert {
	var alerts []entities.WhaleAlert
	for _, tx := range batch {
		if tx.ValueTon < c.cfg.WhaleThresholdTon {
			continue
		}
		severity := entities.SeverityMedium
		if tx.ValueTon > c.cfg.HighSeverityTon {
			severity = entities.SeverityHigh
		}
		alerts = append(alerts, entities.WhaleAlert{
			TxHash:      tx.Hash,
			ValueTon:    tx.ValueTon,
			Source:      tx.Source,
			Destination: tx.Destination,
			Severity:    severity,
			DetectedAt:  detectedAt,
		})
	}
	return alerts
}

func (c *Classifier) largeTransactionAnomalies(batch []entities.Tx, detectedAt time.Time) []entities.Anomaly {
	avg := BatchVolume(batch) / float64(len(batch))

	var anomalies []entities.Anomaly
	for _, tx := range batch {
		if tx.ValueTon > avg*c.cfg.LargeTxFactor {
			anomalies = append(anomalies, entities.Anomaly{
				Type:       entities.AnomalyLargeTransaction,
				Subject:    tx.Hash,
				Severity:   entities.SeverityHigh,
				Reason:     fmt.Sprintf("Transaction value %.2f TON is %.0fx above average", tx.ValueTon, c.cfg.LargeTxFactor),
				DetectedAt: detectedAt,
			})
		}
	}
	return anomalies
}

func (c *Classifier) walletAnomalies(batch []entities.Tx, detectedAt time.Time) []entities.Anomaly {
	// update every touched wallet first, then evaluate each wallet once
	touched := make(map[string]WalletWindow)
	for _, tx := range batch {
		touched[tx.Source] = c.stats.Touch(tx.Source, tx.ValueTon)
		touched[tx.Destination] = c.stats.Touch(tx.Destination, tx.ValueTon)
	}

	wallets := make([]string, 0, len(touched))
	for address := range touched {
		wallets = append(wallets, address)
	}
	sort.Strings(wallets)

	var anomalies []entities.Anomaly
	for _, address := range wallets {
		window := touched[address]
		if window.TxCount > c.cfg.WalletTxLimit {
			anomalies = append(anomalies, entities.Anomaly{
				Type:       entities.AnomalyHighFrequencyTrading,
				Subject:    address,
				Severity:   entities.SeverityMedium,
				Reason:     fmt.Sprintf("Wallet executed %d transactions in short period", window.TxCount),
				DetectedAt: detectedAt,
			})
		}
		if window.VolumeTon > c.cfg.WalletVolumeLimitTon {
			anomalies = append(anomalies, entities.Anomaly{
				Type:       entities.AnomalyLargeVolume,
				Subject:    address,
				Severity:   entities.SeverityHigh,
				Reason:     fmt.Sprintf("Wallet moved %.2f TON in recent activity", window.VolumeTon),
				DetectedAt: detectedAt,
			})
		}
	}
	return anomalies
}

func (c *Classifier) networkAnomalies(batch []entities.Tx, detectedAt time.Time) []entities.Anomaly {
	volume := BatchVolume(batch)

	var anomalies []entities.Anomaly
	if c.stats.BaselineReady() && volume > c.stats.Baseline().AvgTxVolume*c.cfg.NetworkVolumeFactor {
		anomalies = append(anomalies, entities.Anomaly{
			Type:       entities.AnomalyHighNetworkActivity,
			Severity:   entities.SeverityMedium,
			Reason:     fmt.Sprintf("Network transaction volume %.0fx above baseline", c.cfg.NetworkVolumeFactor),
			DetectedAt: detectedAt,
		})
	}

	c.stats.ObserveBatch(volume)
	return anomalies
}
