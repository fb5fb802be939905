package domain

import (
	"time"

	"github.com/infofi/ton-signal-publisher/entities"
)

// WalletWindow aggregates recent activity of a single wallet. The window
// resets once its age exceeds the configured sliding interval.
type WalletWindow struct {
	Address     string
	TxCount     int
	VolumeTon   float64
	WindowStart time.Time
}

// NetworkBaseline is a smoothed estimate of per-block transaction volume.
// It is not trusted for comparisons until WarmUpCount observations were made.
type NetworkBaseline struct {
	AvgTxVolume  float64
	Observations int
}

// RollingStats owns all per-wallet windows and the network baseline. It is
// mutated exclusively by the classifier running on the single cursor loop,
// so it needs no internal locking.
type RollingStats struct {
	windowSize  time.Duration
	warmUpCount int
	alpha       float64

	wallets  map[string]*WalletWindow
	baseline NetworkBaseline

	now func() time.Time
}

func NewRollingStats(windowSize time.Duration, warmUpCount int, alpha float64) *RollingStats {
	return &RollingStats{
		windowSize:  windowSize,
		warmUpCount: warmUpCount,
		alpha:       alpha,
		wallets:     make(map[string]*WalletWindow),
		now:         time.Now,
	}
}

// Touch records one transaction against a wallet and returns the updated
// window. An expired window is reset before the transaction is counted.
func (s *RollingStats) Touch(address string, valueTon float64) WalletWindow {
	now := s.now()
	window, ok := s.wallets[address]
	if !ok || now.Sub(window.WindowStart) > s.windowSize {
		window = &WalletWindow{
			Address:     address,
			WindowStart: now,
		}
		s.wallets[address] = window
	}
	window.TxCount++
	window.VolumeTon += valueTon
	return *window
}

// ObserveBatch feeds one batch's total volume into the exponential moving
// average. The baseline updates regardless of whether an anomaly fired.
func (s *RollingStats) ObserveBatch(totalVolumeTon float64) {
	if s.baseline.Observations == 0 {
		s.baseline.AvgTxVolume = totalVolumeTon
	} else {
		s.baseline.AvgTxVolume = s.alpha*totalVolumeTon + (1-s.alpha)*s.baseline.AvgTxVolume
	}
	s.baseline.Observations++
}

func (s *RollingStats) Baseline() NetworkBaseline {
	return s.baseline
}

func (s *RollingStats) BaselineReady() bool {
	return s.baseline.Observations >= s.warmUpCount
}

// Evict drops windows that aged out of the sliding interval so the wallet
// map stays bounded on long runs.
func (s *RollingStats) Evict() {
	now := s.now()
	for address, window := range s.wallets {
		if now.Sub(window.WindowStart) > s.windowSize {
			delete(s.wallets, address)
		}
	}
}

// BatchVolume sums the TON value of a batch.
func BatchVolume(batch []entities.Tx) float64 {
	var total float64
	for _, tx := range batch {
		total += tx.ValueTon
	}
	return total
}
