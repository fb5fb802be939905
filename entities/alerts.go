package entities

import "time"

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type AnomalyType string

const (
	AnomalyLargeTransaction     AnomalyType = "large_transaction"
	AnomalyHighFrequencyTrading AnomalyType = "high_frequency_trading"
	AnomalyLargeVolume          AnomalyType = "large_volume"
	AnomalyHighNetworkActivity  AnomalyType = "high_network_activity"
)

// WhaleAlert is raised for single transfers at or above the configured
// whale threshold.
type WhaleAlert struct {
	TxHash      string    `json:"hash"`
	ValueTon    float64   `json:"value_ton"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Severity    Severity  `json:"severity"`
	DetectedAt  time.Time `json:"detected_at"`

	// optional enrichment, nil when the account lookup failed
	SourceAccount      *AccountInfo `json:"source_account,omitempty"`
	DestinationAccount *AccountInfo `json:"destination_account,omitempty"`
}

// Anomaly describes an unusual pattern found by the classifier. Subject is
// the wallet address for wallet anomalies, the tx hash for transaction
// anomalies and empty for network-level anomalies.
type Anomaly struct {
	Type       AnomalyType `json:"type"`
	Subject    string      `json:"subject,omitempty"`
	Severity   Severity    `json:"severity"`
	Reason     string      `json:"reason"`
	DetectedAt time.Time   `json:"detected_at"`
}
