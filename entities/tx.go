package entities

// Tx is a normalized on-chain transfer. Values below one TON are
// filtered out before a Tx is ever created.
type Tx struct {
	Hash        string  `json:"hash"`
	Source      string  `json:"source"`
	Destination string  `json:"destination"`
	ValueNano   int64   `json:"value_nano"`
	ValueTon    float64 `json:"value_ton"`
	BlockHeight uint64  `json:"block"`
	Timestamp   uint64  `json:"timestamp"`
}

// AccountInfo is best-effort wallet enrichment data.
type AccountInfo struct {
	Address      string  `json:"address"`
	BalanceTon   float64 `json:"balance"`
	Status       string  `json:"status"`
	LastActivity int64   `json:"last_activity"`
	IsWallet     bool    `json:"is_wallet"`
}
