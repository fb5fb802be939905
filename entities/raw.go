package entities

// RawTx mirrors the indexing API's per-block transaction payload. Only the
// fields the extractor needs are mapped; anything else on the wire is ignored.
type RawTx struct {
	Hash  string      `json:"hash"`
	Utime uint64      `json:"utime"`
	InMsg *RawMessage `json:"in_msg"`
}

type RawMessage struct {
	Source      *RawAccount `json:"source"`
	Destination *RawAccount `json:"destination"`
	Value       int64       `json:"value"`
}

type RawAccount struct {
	Address string `json:"address"`
}
