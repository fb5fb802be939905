package domain

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/infofi/ton-signal-publisher/entities"
)

type fakeChain struct {
	latest    uint64
	latestErr error

	blocks   map[uint64][]entities.RawTx
	blockErr error

	accounts   map[string]*entities.AccountInfo
	accountErr error
}

func (f *fakeChain) GetLatestHeight(_ context.Context) (uint64, error) {
	return f.latest, f.latestErr
}

func (f *fakeChain) GetBlockTransactions(_ context.Context, height uint64) ([]entities.RawTx, error) {
	if f.blockErr != nil {
		return nil, f.blockErr
	}
	return f.blocks[height], nil
}

func (f *fakeChain) GetAccountInfo(_ context.Context, address string) (*entities.AccountInfo, error) {
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	if info, ok := f.accounts[address]; ok {
		return info, nil
	}
	return nil, errors.New("account not found")
}

type fakeCursorStore struct {
	cursor  uint64
	has     bool
	setErr  error
	history []uint64
}

func (f *fakeCursorStore) GetLastProcessedBlock() (uint64, error) {
	if !f.has {
		return 0, entities.ErrStoreEntityNotFound
	}
	return f.cursor, nil
}

func (f *fakeCursorStore) SetLastProcessedBlock(height uint64) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.cursor = height
	f.has = true
	f.history = append(f.history, height)
	return nil
}

type fakeEventSink struct {
	txBatches [][]entities.Tx
	alerts    []entities.WhaleAlert
	txErr     error
	alertErr  error
}

func (f *fakeEventSink) PublishTransactions(_ context.Context, txs []entities.Tx) error {
	if f.txErr != nil {
		return f.txErr
	}
	f.txBatches = append(f.txBatches, txs)
	return nil
}

func (f *fakeEventSink) PublishWhaleAlert(_ context.Context, alert entities.WhaleAlert) error {
	if f.alertErr != nil {
		return f.alertErr
	}
	f.alerts = append(f.alerts, alert)
	return nil
}

func rawTransfer(hash, source, destination string, valueTon float64) entities.RawTx {
	return entities.RawTx{
		Hash:  hash,
		Utime: 1700000000,
		InMsg: &entities.RawMessage{
			Source:      &entities.RawAccount{Address: source},
			Destination: &entities.RawAccount{Address: destination},
			Value:       int64(valueTon * 1e9),
		},
	}
}

func newTestProcessor(chain *fakeChain, store *fakeCursorStore, sink *fakeEventSink,
	signalSink *fakeSignalSink) *Processor {

	stats := NewRollingStats(time.Hour, 100, 0.1)
	emitter := NewEmitter(signalSink, nil, DefaultEmitterConfig(), testMetrics, testLogger)
	return NewProcessor(chain, store, sink,
		NewExtractor(1.0, testMetrics, testLogger),
		NewClassifier(DefaultClassifierConfig(), stats),
		emitter, DefaultProcessorConfig(), testMetrics, testLogger)
}

func TestProcessor_AdvancesCursorInOrder(t *testing.T) {
	chain := &fakeChain{
		latest: 5,
		blocks: map[uint64][]entities.RawTx{
			3: {rawTransfer("tx-3", "a", "b", 10)},
			4: {rawTransfer("tx-4", "a", "b", 20)},
			5: {rawTransfer("tx-5", "a", "b", 30)},
		},
	}
	store := &fakeCursorStore{cursor: 2, has: true}
	sink := &fakeEventSink{}
	processor := newTestProcessor(chain, store, sink, &fakeSignalSink{})

	caughtUp, err := processor.runCycle(context.Background())
	require.NoError(t, err)
	require.True(t, caughtUp)

	// strictly ascending, no gaps, persisted after every block
	require.Equal(t, []uint64{3, 4, 5}, store.history)
	require.Len(t, sink.txBatches, 3)
	require.Equal(t, "tx-3", sink.txBatches[0][0].Hash)
	require.Equal(t, "tx-5", sink.txBatches[2][0].Hash)
}

func TestProcessor_FreshStoreStartsAtHead(t *testing.T) {
	chain := &fakeChain{
		latest: 100,
		blocks: map[uint64][]entities.RawTx{
			100: {rawTransfer("tx-100", "a", "b", 10)},
		},
	}
	store := &fakeCursorStore{}
	sink := &fakeEventSink{}
	processor := newTestProcessor(chain, store, sink, &fakeSignalSink{})

	caughtUp, err := processor.runCycle(context.Background())
	require.NoError(t, err)
	require.True(t, caughtUp)

	// cursor initialized to latest-1, only the head block processed
	require.Equal(t, []uint64{99, 100}, store.history)
	require.Len(t, sink.txBatches, 1)
}

func TestProcessor_CaughtUpIsNoOp(t *testing.T) {
	chain := &fakeChain{latest: 10}
	store := &fakeCursorStore{cursor: 10, has: true}
	sink := &fakeEventSink{}
	processor := newTestProcessor(chain, store, sink, &fakeSignalSink{})

	caughtUp, err := processor.runCycle(context.Background())
	require.NoError(t, err)
	require.True(t, caughtUp)
	require.Empty(t, store.history)
	require.Empty(t, sink.txBatches)
}

func TestProcessor_PublishFailureBlocksAdvance(t *testing.T) {
	chain := &fakeChain{
		latest: 4,
		blocks: map[uint64][]entities.RawTx{
			4: {rawTransfer("tx-4", "a", "b", 10)},
		},
	}
	store := &fakeCursorStore{cursor: 3, has: true}
	sink := &fakeEventSink{txErr: errors.New("broker unavailable")}
	processor := newTestProcessor(chain, store, sink, &fakeSignalSink{})

	_, err := processor.runCycle(context.Background())
	require.Error(t, err)
	require.Empty(t, store.history)
	require.Equal(t, uint64(3), store.cursor)

	// after the sink recovers the same block goes through
	sink.txErr = nil
	caughtUp, err := processor.runCycle(context.Background())
	require.NoError(t, err)
	require.True(t, caughtUp)
	require.Equal(t, []uint64{4}, store.history)
}

func TestProcessor_FetchFailureBlocksAdvance(t *testing.T) {
	chain := &fakeChain{
		latest:   4,
		blockErr: errors.Wrap(entities.ErrSourceUnavailable, "gateway timeout"),
	}
	store := &fakeCursorStore{cursor: 3, has: true}
	processor := newTestProcessor(chain, store, &fakeEventSink{}, &fakeSignalSink{})

	_, err := processor.runCycle(context.Background())
	require.Error(t, err)
	require.Equal(t, uint64(3), store.cursor)
	require.Empty(t, store.history)
}

func TestProcessor_ZeroHeadIsAnError(t *testing.T) {
	processor := newTestProcessor(&fakeChain{latest: 0}, &fakeCursorStore{}, &fakeEventSink{}, &fakeSignalSink{})

	_, err := processor.runCycle(context.Background())
	require.Error(t, err)
}

func TestProcessor_WhaleAlertFlow(t *testing.T) {
	block := []entities.RawTx{rawTransfer("tx-whale", "wallet-whale", "wallet-cold", 150_000)}
	for i := 0; i < 50; i++ {
		block = append(block, rawTransfer("tx-small", "a", "b", 5))
	}
	chain := &fakeChain{
		latest: 8,
		blocks: map[uint64][]entities.RawTx{8: block},
		accounts: map[string]*entities.AccountInfo{
			"wallet-whale": {Address: "wallet-whale", BalanceTon: 2_000_000, Status: "active", IsWallet: true},
		},
	}
	store := &fakeCursorStore{cursor: 7, has: true}
	sink := &fakeEventSink{}
	signals := &fakeSignalSink{}
	processor := newTestProcessor(chain, store, sink, signals)

	caughtUp, err := processor.runCycle(context.Background())
	require.NoError(t, err)
	require.True(t, caughtUp)

	require.Len(t, sink.alerts, 1)
	alert := sink.alerts[0]
	require.Equal(t, "tx-whale", alert.TxHash)
	require.Equal(t, entities.SeverityMedium, alert.Severity)

	// enrichment is best effort: the known party is attached, the unknown stays nil
	require.NotNil(t, alert.SourceAccount)
	require.InDelta(t, 2_000_000, alert.SourceAccount.BalanceTon, 1e-6)
	require.Nil(t, alert.DestinationAccount)

	// the whale movement and the large-transaction anomaly both became signals
	require.NotEmpty(t, signals.published)
	var types []string
	for _, signal := range signals.published {
		types = append(types, signal.SignalType)
	}
	require.Contains(t, types, "whale_accumulation")
	require.Contains(t, types, "anomaly_detection")
}

func TestProcessor_SignalEmitFailureBlocksAdvance(t *testing.T) {
	chain := &fakeChain{
		latest: 8,
		blocks: map[uint64][]entities.RawTx{
			8: {rawTransfer("tx-whale", "wallet-whale", "wallet-cold", 150_000)},
		},
	}
	store := &fakeCursorStore{cursor: 7, has: true}
	signals := &fakeSignalSink{err: errors.New("broker unavailable")}
	processor := newTestProcessor(chain, store, &fakeEventSink{}, signals)

	_, err := processor.runCycle(context.Background())
	require.Error(t, err)
	require.Equal(t, uint64(7), store.cursor)

	// the dedup key was released, so the retry emits the signal
	signals.err = nil
	_, err = processor.runCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint64{8}, store.history)
	require.NotEmpty(t, signals.published)
}

func TestNextBackoff(t *testing.T) {
	max := 60 * time.Second
	require.Equal(t, 2*time.Second, nextBackoff(time.Second, max))
	require.Equal(t, 32*time.Second, nextBackoff(16*time.Second, max))
	require.Equal(t, max, nextBackoff(32*time.Second, max))
	require.Equal(t, max, nextBackoff(max, max))
}
