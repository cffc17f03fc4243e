package listener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"

	"github.com/spoutfi/rwa/backend/internal/config"
	"github.com/spoutfi/rwa/backend/internal/spout"
	"github.com/spoutfi/rwa/backend/internal/store"
)

type fakeTransactionLog struct {
	// Newest first, matching getSignaturesForAddress.
	signatures   []*rpc.TransactionSignature
	transactions map[solana.Signature]*rpc.GetTransactionResult
	failures     map[solana.Signature]error
}

func newFakeTransactionLog() *fakeTransactionLog {
	return &fakeTransactionLog{
		transactions: map[solana.Signature]*rpc.GetTransactionResult{},
		failures:     map[solana.Signature]error{},
	}
}

func (f *fakeTransactionLog) GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	var out []*rpc.TransactionSignature
	for _, item := range f.signatures {
		if opts != nil && item.Signature == opts.Until {
			break
		}
		out = append(out, item)
	}
	return out, nil
}

func (f *fakeTransactionLog) GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	if err, ok := f.failures[signature]; ok {
		return nil, err
	}
	tx, ok := f.transactions[signature]
	if !ok {
		return nil, errors.New("transaction not found")
	}
	return tx, nil
}

type fakeOrderStore struct {
	lastSignature string
	orders        map[string]store.OrderRecord
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: map[string]store.OrderRecord{}}
}

func (f *fakeOrderStore) GetLastSignature(ctx context.Context) (string, error) {
	return f.lastSignature, nil
}

func (f *fakeOrderStore) WithTx(ctx context.Context, fn func(*store.Tx) error) error {
	return fn(nil)
}

func (f *fakeOrderStore) UpsertOrderTx(ctx context.Context, tx *store.Tx, order store.OrderRecord) error {
	f.orders[order.Signature] = order
	return nil
}

func (f *fakeOrderStore) UpsertSyncStateTx(ctx context.Context, tx *store.Tx, lastSignature string) error {
	f.lastSignature = lastSignature
	return nil
}

func (f *fakeOrderStore) ListPendingOrders(ctx context.Context, limit int) ([]store.OrderView, error) {
	return nil, nil
}

func (f *fakeOrderStore) MarkOrderFulfilledTx(ctx context.Context, tx *store.Tx, signature string, fulfillmentSignature string) error {
	return nil
}

func newTestService(log *fakeTransactionLog, st *fakeOrderStore) *Service {
	return &Service{
		cfg: config.ListenerConfig{
			ProgramID:           solana.NewWallet().PublicKey(),
			Commitment:          rpc.CommitmentConfirmed,
			SignatureBatchLimit: 100,
		},
		rpc:    log,
		store:  st,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func testSignature(fill byte) solana.Signature {
	var sig solana.Signature
	for i := range sig {
		sig[i] = fill
	}
	return sig
}

func orderEventLine(t *testing.T, ticker string) string {
	t.Helper()
	line, err := spout.EncodeOrderEvent(spout.OrderEvent{
		Side:            spout.OrderSideBuy,
		User:            solana.NewWallet().PublicKey(),
		Ticker:          ticker,
		UsdcAmount:      1_000_000,
		AssetAmount:     1_000_000,
		Price:           1_000_000,
		OracleTimestamp: 1_700_000_000,
	})
	require.NoError(t, err)
	return line
}

func transactionWithLogs(logs ...string) *rpc.GetTransactionResult {
	blockTime := solana.UnixTimeSeconds(1_700_000_000)
	return &rpc.GetTransactionResult{
		BlockTime: &blockTime,
		Meta:      &rpc.TransactionMeta{LogMessages: logs},
	}
}

// A transaction that cannot be read must abort the whole batch: if a later
// signature were stored first, the cursor would move past the unread
// transaction and its order events would be unrecoverable.
func TestIngestAbortsBatchWhenTransactionReadFails(t *testing.T) {
	older := testSignature(1)
	newer := testSignature(2)

	log := newFakeTransactionLog()
	log.signatures = []*rpc.TransactionSignature{
		{Signature: newer, Slot: 11},
		{Signature: older, Slot: 10},
	}
	log.failures[older] = errors.New("node is behind")
	log.transactions[newer] = transactionWithLogs(orderEventLine(t, "TSLA"))

	st := newFakeOrderStore()
	svc := newTestService(log, st)

	err := svc.ingestSignatures(context.Background())
	require.Error(t, err)
	require.Empty(t, st.orders, "nothing may be stored once the batch aborts")
	require.Empty(t, st.lastSignature, "cursor must stay behind the unread transaction")

	// The node catches up; the next tick replays the same range completely.
	delete(log.failures, older)
	log.transactions[older] = transactionWithLogs(orderEventLine(t, "AAPL"))

	require.NoError(t, svc.ingestSignatures(context.Background()))
	require.Len(t, st.orders, 2)
	require.Contains(t, st.orders, older.String())
	require.Contains(t, st.orders, newer.String())
	require.Equal(t, newer.String(), st.lastSignature)
}

func TestIngestAdvancesPastOnChainFailedTransaction(t *testing.T) {
	failed := testSignature(3)

	log := newFakeTransactionLog()
	log.signatures = []*rpc.TransactionSignature{
		{Signature: failed, Slot: 12, Err: map[string]any{"InstructionError": 0}},
	}

	st := newFakeOrderStore()
	svc := newTestService(log, st)

	require.NoError(t, svc.ingestSignatures(context.Background()))
	require.Empty(t, st.orders)
	require.Equal(t, failed.String(), st.lastSignature)
}

func TestIngestKeysMultipleEventsBySignatureIndex(t *testing.T) {
	sig := testSignature(4)

	log := newFakeTransactionLog()
	log.signatures = []*rpc.TransactionSignature{{Signature: sig, Slot: 13}}
	log.transactions[sig] = transactionWithLogs(
		orderEventLine(t, "TSLA"),
		orderEventLine(t, "AAPL"),
	)

	st := newFakeOrderStore()
	svc := newTestService(log, st)

	require.NoError(t, svc.ingestSignatures(context.Background()))
	require.Len(t, st.orders, 2)
	require.Contains(t, st.orders, sig.String())
	require.Contains(t, st.orders, sig.String()+":1")
	require.Equal(t, sig.String(), st.lastSignature)
}

func TestIngestResumesAfterStoredCursor(t *testing.T) {
	older := testSignature(5)
	newer := testSignature(6)

	log := newFakeTransactionLog()
	log.signatures = []*rpc.TransactionSignature{
		{Signature: newer, Slot: 15},
		{Signature: older, Slot: 14},
	}
	log.transactions[newer] = transactionWithLogs(orderEventLine(t, "TSLA"))

	st := newFakeOrderStore()
	st.lastSignature = older.String()
	svc := newTestService(log, st)

	require.NoError(t, svc.ingestSignatures(context.Background()))
	require.Len(t, st.orders, 1)
	require.Contains(t, st.orders, newer.String())
	require.Equal(t, newer.String(), st.lastSignature)
}
