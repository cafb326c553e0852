package rpc_test

import (
	"context"
	"math/big"
	"net"
	"testing"

	"ccwallet/pkg/address"
	"ccwallet/pkg/bank"
	"ccwallet/pkg/config"
	"ccwallet/pkg/currency"
	"ccwallet/pkg/guard"
	"ccwallet/pkg/ledger"
	"ccwallet/pkg/model"
	"ccwallet/pkg/rpc"
	"ccwallet/pkg/store/memstore"
	"ccwallet/pkg/werr"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const ethAddr = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

// seqDeriver hands out 0x..01, 0x..02, ... from one keyspace.
type seqDeriver struct{}

func (seqDeriver) Keyspace(network string) (string, error) {
	return "evm", nil
}

func (seqDeriver) Derive(network string, index uint32) (string, error) {
	return common.BigToAddress(big.NewInt(int64(index) + 1)).Hex(), nil
}

func newClient(t *testing.T, rate float64, burst int) *rpc.Client {
	reg, err := currency.FromConfig([]config.Currency{{
		Symbol: "USDT", Name: "Tether", Decimals: 6,
		MinDeposit: "1", MinWithdraw: "10", MaxWithdraw: "100000", WithdrawFee: "1",
		Confirmations: 12, Networks: []string{"ERC20", "TRC20"},
	}})
	require.NoError(t, err)

	st := memstore.New()
	b := bank.New(st, reg, nil)
	l := ledger.New(st, reg, b, guard.New(reg, b, nil), nil)
	srv := rpc.NewServer(l, b, address.New(st, reg, seqDeriver{}), rate, burst)

	lis := bufconn.Listen(1 << 20)
	g := rpc.NewGRPCServer(srv)
	go g.Serve(lis)
	t.Cleanup(g.Stop)

	cli, conn, err := rpc.Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return cli
}

func fund(t *testing.T, cli *rpc.Client, owner int64, amount int64) {
	ctx := context.Background()
	dep, err := cli.CreateDeposit(ctx, &rpc.CreateDepositReq{Owner: owner, Coin: "usdt", Network: "erc20", Amount: decimal.NewFromInt(amount)})
	require.NoError(t, err)
	require.Equal(t, model.TxStatusPending, dep.Status)

	dep, err = cli.ReportConfirmation(ctx, &rpc.ReportConfirmationReq{ID: dep.ID, Confirmations: 12, TxHash: "0xdeposit-" + dep.ID})
	require.NoError(t, err)
	require.Equal(t, model.TxStatusConfirmed, dep.Status)
}

func balance(t *testing.T, cli *rpc.Client, owner int64) bank.Balance {
	resp, err := cli.GetBalance(context.Background(), &rpc.GetBalanceReq{Owner: owner, Coin: "USDT"})
	require.NoError(t, err)
	require.Len(t, resp.Balances, 1)
	return resp.Balances[0]
}

func TestWithdrawFlow(t *testing.T) {
	cli := newClient(t, 0, 0)
	ctx := context.Background()
	fund(t, cli, 7, 100)

	w, err := cli.CreateWithdraw(ctx, &rpc.CreateWithdrawReq{Owner: 7, Coin: "USDT", Network: "ERC20", Address: ethAddr, Amount: decimal.NewFromInt(40)})
	require.NoError(t, err)
	require.Equal(t, "1", w.Fee.String())

	b := balance(t, cli, 7)
	require.Equal(t, "59", b.Available.String())
	require.Equal(t, "41", b.Frozen.String())

	_, err = cli.MarkBroadcast(ctx, &rpc.MarkBroadcastReq{ID: w.ID, TxHash: "0xsent"})
	require.NoError(t, err)
	w, err = cli.Confirm(ctx, &rpc.ConfirmReq{ID: w.ID})
	require.NoError(t, err)
	require.Equal(t, model.TxStatusConfirmed, w.Status)

	b = balance(t, cli, 7)
	require.Equal(t, "59", b.Available.String())
	require.True(t, b.Frozen.IsZero())

	got, err := cli.GetTransaction(ctx, &rpc.GetTransactionReq{ID: w.ID, Owner: 7})
	require.NoError(t, err)
	require.Equal(t, "0xsent", got.TxHash)

	_, err = cli.GetTransaction(ctx, &rpc.GetTransactionReq{ID: w.ID, Owner: 8})
	require.ErrorIs(t, err, werr.ErrNotFound)

	list, err := cli.ListTransactions(ctx, &rpc.ListTransactionsReq{Owner: 7})
	require.NoError(t, err)
	require.Len(t, list.Transactions, 2)

	list, err = cli.ListTransactions(ctx, &rpc.ListTransactionsReq{Owner: 7, Type: model.TxTypeWithdraw})
	require.NoError(t, err)
	require.Len(t, list.Transactions, 1)
}

func TestCancelAndFail(t *testing.T) {
	cli := newClient(t, 0, 0)
	ctx := context.Background()
	fund(t, cli, 7, 100)

	w1, err := cli.CreateWithdraw(ctx, &rpc.CreateWithdrawReq{Owner: 7, Coin: "USDT", Network: "ERC20", Address: ethAddr, Amount: decimal.NewFromInt(20)})
	require.NoError(t, err)
	w2, err := cli.CreateWithdraw(ctx, &rpc.CreateWithdrawReq{Owner: 7, Coin: "USDT", Network: "ERC20", Address: ethAddr, Amount: decimal.NewFromInt(20)})
	require.NoError(t, err)
	require.Equal(t, "42", balance(t, cli, 7).Frozen.String())

	_, err = cli.Cancel(ctx, &rpc.CancelReq{ID: w1.ID, Owner: 8})
	require.ErrorIs(t, err, werr.ErrNotFound)

	w1, err = cli.Cancel(ctx, &rpc.CancelReq{ID: w1.ID, Owner: 7, Reason: "changed my mind"})
	require.NoError(t, err)
	require.Equal(t, model.TxStatusCancelled, w1.Status)

	_, err = cli.MarkBroadcast(ctx, &rpc.MarkBroadcastReq{ID: w2.ID, TxHash: "0xsent"})
	require.NoError(t, err)
	_, err = cli.Cancel(ctx, &rpc.CancelReq{ID: w2.ID, Owner: 7})
	require.ErrorIs(t, err, werr.ErrCancelAfterBroadcast)

	w2, err = cli.Fail(ctx, &rpc.FailReq{ID: w2.ID, Reason: "reverted"})
	require.NoError(t, err)
	require.Equal(t, model.TxStatusFailed, w2.Status)

	b := balance(t, cli, 7)
	require.Equal(t, "100", b.Available.String())
	require.True(t, b.Frozen.IsZero())

	_, err = cli.Confirm(ctx, &rpc.ConfirmReq{ID: w2.ID})
	require.ErrorIs(t, err, werr.ErrInvalidTransition)
}

func TestErrorsKeepTheirCode(t *testing.T) {
	cli := newClient(t, 0, 0)
	ctx := context.Background()
	fund(t, cli, 7, 100)

	_, err := cli.CreateWithdraw(ctx, &rpc.CreateWithdrawReq{Owner: 7, Coin: "USDT", Network: "ERC20", Address: ethAddr, Amount: decimal.NewFromInt(100)})
	require.ErrorIs(t, err, werr.ErrInsufficientFunds)

	_, err = cli.CreateWithdraw(ctx, &rpc.CreateWithdrawReq{Owner: 7, Coin: "DOGE", Network: "ERC20", Address: ethAddr, Amount: decimal.NewFromInt(20)})
	require.ErrorIs(t, err, werr.ErrUnsupportedCurrency)

	_, err = cli.CreateWithdraw(ctx, &rpc.CreateWithdrawReq{Owner: 7, Coin: "USDT", Network: "ERC20", Address: "0x123", Amount: decimal.NewFromInt(20)})
	require.ErrorIs(t, err, werr.ErrInvalidAddress)

	_, err = cli.CreateWithdraw(ctx, &rpc.CreateWithdrawReq{Coin: "USDT", Network: "ERC20", Address: ethAddr, Amount: decimal.NewFromInt(20)})
	require.ErrorIs(t, err, werr.ErrValidation)
	require.Contains(t, err.Error(), "owner")

	_, err = cli.GetTransaction(ctx, &rpc.GetTransactionReq{ID: "missing"})
	require.ErrorIs(t, err, werr.ErrNotFound)

	_, err = cli.ReportConfirmation(ctx, &rpc.ReportConfirmationReq{ID: "x", Confirmations: -1})
	require.ErrorIs(t, err, werr.ErrValidation)

	_, err = cli.ListTransactions(ctx, &rpc.ListTransactionsReq{Owner: 7, Status: "lost"})
	require.ErrorIs(t, err, werr.ErrValidation)
}

func TestWithdrawRateLimit(t *testing.T) {
	cli := newClient(t, 0.001, 2)
	ctx := context.Background()
	fund(t, cli, 7, 100)
	fund(t, cli, 9, 100)

	req := &rpc.CreateWithdrawReq{Owner: 7, Coin: "USDT", Network: "ERC20", Address: ethAddr, Amount: decimal.NewFromInt(10)}
	for i := 0; i < 2; i++ {
		_, err := cli.CreateWithdraw(ctx, req)
		require.NoError(t, err)
	}
	_, err := cli.CreateWithdraw(ctx, req)
	require.ErrorIs(t, err, werr.ErrRateLimited)

	req.Owner = 9
	_, err = cli.CreateWithdraw(ctx, req)
	require.NoError(t, err)

	require.Equal(t, "22", balance(t, cli, 7).Frozen.String())
}

func TestAddresses(t *testing.T) {
	cli := newClient(t, 0, 0)
	ctx := context.Background()

	a1, err := cli.IssueAddress(ctx, &rpc.IssueAddressReq{Owner: 7, Coin: "USDT", Network: "ERC20"})
	require.NoError(t, err)
	require.True(t, a1.Active)

	again, err := cli.IssueAddress(ctx, &rpc.IssueAddressReq{Owner: 7, Coin: "USDT", Network: "ERC20"})
	require.NoError(t, err)
	require.Equal(t, a1.Address, again.Address)

	a2, err := cli.IssueAddress(ctx, &rpc.IssueAddressReq{Owner: 7, Coin: "USDT", Network: "ERC20", Rotate: true})
	require.NoError(t, err)
	require.NotEqual(t, a1.Address, a2.Address)

	list, err := cli.ListAddresses(ctx, &rpc.ListAddressesReq{Owner: 7})
	require.NoError(t, err)
	require.Len(t, list.Addresses, 2)

	_, err = cli.IssueAddress(ctx, &rpc.IssueAddressReq{Owner: 7, Coin: "USDT", Network: "BTC"})
	require.ErrorIs(t, err, werr.ErrInvalidNetwork)
}

func TestHistoryAndReconcile(t *testing.T) {
	cli := newClient(t, 0, 0)
	ctx := context.Background()
	fund(t, cli, 7, 100)

	w, err := cli.CreateWithdraw(ctx, &rpc.CreateWithdrawReq{Owner: 7, Coin: "USDT", Network: "ERC20", Address: ethAddr, Amount: decimal.NewFromInt(40)})
	require.NoError(t, err)
	_, err = cli.Fail(ctx, &rpc.FailReq{ID: w.ID, Reason: "node rejected"})
	require.NoError(t, err)

	hist, err := cli.History(ctx, &rpc.HistoryReq{ID: w.ID, Owner: 7})
	require.NoError(t, err)
	require.Len(t, hist.Events, 2)
	require.Equal(t, model.EventCreated, hist.Events[0].Kind)
	require.Equal(t, model.EventFailed, hist.Events[1].Kind)
	require.Equal(t, "41", hist.Events[1].FreeChange.String())

	_, err = cli.History(ctx, &rpc.HistoryReq{ID: w.ID, Owner: 8})
	require.ErrorIs(t, err, werr.ErrNotFound)

	rep, err := cli.Reconcile(ctx, &rpc.ReconcileReq{Owner: 7, Coin: "usdt"})
	require.NoError(t, err)
	require.True(t, rep.Balanced)
	require.Equal(t, "USDT", rep.Report.Coin)
	require.Equal(t, "100", rep.Report.Deposited.String())
	require.Equal(t, "100", rep.Report.Total.String())

	_, err = cli.Reconcile(ctx, &rpc.ReconcileReq{Owner: 7, Coin: "DOGE"})
	require.ErrorIs(t, err, werr.ErrUnsupportedCurrency)
}

func TestLookupAddress(t *testing.T) {
	cli := newClient(t, 0, 0)
	ctx := context.Background()

	a, err := cli.IssueAddress(ctx, &rpc.IssueAddressReq{Owner: 7, Coin: "USDT", Network: "ERC20"})
	require.NoError(t, err)

	got, err := cli.LookupAddress(ctx, &rpc.LookupAddressReq{Network: "erc20", Address: a.Address})
	require.NoError(t, err)
	require.Equal(t, int64(7), got.Owner)
	require.Equal(t, a.Address, got.Address)

	_, err = cli.LookupAddress(ctx, &rpc.LookupAddressReq{Network: "ERC20", Address: ethAddr})
	require.ErrorIs(t, err, werr.ErrNotFound)
}

func TestDuplicateDepositHash(t *testing.T) {
	cli := newClient(t, 0, 0)
	ctx := context.Background()
	req := &rpc.CreateDepositReq{Owner: 7, Coin: "USDT", Network: "ERC20", Address: ethAddr, Amount: decimal.NewFromInt(50), TxHash: "0xsame"}

	first, err := cli.CreateDeposit(ctx, req)
	require.NoError(t, err)
	again, err := cli.CreateDeposit(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	req.Owner = 9
	_, err = cli.CreateDeposit(ctx, req)
	require.ErrorIs(t, err, werr.ErrDuplicateDeposit)
}
