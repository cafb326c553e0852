package rpc

import (
	"context"

	"ccwallet/pkg/model"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls a wallet service. Errors come back as *werr.Error values, so
// errors.Is against the werr sentinels works across the wire.
type Client struct {
	cc grpc.ClientConnInterface
}

var _ WalletServer = (*Client)(nil)

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial connects to the wallet service at target without transport security.
func Dial(target string, opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, nil, err
	}
	return NewClient(conn), conn, nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, grpc.ForceCodec(jsonCodec{}))
	return fromStatus(err)
}

func (c *Client) CreateDeposit(ctx context.Context, req *CreateDepositReq) (*model.Transaction, error) {
	out := new(model.Transaction)
	return out, c.invoke(ctx, "CreateDeposit", req, out)
}

func (c *Client) CreateWithdraw(ctx context.Context, req *CreateWithdrawReq) (*model.Transaction, error) {
	out := new(model.Transaction)
	return out, c.invoke(ctx, "CreateWithdraw", req, out)
}

func (c *Client) GetTransaction(ctx context.Context, req *GetTransactionReq) (*model.Transaction, error) {
	out := new(model.Transaction)
	return out, c.invoke(ctx, "GetTransaction", req, out)
}

func (c *Client) ListTransactions(ctx context.Context, req *ListTransactionsReq) (*TransactionsResp, error) {
	out := new(TransactionsResp)
	return out, c.invoke(ctx, "ListTransactions", req, out)
}

func (c *Client) GetBalance(ctx context.Context, req *GetBalanceReq) (*BalancesResp, error) {
	out := new(BalancesResp)
	return out, c.invoke(ctx, "GetBalance", req, out)
}

func (c *Client) Cancel(ctx context.Context, req *CancelReq) (*model.Transaction, error) {
	out := new(model.Transaction)
	return out, c.invoke(ctx, "Cancel", req, out)
}

func (c *Client) Confirm(ctx context.Context, req *ConfirmReq) (*model.Transaction, error) {
	out := new(model.Transaction)
	return out, c.invoke(ctx, "Confirm", req, out)
}

func (c *Client) Fail(ctx context.Context, req *FailReq) (*model.Transaction, error) {
	out := new(model.Transaction)
	return out, c.invoke(ctx, "Fail", req, out)
}

func (c *Client) MarkBroadcast(ctx context.Context, req *MarkBroadcastReq) (*model.Transaction, error) {
	out := new(model.Transaction)
	return out, c.invoke(ctx, "MarkBroadcast", req, out)
}

func (c *Client) ReportConfirmation(ctx context.Context, req *ReportConfirmationReq) (*model.Transaction, error) {
	out := new(model.Transaction)
	return out, c.invoke(ctx, "ReportConfirmation", req, out)
}

func (c *Client) IssueAddress(ctx context.Context, req *IssueAddressReq) (*model.Address, error) {
	out := new(model.Address)
	return out, c.invoke(ctx, "IssueAddress", req, out)
}

func (c *Client) ListAddresses(ctx context.Context, req *ListAddressesReq) (*AddressesResp, error) {
	out := new(AddressesResp)
	return out, c.invoke(ctx, "ListAddresses", req, out)
}

func (c *Client) LookupAddress(ctx context.Context, req *LookupAddressReq) (*model.Address, error) {
	out := new(model.Address)
	return out, c.invoke(ctx, "LookupAddress", req, out)
}

func (c *Client) History(ctx context.Context, req *HistoryReq) (*EventsResp, error) {
	out := new(EventsResp)
	return out, c.invoke(ctx, "History", req, out)
}

func (c *Client) Reconcile(ctx context.Context, req *ReconcileReq) (*ReconcileResp, error) {
	out := new(ReconcileResp)
	return out, c.invoke(ctx, "Reconcile", req, out)
}
