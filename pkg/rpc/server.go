// Package rpc serves the wallet over grpc.
//
// Messages are the plain structs of this package encoded with a JSON codec,
// so the service is described by hand instead of generated from protobuf.
// Errors leave as grpc statuses whose message starts with the stable wallet
// code, e.g. "INSUFFICIENT_FUNDS: insufficient available balance".
package rpc

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"

	"ccwallet/pkg/address"
	"ccwallet/pkg/bank"
	"ccwallet/pkg/ledger"
	"ccwallet/pkg/metrics"
	"ccwallet/pkg/model"
	"ccwallet/pkg/store"
	"ccwallet/pkg/werr"
	"ccwallet/pkg/xlog"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc"
)

var logger = xlog.GetLogger()

const ServiceName = "ccwallet.Wallet"

// WalletServer is the service implemented by Server.
type WalletServer interface {
	CreateDeposit(ctx context.Context, req *CreateDepositReq) (*model.Transaction, error)
	CreateWithdraw(ctx context.Context, req *CreateWithdrawReq) (*model.Transaction, error)
	GetTransaction(ctx context.Context, req *GetTransactionReq) (*model.Transaction, error)
	ListTransactions(ctx context.Context, req *ListTransactionsReq) (*TransactionsResp, error)
	GetBalance(ctx context.Context, req *GetBalanceReq) (*BalancesResp, error)
	Cancel(ctx context.Context, req *CancelReq) (*model.Transaction, error)
	Confirm(ctx context.Context, req *ConfirmReq) (*model.Transaction, error)
	Fail(ctx context.Context, req *FailReq) (*model.Transaction, error)
	MarkBroadcast(ctx context.Context, req *MarkBroadcastReq) (*model.Transaction, error)
	ReportConfirmation(ctx context.Context, req *ReportConfirmationReq) (*model.Transaction, error)
	IssueAddress(ctx context.Context, req *IssueAddressReq) (*model.Address, error)
	ListAddresses(ctx context.Context, req *ListAddressesReq) (*AddressesResp, error)
	LookupAddress(ctx context.Context, req *LookupAddressReq) (*model.Address, error)
	History(ctx context.Context, req *HistoryReq) (*EventsResp, error)
	Reconcile(ctx context.Context, req *ReconcileReq) (*ReconcileResp, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WalletServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateDeposit", WalletServer.CreateDeposit),
		unary("CreateWithdraw", WalletServer.CreateWithdraw),
		unary("GetTransaction", WalletServer.GetTransaction),
		unary("ListTransactions", WalletServer.ListTransactions),
		unary("GetBalance", WalletServer.GetBalance),
		unary("Cancel", WalletServer.Cancel),
		unary("Confirm", WalletServer.Confirm),
		unary("Fail", WalletServer.Fail),
		unary("MarkBroadcast", WalletServer.MarkBroadcast),
		unary("ReportConfirmation", WalletServer.ReportConfirmation),
		unary("IssueAddress", WalletServer.IssueAddress),
		unary("ListAddresses", WalletServer.ListAddresses),
		unary("LookupAddress", WalletServer.LookupAddress),
		unary("History", WalletServer.History),
		unary("Reconcile", WalletServer.Reconcile),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wallet",
}

func unary[Req, Resp any](name string, call func(WalletServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(WalletServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(WalletServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check validates req; the first failing field is reported.
func check(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		return werr.WithDetails(werr.New(werr.ErrValidation, "invalid request"), map[string]string{
			"field": fields[0].Field(),
			"rule":  fields[0].Tag(),
		})
	}
	return werr.Wrap(werr.ErrValidation, err)
}

type Server struct {
	ledger *ledger.Ledger
	bank   *bank.Bank
	addr   *address.Allocator // nil without configured xpubs
	limit  *limiter
}

var _ WalletServer = (*Server)(nil)

// NewServer builds the service; withdrawRate requests per second and user
// with burst withdrawBurst, a zero rate disables the limit.
func NewServer(l *ledger.Ledger, b *bank.Bank, a *address.Allocator, withdrawRate float64, withdrawBurst int) *Server {
	return &Server{ledger: l, bank: b, addr: a, limit: newLimiter(withdrawRate, withdrawBurst)}
}

// NewGRPCServer registers s on a new grpc server.
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(recovery, errorStatus))
	g := grpc.NewServer(opts...)
	g.RegisterService(&ServiceDesc, s)
	return g
}

func recovery(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Alertf("%s panicked: %v", info.FullMethod, r)
			err = werr.Newf(werr.ErrInternal, "panic: %v", r)
		}
	}()
	return handler(ctx, req)
}

func errorStatus(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		logger.Debugf("%s failed in %s with err:%s", info.FullMethod, time.Since(start), err)
		return nil, toStatus(err)
	}
	logger.Tracef("%s done in %s", info.FullMethod, time.Since(start))
	return resp, nil
}

func (s *Server) CreateDeposit(ctx context.Context, req *CreateDepositReq) (*model.Transaction, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	t, err := s.ledger.CreateDeposit(ctx, ledger.Request{
		Type: model.TxTypeDeposit, Owner: req.Owner, Coin: req.Coin, Network: req.Network,
		Address: req.Address, Amount: req.Amount, TxHash: req.TxHash, Note: req.Note,
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Server) CreateWithdraw(ctx context.Context, req *CreateWithdrawReq) (*model.Transaction, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	if !s.limit.Allow(req.Owner) {
		metrics.Rejections.WithLabelValues("withdraw", werr.ErrRateLimited.Code).Inc()
		logger.Warningf("withdraw of owner:%d rate limited", req.Owner)
		return nil, werr.WithDetails(werr.ErrRateLimited, map[string]string{"owner": strconv.FormatInt(req.Owner, 10)})
	}
	t, err := s.ledger.CreateWithdrawal(ctx, ledger.Request{
		Type: model.TxTypeWithdraw, Owner: req.Owner, Coin: req.Coin, Network: req.Network,
		Address: req.Address, Amount: req.Amount, Note: req.Note,
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Server) GetTransaction(ctx context.Context, req *GetTransactionReq) (*model.Transaction, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	t, err := s.ledger.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if req.Owner != 0 && t.Owner != req.Owner {
		return nil, werr.WithDetails(werr.ErrNotFound, map[string]string{"id": req.ID})
	}
	return &t, nil
}

func (s *Server) ListTransactions(ctx context.Context, req *ListTransactionsReq) (*TransactionsResp, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	f := store.Filter{Coin: req.Coin, Type: req.Type, Status: req.Status, Limit: req.Limit, Offset: req.Offset}
	if req.Start > 0 {
		f.Start = time.Unix(req.Start, 0)
	}
	if req.End > 0 {
		f.End = time.Unix(req.End, 0)
	}
	list, err := s.ledger.ListByUser(ctx, req.Owner, f)
	if err != nil {
		return nil, err
	}
	return &TransactionsResp{Transactions: list}, nil
}

func (s *Server) GetBalance(ctx context.Context, req *GetBalanceReq) (*BalancesResp, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	if req.Coin == "" {
		list, err := s.bank.ListBalances(ctx, req.Owner)
		if err != nil {
			return nil, err
		}
		return &BalancesResp{Balances: list}, nil
	}
	b, err := s.bank.GetBalance(ctx, req.Owner, req.Coin)
	if err != nil {
		return nil, err
	}
	return &BalancesResp{Balances: []bank.Balance{b}}, nil
}

func (s *Server) Cancel(ctx context.Context, req *CancelReq) (*model.Transaction, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	return result(s.ledger.Cancel(ctx, req.ID, req.Owner, req.Reason))
}

func (s *Server) Confirm(ctx context.Context, req *ConfirmReq) (*model.Transaction, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	return result(s.ledger.Confirm(ctx, req.ID, req.TxHash))
}

func (s *Server) Fail(ctx context.Context, req *FailReq) (*model.Transaction, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	return result(s.ledger.Fail(ctx, req.ID, req.Reason))
}

func (s *Server) MarkBroadcast(ctx context.Context, req *MarkBroadcastReq) (*model.Transaction, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	return result(s.ledger.MarkBroadcast(ctx, req.ID, req.TxHash))
}

func (s *Server) ReportConfirmation(ctx context.Context, req *ReportConfirmationReq) (*model.Transaction, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	return result(s.ledger.ReportConfirmation(ctx, req.ID, req.Confirmations, req.TxHash))
}

func (s *Server) IssueAddress(ctx context.Context, req *IssueAddressReq) (*model.Address, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	if s.addr == nil {
		return nil, werr.New(werr.ErrInvalidNetwork, "no deposit addresses configured")
	}
	issue := s.addr.Issue
	if req.Rotate {
		issue = s.addr.Rotate
	}
	a, err := issue(ctx, req.Owner, req.Coin, req.Network)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Server) ListAddresses(ctx context.Context, req *ListAddressesReq) (*AddressesResp, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	if s.addr == nil {
		return &AddressesResp{}, nil
	}
	list, err := s.addr.List(ctx, req.Owner, req.Coin)
	if err != nil {
		return nil, err
	}
	return &AddressesResp{Addresses: list}, nil
}

// LookupAddress finds whose deposit address a chain address is.
func (s *Server) LookupAddress(ctx context.Context, req *LookupAddressReq) (*model.Address, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	if s.addr == nil {
		return nil, werr.WithDetails(werr.ErrNotFound, map[string]string{"address": req.Address})
	}
	a, err := s.addr.Lookup(ctx, req.Network, req.Address)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Server) History(ctx context.Context, req *HistoryReq) (*EventsResp, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	if req.Owner != 0 {
		t, err := s.ledger.Get(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		if t.Owner != req.Owner {
			return nil, werr.WithDetails(werr.ErrNotFound, map[string]string{"id": req.ID})
		}
	}
	list, err := s.ledger.History(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &EventsResp{Events: list}, nil
}

// Reconcile answers with the report even when the books disagree; the
// ledger has already raised the alert.
func (s *Server) Reconcile(ctx context.Context, req *ReconcileReq) (*ReconcileResp, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	rep, err := s.ledger.Reconcile(ctx, req.Owner, req.Coin)
	if err != nil && !errors.Is(err, werr.ErrInvariantViolation) {
		return nil, err
	}
	return &ReconcileResp{Report: rep, Balanced: err == nil}, nil
}

func result(t model.Transaction, err error) (*model.Transaction, error) {
	if err != nil {
		return nil, err
	}
	return &t, nil
}
