package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"ccwallet/pkg/address"
	"ccwallet/pkg/bank"
	"ccwallet/pkg/config"
	"ccwallet/pkg/currency"
	"ccwallet/pkg/guard"
	"ccwallet/pkg/info"
	"ccwallet/pkg/journal"
	"ccwallet/pkg/kyc"
	"ccwallet/pkg/ledger"
	"ccwallet/pkg/metrics"
	"ccwallet/pkg/model"
	"ccwallet/pkg/relay"
	"ccwallet/pkg/rpc"
	"ccwallet/pkg/store/gormstore"
	"ccwallet/pkg/sweeper"
	"ccwallet/pkg/xetcd"
	"ccwallet/pkg/xlog"
	"ccwallet/pkg/xnats"
)

var logger = xlog.GetLogger()

var (
	fApp     string
	fLogDir  string
	fLogFile string
)

var (
	apps = map[string]bool{"wallet": true, "relay": true, "migrate": true}
)

func init() {
	flag.StringVar(&fApp, "app", "", "wallet | relay | migrate")
	flag.StringVar(&fLogDir, "logdir", "", "")
	flag.StringVar(&fLogFile, "logfile", "", "")
}

func main() {
	var err error
	flag.Parse()

	if !apps[fApp] {
		validApps := ""
		for k := range apps {
			validApps += k + ", "
		}
		panic("invalid app, only (" + strings.TrimSuffix(validApps, ", ") + ") avaliable")
	}

	// Initialize the Shared config
	config.EasyInit()

	// Initialize the logger
	if fLogDir == "" {
		fLogDir = filepath.Join(config.Shared.DataDir, "logs")
	}
	if fLogFile == "" {
		fLogFile = fApp + ".log"
	}
	logPath := filepath.Join(fLogDir, fLogFile)
	xlog.Init(fApp, logPath)
	xlog.SetAlertHook(func(string) { metrics.Alerts.Inc() })
	logger.Infof("%s started, %s", fApp, info.Summary())
	logger.Infof("xlog in %s", logPath)

	// Handle signals
	go handleSignals()

	// Initialize the etcd instance, optional for a single node
	if config.Shared.Etcd.Main.Enable {
		err = xetcd.InitShared([]string{config.Shared.Etcd.Main.Url})
		if err != nil {
			logger.Errorf("xetcd.InitShared failed with err:%s", err)
			panic(err)
		}
	}

	// Initialize the database instances(mysql or sqlite, redis)
	// fatal if failed
	model.DBInit()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the app
	switch fApp {
	case "wallet":
		err = startWallet(ctx)
	case "relay":
		err = startRelay(ctx)
	case "migrate":
		err = migrate()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(err)
		panic(err)
	}
	logger.Infof("%s stopped", fApp)
}

// handleSignals handles linux signals
//
//	Function 1: Change log level via SIGUSR1 signal
//		docker exec <container_id> sh -c 'export WALLET_LOG_LVL=TRACE && kill -SIGUSR1 1'
//		without WALLET_LOG_LVL every SIGUSR1 moves to the next level
func handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGUSR1)

	for range sigChan {
		if level := os.Getenv("WALLET_LOG_LVL"); level != "" {
			logger.SetLevel(level)
			continue
		}
		logger.Infof("log level cycled to %s via signal", logger.CycleLevel())
	}
}

// startWallet serves the wallet over grpc, exposes metrics and runs the
// overdue sweeper.
func startWallet(ctx context.Context) (err error) {
	cfg := config.Shared.Wallet

	reg, err := currency.FromConfig(cfg.Currencies)
	if err != nil {
		return
	}
	logger.Infof("currencies: %s", strings.Join(reg.Symbols(), ", "))

	st := gormstore.New(model.GetDB())

	var cache *bank.Cache
	var kycRedis kyc.Getter
	if rds := model.GetRedis(); rds != nil {
		cache = bank.NewCache(rds, cfg.CacheTTL)
		kycRedis = rds
	}
	b := bank.New(st, reg, cache)

	var kp kyc.Provider
	if cfg.Kyc.Enabled {
		kp, err = kyc.FromConfig(cfg.Kyc, kycRedis)
		if err != nil {
			return
		}
	}

	jn, err := journal.Open(cfg.JournalFile)
	if err != nil {
		return
	}
	defer jn.Close()
	logger.Infof("journal %s at seq %d", cfg.JournalFile, jn.LastSeq())

	l := ledger.New(st, reg, b, guard.New(reg, b, kp), jn)

	var alloc *address.Allocator
	if len(cfg.Address.Xpubs) > 0 {
		hd, err := address.NewHD(cfg.Address.Xpubs)
		if err != nil {
			return err
		}
		alloc = address.New(st, reg, hd)
	} else {
		logger.Warningf("no xpub configured, deposit addresses are disabled")
	}

	// Metrics
	if addr := config.Shared.Grpc.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		ms := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Infof("metrics listening on %s", addr)
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("metrics server failed with err:%s", err)
			}
		}()
		defer ms.Close()
	}

	// Sweeper, one replica at a time when etcd is there
	var lock sweeper.Locker
	if xetcd.Shared != nil {
		locker, err := xetcd.NewLocker(xetcd.SharedCli(), xetcd.KeySweeperLock(), 30*time.Second)
		if err != nil {
			return err
		}
		defer locker.Close()
		lock = locker
	}
	go sweeper.New(l, lock, cfg.ReviewAfter, cfg.SweepInterval).Run(ctx)

	// gRPC
	lis, err := net.Listen("tcp", config.Shared.Grpc.Addr)
	if err != nil {
		return
	}
	g := rpc.NewGRPCServer(rpc.NewServer(l, b, alloc, cfg.WithdrawRate, cfg.WithdrawBurst))
	go func() {
		<-ctx.Done()
		logger.Infof("grpc stopping")
		g.GracefulStop()
	}()

	if xetcd.Shared != nil {
		if err = xetcd.Register(ctx, xetcd.KeyWalletService(fApp), lis.Addr().String(), 10*time.Second); err != nil {
			return
		}
	}

	logger.Infof("grpc listening on %s", lis.Addr())
	return g.Serve(lis)
}

// startRelay publishes the journal to nats until stopped.
func startRelay(ctx context.Context) (err error) {
	stream := config.Shared.Nats.Stream

	url, err := natsURL(stream)
	if err != nil {
		return
	}
	nc, js, err := xnats.Connect(url)
	if err != nil {
		return
	}
	defer nc.Close()

	if err = xnats.EnsureStream(js, stream); err != nil {
		return
	}

	st := gormstore.New(model.GetDB())
	r, err := relay.New(st, xnats.NewPublisher(js, stream), config.Shared.Wallet.JournalFile)
	if err != nil {
		return err
	}
	return r.Run(ctx)
}

// natsURL prefers the configured url and falls back to the one announced in
// etcd, waiting up to 10s for it to appear.
func natsURL(stream string) (url string, err error) {
	if config.Shared.Nats.Url != "" {
		return config.Shared.Nats.Url, nil
	}
	if xetcd.Shared == nil {
		return "", errors.New("nats.url is empty and etcd is disabled")
	}

	for i := 0; i < 100; i++ {
		url, err = xetcd.Get(xetcd.KeyNatsService(stream))
		if err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	return
}
