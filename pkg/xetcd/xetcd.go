package xetcd

import (
	"context"
	"errors"
	"strings"
	"time"

	"ccwallet/pkg/xlog"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

type Worker struct {
	Cli *clientv3.Client
}

var Shared *Worker
var logger = xlog.GetLogger()

var ErrNotFound = errors.New("xetcd: key not found")

func New(urls []string) (w *Worker, err error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   urls,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return
	}

	w = &Worker{
		Cli: cli,
	}

	return
}

func InitShared(urls []string) (err error) {
	Shared, err = New(urls)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = Shared.Cli.Status(ctx, urls[0])
	return
}

func SharedCli() *clientv3.Client {
	return Shared.Cli
}

func Get(k string) (v string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	defer func() {
		if err != nil {
			logger.Errorf("xetcd Get k:%s failed with err:%s", k, err)
		} else {
			logger.Debugf("xetcd Get k:%s, v:%s", k, v)
		}
		cancel()
	}()

	cli := SharedCli()
	r, err := cli.Get(ctx, k)
	if err != nil {
		return
	}
	if r.Kvs == nil || r.Count == 0 {
		err = ErrNotFound
		return
	}

	v = string(r.Kvs[0].Value)
	return
}

func Put(k string, v string) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	defer func() {
		if err != nil {
			logger.Errorf("xetcd Put k:%s, v:%s failed with err:%s", k, v, err)
		} else {
			logger.Debugf("xetcd Put k:%s, v:%s", k, v)
		}
		cancel()
	}()

	_, err = SharedCli().Put(ctx, k, v)
	return
}

// Register puts k=v under a lease kept alive until ctx is done, so the key
// disappears with the process.
func Register(ctx context.Context, k string, v string, ttl time.Duration) (err error) {
	defer func() {
		if err != nil {
			logger.Errorf("xetcd Register k:%s, v:%s failed with err:%s", k, v, err)
		} else {
			logger.Infof("xetcd Register k:%s, v:%s", k, v)
		}
	}()

	cli := SharedCli()
	lease, err := cli.Grant(ctx, int64(ttl/time.Second))
	if err != nil {
		return
	}
	_, err = cli.Put(ctx, k, v, clientv3.WithLease(lease.ID))
	if err != nil {
		return
	}
	ch, err := cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		return
	}
	go func() {
		for range ch {
		}
	}()
	return
}

func KeyWalletService(app string) string {
	return "wallet_service_" + strings.ToLower(app)
}

func KeyNatsService(stream string) string {
	return "nats_wallet_" + strings.ToLower(stream)
}

// KeySchemaRelease holds the release of the binary that last migrated the
// database.
func KeySchemaRelease() string {
	return "/ccwallet/schema_release"
}

func KeySweeperLock() string {
	return "/ccwallet/locks/sweeper"
}

// Locker is an etcd mutex held through a session lease; a crashed holder
// loses it when the lease expires.
type Locker struct {
	session *concurrency.Session
	mutex   *concurrency.Mutex
}

func NewLocker(cli *clientv3.Client, key string, ttl time.Duration) (*Locker, error) {
	session, err := concurrency.NewSession(cli, concurrency.WithTTL(int(ttl/time.Second)))
	if err != nil {
		return nil, err
	}
	return &Locker{session: session, mutex: concurrency.NewMutex(session, key)}, nil
}

// TryLock takes the mutex without waiting. ok is false when another
// process holds it.
func (l *Locker) TryLock(ctx context.Context) (unlock func(), ok bool, err error) {
	err = l.mutex.TryLock(ctx)
	if errors.Is(err, concurrency.ErrLocked) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.mutex.Unlock(ctx); err != nil {
			logger.Warningf("xetcd unlock %s failed with err:%s", l.mutex.Key(), err)
		}
	}, true, nil
}

func (l *Locker) Close() error {
	return l.session.Close()
}
