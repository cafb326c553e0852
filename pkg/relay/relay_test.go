package relay_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ccwallet/pkg/journal"
	"ccwallet/pkg/relay"
	"ccwallet/pkg/store/memstore"
	"ccwallet/pkg/xnats"

	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu    sync.Mutex
	fails int
	msgs  []xnats.EventMsg
}

func (f *fakePublisher) Publish(ctx context.Context, msg xnats.EventMsg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("nats: no responders available for request")
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakePublisher) seqs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, m := range f.msgs {
		out = append(out, m.Seq)
	}
	return out
}

func appendKinds(t *testing.T, j *journal.Journal, kinds ...string) {
	for _, k := range kinds {
		_, err := j.Append(journal.Entry{EventID: k, TxID: "tx", Coin: "USDT", Kind: k, At: time.Now()})
		require.NoError(t, err)
	}
}

func start(t *testing.T, r *relay.Relay) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("relay did not stop")
		}
	}
}

func TestRelay(t *testing.T) {
	p := filepath.Join(t.TempDir(), "wallet.log")
	j, err := journal.Open(p)
	require.NoError(t, err)
	defer j.Close()
	appendKinds(t, j, "a", "b", "c")

	st := memstore.New()
	pub := &fakePublisher{fails: 2}
	r, err := relay.New(st, pub, p)
	require.NoError(t, err)
	r.RetryWait = 10 * time.Millisecond

	ctx := context.Background()
	stop := start(t, r)
	require.Eventually(t, func() bool {
		seq, err := r.Progress(ctx)
		return err == nil && seq == 3
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []int64{1, 2, 3}, pub.seqs())

	appendKinds(t, j, "d")
	require.Eventually(t, func() bool {
		seq, _ := r.Progress(ctx)
		return seq == 4
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	// a restart resumes after the saved seq
	appendKinds(t, j, "e")
	stop = start(t, r)
	require.Eventually(t, func() bool {
		seq, _ := r.Progress(ctx)
		return seq == 5
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	require.Equal(t, []int64{1, 2, 3, 4, 5}, pub.seqs())
	pub.mu.Lock()
	require.Equal(t, "e", pub.msgs[4].Kind)
	require.Equal(t, "USDT", pub.msgs[4].Coin)
	pub.mu.Unlock()
}

func TestRelaysShareStore(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	var (
		relays []*relay.Relay
		pubs   []*fakePublisher
	)
	for i, kinds := range [][]string{{"a", "b", "c"}, {"x"}} {
		p := filepath.Join(t.TempDir(), "wallet.log")
		j, err := journal.Open(p)
		require.NoError(t, err)
		defer j.Close()
		appendKinds(t, j, kinds...)

		pub := &fakePublisher{}
		r, err := relay.New(st, pub, p)
		require.NoError(t, err)
		r.RetryWait = 10 * time.Millisecond
		relays = append(relays, r)
		pubs = append(pubs, pub)

		// reopening keeps the id
		again, err := journal.Identity(p)
		require.NoError(t, err)
		require.Equal(t, j.ID, again, "journal %d", i)
	}

	// the short journal finishing first must not move the long one's offset
	stop := start(t, relays[1])
	require.Eventually(t, func() bool {
		seq, _ := relays[1].Progress(ctx)
		return seq == 1
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	seq, err := relays[0].Progress(ctx)
	require.NoError(t, err)
	require.Zero(t, seq)

	stop = start(t, relays[0])
	require.Eventually(t, func() bool {
		seq, _ := relays[0].Progress(ctx)
		return seq == 3
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	require.Equal(t, []int64{1, 2, 3}, pubs[0].seqs())
	require.Equal(t, []int64{1}, pubs[1].seqs())

	seq, err = relays[1].Progress(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, seq)
}
