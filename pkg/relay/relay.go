// Package relay forwards the journal to NATS JetStream.
//
// Entries are published in journal order. The seq of the last published
// entry is kept in lastkvs under relay/journal_seq_<journal id>, so a
// restart resumes after it and relays of different journals sharing one
// database keep apart. Anything republished around a crash is dropped by
// the stream's message id dedupe.
package relay

import (
	"context"
	"errors"
	"time"

	"ccwallet/pkg/journal"
	"ccwallet/pkg/metrics"
	"ccwallet/pkg/model"
	"ccwallet/pkg/store"
	"ccwallet/pkg/xlog"
	"ccwallet/pkg/xnats"
)

var logger = xlog.GetLogger()

const batchSize = 100

type Publisher interface {
	Publish(ctx context.Context, msg xnats.EventMsg) error
}

type Relay struct {
	st   store.Store
	pub  Publisher
	path string
	key  string // progress key in lastkvs

	RetryWait time.Duration // first wait after a failed publish, doubled up to 30s
}

func New(st store.Store, pub Publisher, journalPath string) (*Relay, error) {
	id, err := journal.Identity(journalPath)
	if err != nil {
		return nil, err
	}
	return &Relay{
		st:        st,
		pub:       pub,
		path:      journalPath,
		key:       model.LASTKV_K_JOURNAL_SEQ + id,
		RetryWait: time.Second,
	}, nil
}

// Progress returns the seq of the last entry published.
func (r *Relay) Progress(ctx context.Context) (int64, error) {
	kv, err := r.st.GetKv(ctx, model.LASTKV_APP_RELAY, r.key)
	return kv.Val, err
}

// Run publishes until ctx is done or the journal cannot be read.
func (r *Relay) Run(ctx context.Context) (err error) {
	after, err := r.Progress(ctx)
	if err != nil {
		return
	}
	logger.Infof("relay %s (%s) starts after seq %d", r.path, r.key, after)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan journal.Entry, 256)
	tailErr := make(chan error, 1)
	go func() {
		tailErr <- journal.Tail(ctx, r.path, after, ch)
	}()

	// block for one entry, then take whatever else is queued as one batch
	batch := make([]journal.Entry, 0, batchSize)
	last := after
	for {
		batch = batch[:0]
		select {
		case e := <-ch:
			batch = append(batch, e)
		case err = <-tailErr:
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			return err
		case <-ctx.Done():
			return nil
		}
		for len(batch) < batchSize && len(ch) > 0 {
			batch = append(batch, <-ch)
		}

		for _, e := range batch {
			if e.Seq != last+1 {
				logger.Warningf("relay expected seq %d, journal has %d", last+1, e.Seq)
			}
			if err = r.publish(ctx, e); err != nil {
				return nil // only fails once ctx is done
			}
			last = e.Seq
		}
		if err = r.save(ctx, last); err != nil {
			return err
		}
		metrics.Relayed.Add(float64(len(batch)))
		logger.Debugf("relay published %d entries up to seq %d", len(batch), last)
	}
}

// publish retries until the stream takes e or ctx is done.
func (r *Relay) publish(ctx context.Context, e journal.Entry) error {
	msg := msgOf(e)
	wait := r.RetryWait
	for round := 1; ; round++ {
		err := r.pub.Publish(ctx, msg)
		if err == nil {
			return nil
		}
		logger.Errorf("relay publish of seq %d failed, round:%d, err:%s", e.Seq, round, err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		if wait *= 2; wait > 30*time.Second {
			wait = 30 * time.Second
		}
	}
}

func (r *Relay) save(ctx context.Context, seq int64) error {
	for {
		kv, err := r.st.GetKv(ctx, model.LASTKV_APP_RELAY, r.key)
		if err != nil {
			return err
		}
		if kv.Val >= seq {
			return nil
		}
		err = r.st.SwapKv(ctx, kv, seq)
		if errors.Is(err, store.ErrConflict) {
			logger.Warningf("relay progress moved under us from %d", kv.Val)
			continue
		}
		return err
	}
}

func msgOf(e journal.Entry) xnats.EventMsg {
	return xnats.EventMsg{
		Seq:                   e.Seq,
		EventID:               e.EventID,
		TxID:                  e.TxID,
		Owner:                 e.Owner,
		Coin:                  e.Coin,
		Network:               e.Network,
		Type:                  e.Type,
		Kind:                  e.Kind,
		Status:                e.Status,
		Amount:                e.Amount,
		Fee:                   e.Fee,
		FreeChange:            e.FreeChange,
		FreezeChange:          e.FreezeChange,
		Confirmations:         e.Confirmations,
		RequiredConfirmations: e.RequiredConfirmations,
		TxHash:                e.TxHash,
		Reason:                e.Reason,
		Time:                  e.At.UnixNano(),
	}
}
