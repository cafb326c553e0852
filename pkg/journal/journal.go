// Package journal is the append-only event log of the wallet.
//
// Every committed ledger change becomes one JSON line carrying a sequence
// number. The relay tails the file and forwards the lines to nats.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ccwallet/pkg/model"
	"ccwallet/pkg/xlog"

	"github.com/google/uuid"
	"github.com/nxadm/tail"
	"github.com/shopspring/decimal"
)

var logger = xlog.GetLogger()

// Entry is one line of the journal.
type Entry struct {
	Seq     int64  `json:"seq"`
	EventID string `json:"eventID"`
	TxID    string `json:"txID"`
	Owner   int64  `json:"owner"`
	Coin    string `json:"coin"`
	Network string `json:"network"`
	Type    string `json:"type"`
	Kind    string `json:"kind"`

	FromStatus string `json:"fromStatus,omitempty"`
	Status     string `json:"status"`

	Amount       decimal.Decimal `json:"amount"`
	Fee          decimal.Decimal `json:"fee"`
	FreeChange   decimal.Decimal `json:"freeChange"`
	FreezeChange decimal.Decimal `json:"freezeChange"`

	Confirmations         int    `json:"confirmations"`
	RequiredConfirmations int    `json:"requiredConfirmations"`
	TxHash                string `json:"txHash,omitempty"`
	Reason                string `json:"reason,omitempty"`

	At time.Time `json:"at"`
}

// EntryOf builds the line of an event of t. Seq is set on append.
func EntryOf(t model.Transaction, ev model.TransactionEvent) Entry {
	return Entry{
		EventID:               ev.EventID,
		TxID:                  t.ID,
		Owner:                 t.Owner,
		Coin:                  t.Coin,
		Network:               t.Network,
		Type:                  t.Type,
		Kind:                  ev.Kind,
		FromStatus:            ev.FromStatus,
		Status:                t.Status,
		Amount:                t.Amount,
		Fee:                   t.Fee,
		FreeChange:            ev.FreeChange,
		FreezeChange:          ev.FreezeChange,
		Confirmations:         t.Confirmations,
		RequiredConfirmations: t.RequiredConfirmations,
		TxHash:                t.TxHash,
		Reason:                t.Reason,
		At:                    ev.CreatedAt,
	}
}

type Journal struct {
	mu       sync.Mutex
	File     *os.File
	FilePath string
	ID       string // see Identity
	seq      int64
}

// Identity returns the id of the journal at filePath, kept next to it in
// filePath + ".id" and created on first use. Readers key their progress by
// it, so replicas sharing one database do not share offsets.
func Identity(filePath string) (string, error) {
	idPath := filePath + ".id"
	if err := os.MkdirAll(filepath.Dir(idPath), 0755); err != nil {
		return "", err
	}
	for round := 1; round <= 2; round++ {
		b, err := os.ReadFile(idPath)
		if err == nil {
			id := strings.TrimSpace(string(b))
			if id == "" {
				return "", fmt.Errorf("journal id %s is empty", idPath)
			}
			return id, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}

		f, err := os.OpenFile(idPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue // created by the other side meanwhile
		}
		if err != nil {
			return "", err
		}
		id := uuid.NewString()
		_, err = f.WriteString(id + "\n")
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return "", err
		}
		logger.Infof("journal %s got id %s", filePath, id)
		return id, nil
	}
	return "", fmt.Errorf("journal id %s cannot be read", idPath)
}

// Open opens or creates the journal and resumes numbering after its last
// line.
func Open(filePath string) (j *Journal, err error) {
	j = &Journal{FilePath: filePath}

	err = os.MkdirAll(filepath.Dir(filePath), 0755)
	if err != nil {
		return
	}
	if j.ID, err = Identity(filePath); err != nil {
		return nil, err
	}
	j.File, err = os.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return
	}

	last, err := j.ReadLastLine()
	if err != nil {
		j.File.Close()
		return nil, err
	}
	if last != "" {
		var e Entry
		if err = json.Unmarshal([]byte(last), &e); err != nil {
			j.File.Close()
			return nil, fmt.Errorf("last line of %s: %w", filePath, err)
		}
		j.seq = e.Seq
	}
	logger.Infof("journal %s (%s) opened at seq %d", filePath, j.ID, j.seq)
	return j, nil
}

func (j *Journal) Close() (err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.File == nil {
		return
	}
	err = j.File.Close()
	j.File = nil
	return
}

func (j *Journal) LastSeq() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Append numbers e and writes it as one line.
func (j *Journal) Append(e Entry) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.File == nil {
		return e, fmt.Errorf("journal %s is closed", j.FilePath)
	}
	e.Seq = j.seq + 1
	b, err := json.Marshal(e)
	if err != nil {
		return e, err
	}
	if _, err = j.File.Write(append(b, '\n')); err != nil {
		return e, err
	}
	j.seq = e.Seq
	return e, nil
}

// Notify appends the event. The ledger has already committed it, so a write
// failure cannot be undone here: it raises an alert naming the event. The
// event itself stays in transaction_events.
func (j *Journal) Notify(ctx context.Context, t model.Transaction, ev model.TransactionEvent) {
	if _, err := j.Append(EntryOf(t, ev)); err != nil {
		logger.Alertf("journal append of event %s (%s %s) failed, not relayed, err:%s", ev.EventID, t.ID, ev.Kind, err)
	}
}

// ReadLastLine reads the last non-empty line of the file.
func (j *Journal) ReadLastLine() (s string, err error) {
	stat, err := j.File.Stat()
	if err != nil {
		return
	}

	size := stat.Size()
	if size == 0 {
		return
	}

	// a line is far below 4k, so the tail of the file holds the whole last one
	var b []byte
	var off int64
	if size < 4096 {
		b = make([]byte, size)
	} else {
		b = make([]byte, 4096)
		off = size - 4096
	}

	_, err = j.File.ReadAt(b, off)
	if err != nil {
		return
	}

	txts := strings.Split(strings.Trim(string(b), " \n"), "\n")
	s = txts[len(txts)-1]
	return
}

// Tail follows the journal at filePath and sends every entry with a seq
// above after to ch, until ctx is done or a line cannot be read.
func Tail(ctx context.Context, filePath string, after int64, ch chan<- Entry) (err error) {
	ta, err := tail.TailFile(filePath, tail.Config{
		Follow:        true,
		ReOpen:        true,
		CompleteLines: true,
		Logger:        tail.DiscardingLogger,
	})
	if err != nil {
		return
	}
	defer ta.Cleanup()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		ta.Stop()
	}()

	for line := range ta.Lines {
		if line.Err != nil {
			// never skip a line, the relay would publish out of order
			return line.Err
		}
		if strings.TrimSpace(line.Text) == "" {
			continue
		}

		var e Entry
		if err = json.Unmarshal([]byte(line.Text), &e); err != nil {
			return fmt.Errorf("journal line %q: %w", line.Text, err)
		}
		if e.Seq <= after {
			continue
		}

		select {
		case ch <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}
