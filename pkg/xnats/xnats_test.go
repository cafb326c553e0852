package xnats_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"ccwallet/pkg/xnats"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeJS struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeJS) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return &nats.PubAck{Stream: "WALLET", Sequence: uint64(len(f.subjects))}, nil
}

func TestSubject(t *testing.T) {
	require.Equal(t, "WALLET.USDT.confirmed", xnats.Subject("WALLET", "usdt", "confirmed"))
}

func TestPublish(t *testing.T) {
	js := &fakeJS{}
	p := xnats.NewPublisher(js, "WALLET")

	msg := xnats.EventMsg{Seq: 3, EventID: "ev3", TxID: "tx1", Coin: "BTC", Kind: "created", Amount: decimal.RequireFromString("0.5")}
	require.NoError(t, p.Publish(context.Background(), msg))
	require.Equal(t, []string{"WALLET.BTC.created"}, js.subjects)

	var got xnats.EventMsg
	require.NoError(t, json.Unmarshal(js.payloads[0], &got))
	require.Equal(t, "ev3", got.EventID)
	require.True(t, got.Amount.Equal(msg.Amount))

	js.err = errors.New("no responders")
	require.Error(t, p.Publish(context.Background(), msg))
}
