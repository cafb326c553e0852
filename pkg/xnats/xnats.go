// Package xnats publishes wallet events to NATS JetStream.
package xnats

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"ccwallet/pkg/xlog"

	"github.com/nats-io/nats.go"
)

var logger = xlog.GetLogger()

// DupeWindow is how long JetStream remembers message ids. A relay restart
// that republishes within it is deduplicated by the server.
const DupeWindow = 10 * time.Minute

func Connect(url string) (nc *nats.Conn, js nats.JetStreamContext, err error) {
	nc, err = nats.Connect(url,
		nats.Name("ccwallet"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warningf("nats disconnected, err:%s", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infof("nats reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return
	}

	js, err = nc.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return
}

// EnsureStream creates the stream holding <stream>.> unless it exists.
func EnsureStream(js nats.JetStreamManager, stream string) error {
	_, err := js.StreamInfo(stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:       stream,
		Subjects:   []string{stream + ".>"},
		Storage:    nats.FileStorage,
		Duplicates: DupeWindow,
	})
	if err != nil {
		return err
	}
	logger.Infof("nats stream %s created", stream)
	return nil
}

// JetStream is the part of nats.JetStreamContext the publisher needs.
type JetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type Publisher struct {
	js     JetStream
	stream string
}

func NewPublisher(js JetStream, stream string) *Publisher {
	return &Publisher{js: js, stream: stream}
}

// Publish sends msg and waits for the stream to store it.
func (p *Publisher) Publish(ctx context.Context, msg EventMsg) (err error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	subj := Subject(p.stream, msg.Coin, msg.Kind)
	ack, err := p.js.Publish(subj, data, nats.MsgId(msg.EventID), nats.Context(ctx))
	if err != nil {
		return
	}
	if ack != nil && ack.Duplicate {
		logger.Debugf("nats %s seq %d already stored as %d", subj, msg.Seq, ack.Sequence)
	}
	return
}
