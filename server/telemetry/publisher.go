// Package telemetry forwards engine events to an SQS queue.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"geoquest/server/engine"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
)

// SQSAPI is the part of *sqs.Client the publisher uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

const drainTimeout = 5 * time.Second

// Publisher is an engine listener. OnEvent never blocks the engine: events
// are queued and sent by Run, and dropped when the queue is full.
type Publisher struct {
	client  SQSAPI
	queue   string
	log     zerolog.Logger
	events  chan engine.Event
	sent    atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

type body struct {
	Type   engine.EventType `json:"type"`
	Player string           `json:"player"`
	At     time.Time        `json:"at"`
	Data   any              `json:"data"`
}

func NewPublisher(client SQSAPI, queueURL string, buffer int, log zerolog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{
		client: client,
		queue:  queueURL,
		log:    log,
		events: make(chan engine.Event, buffer),
	}
}

func (p *Publisher) OnEvent(e engine.Event) {
	select {
	case p.events <- e:
	default:
		if p.dropped.Add(1) == 1 {
			p.log.Warn().Msg("telemetry queue full, dropping events")
		}
	}
}

// Run sends queued events until ctx is done, then tries to flush what is left.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case e := <-p.events:
			p.publish(ctx, e)
		case <-ctx.Done():
			p.drain(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (p *Publisher) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	for {
		select {
		case e := <-p.events:
			p.publish(ctx, e)
		default:
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, e engine.Event) {
	if err := p.send(ctx, e); err != nil {
		p.failed.Add(1)
		p.log.Error().Err(err).Str("event", string(e.Type)).Msg("telemetry publish failed")
		return
	}
	p.sent.Add(1)
}

func (p *Publisher) send(ctx context.Context, e engine.Event) error {
	b, err := json.Marshal(body{Type: e.Type, Player: e.Player, At: e.At, Data: e.Data})
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Type, err)
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queue),
		MessageBody: aws.String(string(b)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event": {DataType: aws.String("String"), StringValue: aws.String(string(e.Type))},
		},
	})
	return err
}

type Stats struct {
	Sent    int64 `json:"sent"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

func (p *Publisher) Stats() Stats {
	return Stats{Sent: p.sent.Load(), Dropped: p.dropped.Load(), Failed: p.failed.Load()}
}
