// Package ingest adapts the order-book's raw matching results and
// deposit/withdrawal requests (spec §6 External Interfaces) into dispatched
// Batch Engine transactions.
//
// Grounded on the teacher's internal/processor.TransactionProcessor: the
// same Kafka consume/produce loop and context-cancellation shutdown
// sequence, generalized from a single transaction-confirmation topic to the
// batch engine's three ingestion kinds (spot results, perp results,
// deposit/withdrawal requests).
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/cmatc13/stathera/internal/matching"
	"github.com/cmatc13/stathera/pkg/config"
	"github.com/cmatc13/stathera/pkg/logging"
)

// EnvelopeKind tags one ingested Kafka message.
type EnvelopeKind string

const (
	KindSpotMatchingResult EnvelopeKind = "spot_matching_result"
	KindPerpMatchingResult EnvelopeKind = "perp_matching_result"
	KindDepositRequest     EnvelopeKind = "deposit_request"
	KindWithdrawalRequest  EnvelopeKind = "withdrawal_request"
)

// Envelope is the wire format for every ingested message: a kind tag plus an
// opaque payload demuxed by processMessage.
type Envelope struct {
	Kind    EnvelopeKind    `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// DepositRequest is the raw deposit payload the order-book layer publishes.
type DepositRequest struct {
	NoteIndex uint64 `json:"note_index"`
	Owner     []byte `json:"owner"`
	Token     uint64 `json:"token"`
	Amount    uint64 `json:"amount"`
}

// WithdrawalRequest is the raw withdrawal payload the order-book layer
// publishes.
type WithdrawalRequest struct {
	InputNoteIndexes []uint64 `json:"input_note_indexes"`
	Amount           uint64   `json:"amount"`
}

// SwapExecutor resolves a reduced matching.Swap into the concrete note/order
// movements an executor needs, and dispatches it to the Batch Engine. A
// real deployment implements this against the note/position store; it is
// intentionally abstracted here the way the teacher's TransactionProcessor
// abstracts public-key lookup behind getPublicKey.
type SwapExecutor interface {
	DispatchSpotSwap(swap matching.SwapMatch) <-chan error
	DispatchPerpSwap(swap matching.SwapMatch) <-chan error
	DispatchDeposit(req DepositRequest) <-chan error
	DispatchWithdrawal(req WithdrawalRequest) <-chan error
}

// Ingestor consumes order-book results and deposit/withdrawal requests from
// Kafka and dispatches them to the Batch Engine via a SwapExecutor.
type Ingestor struct {
	ctx      context.Context
	cfg      *config.Config
	consumer *kafka.Consumer
	producer *kafka.Producer
	exec     SwapExecutor
	log      *logging.Logger
}

// NewIngestor wires a Kafka consumer/producer pair against the configured
// brokers, mirroring internal/processor.NewTransactionProcessor's setup.
func NewIngestor(ctx context.Context, cfg *config.Config, exec SwapExecutor, log *logging.Logger) (*Ingestor, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Kafka.Brokers,
		"group.id":          cfg.Kafka.ConsumerGroupID,
		"auto.offset.reset": "earliest",
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to create kafka consumer: %w", err)
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Kafka.Brokers,
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to create kafka producer: %w", err)
	}

	return &Ingestor{ctx: ctx, cfg: cfg, consumer: consumer, producer: producer, exec: exec, log: log}, nil
}

// Start begins consuming ingestion messages until the context is cancelled.
func (in *Ingestor) Start(topic string) {
	if err := in.consumer.SubscribeTopics([]string{topic}, nil); err != nil {
		in.log.WithError(err).Error("ingest: failed to subscribe to topic")
		return
	}

	in.log.Info("ingest: started, waiting for order-book messages")

	for {
		select {
		case <-in.ctx.Done():
			in.log.Info("ingest: shutting down")
			in.consumer.Close()
			in.producer.Flush(15 * 1000)
			in.producer.Close()
			return
		default:
			msg, err := in.consumer.ReadMessage(100 * time.Millisecond)
			if err != nil {
				if kafkaErr, ok := err.(kafka.Error); ok && kafkaErr.Code() == kafka.ErrTimedOut {
					continue
				}
				in.log.WithError(err).Error("ingest: error reading message")
				continue
			}
			in.processMessage(msg)
		}
	}
}

func (in *Ingestor) processMessage(msg *kafka.Message) {
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		in.log.WithError(err).Error("ingest: invalid envelope")
		return
	}

	switch env.Kind {
	case KindSpotMatchingResult:
		in.handleMatchingResult(env.Payload, false)
	case KindPerpMatchingResult:
		in.handleMatchingResult(env.Payload, true)
	case KindDepositRequest:
		var req DepositRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			in.log.WithError(err).Error("ingest: invalid deposit request")
			return
		}
		<-in.exec.DispatchDeposit(req)
	case KindWithdrawalRequest:
		var req WithdrawalRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			in.log.WithError(err).Error("ingest: invalid withdrawal request")
			return
		}
		<-in.exec.DispatchWithdrawal(req)
	default:
		in.log.WithField("kind", string(env.Kind)).Error("ingest: unknown envelope kind")
	}
}

func (in *Ingestor) handleMatchingResult(payload json.RawMessage, perp bool) {
	var results []matching.Result
	if err := json.Unmarshal(payload, &results); err != nil {
		in.log.WithError(err).Error("ingest: invalid matching result payload")
		return
	}

	var processed *matching.ProcessedResult
	var err error
	if perp {
		processed, err = matching.ProcessPerpMatchingResult(results)
	} else {
		processed, err = matching.ProcessSpotMatchingResult(results)
	}
	if err != nil {
		in.log.WithError(err).Error("ingest: matching result reduction failed")
		return
	}

	for _, swap := range processed.Swaps {
		var ch <-chan error
		if perp {
			ch = in.exec.DispatchPerpSwap(swap)
		} else {
			ch = in.exec.DispatchSpotSwap(swap)
		}
		if err := <-ch; err != nil {
			in.log.WithError(err).Error("ingest: swap dispatch failed")
		}
	}
}
