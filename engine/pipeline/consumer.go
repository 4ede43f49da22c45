package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/beetledev/beetle-engine/engine/domain"
	"github.com/beetledev/beetle-engine/pkg/natsutil"
)

const (
	// IngestSubject carries asynchronous ingestion requests.
	IngestSubject = "beetle.ingest"
	// DLQSubject receives requests that exhausted their retries.
	DLQSubject = "beetle.ingest.dlq"
	// ResultSubject receives per-batch outcomes.
	ResultSubject = "beetle.ingest.result"
	// ConsumerQueue is the worker queue group.
	ConsumerQueue = "beetle-workers"
	// MaxDeliveries before a request goes to the DLQ.
	MaxDeliveries = 3

	retryHeader = "X-Retry-Count"
)

// IngestMessage is the wire form of an asynchronous ingestion request.
type IngestMessage struct {
	RepositoryID string        `json:"repository_id"`
	Branch       string        `json:"branch"`
	Sources      []SourceInput `json:"sources"`
}

// ResultMessage reports a finished batch.
type ResultMessage struct {
	RepositoryID string                 `json:"repository_id"`
	Branch       string                 `json:"branch"`
	Outcomes     []domain.IngestOutcome `json:"outcomes"`
}

type dlqMessage struct {
	Request IngestMessage `json:"request"`
	Error   string        `json:"error"`
	Retries int           `json:"retries"`
}

// StartConsumer subscribes the service to the ingest subject. Transient
// failures are re-published with an incremented retry count; requests
// that keep failing, or that are invalid, go to the DLQ.
func StartConsumer(nc *nats.Conn, svc *Service, logger *slog.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}

	return natsutil.QueueSubscribe(nc, IngestSubject, ConsumerQueue,
		func(ctx context.Context, req IngestMessage, msg *nats.Msg) {
			retries := 0
			if msg.Header != nil {
				if v := msg.Header.Get(retryHeader); v != "" {
					retries, _ = strconv.Atoi(v)
				}
			}

			outcomes, err := svc.Ingest(ctx, IngestRequest{
				RepositoryID: req.RepositoryID,
				Branch:       req.Branch,
				Sources:      req.Sources,
			})
			if err == nil {
				_ = natsutil.Publish(ctx, nc, ResultSubject, ResultMessage{
					RepositoryID: req.RepositoryID,
					Branch:       req.Branch,
					Outcomes:     outcomes,
				}, nil)
				return
			}

			if !retryableIngest(err) {
				logger.Error("consumer: rejecting request", "error", err,
					"repository", req.RepositoryID, "branch", req.Branch)
				publishDLQ(ctx, nc, req, err, retries, logger)
				return
			}

			retries++
			logger.Warn("consumer: ingest failed", "error", err, "retry", retries,
				"repository", req.RepositoryID, "branch", req.Branch)

			if retries >= MaxDeliveries {
				publishDLQ(ctx, nc, req, err, retries, logger)
				return
			}

			hdr := nats.Header{}
			hdr.Set(retryHeader, strconv.Itoa(retries))
			if err := natsutil.Publish(ctx, nc, IngestSubject, req, hdr); err != nil {
				logger.Error("consumer: retry publish failed", "error", err)
			}
		})
}

func publishDLQ(ctx context.Context, nc *nats.Conn, req IngestMessage, cause error, retries int, logger *slog.Logger) {
	if err := natsutil.Publish(ctx, nc, DLQSubject, dlqMessage{
		Request: req,
		Error:   cause.Error(),
		Retries: retries,
	}, nil); err != nil {
		logger.Error("consumer: DLQ publish failed", "error", err)
	}
}

// retryableIngest reports whether the whole request is worth another
// delivery. Busy partitions are; validation failures are not.
func retryableIngest(err error) bool {
	if errors.Is(err, domain.ErrIngestBusy) {
		return true
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return false
	}
	switch {
	case errors.Is(err, domain.ErrEmptyRepository),
		errors.Is(err, domain.ErrEmptyBranch),
		errors.Is(err, domain.ErrUnknownSourceKind),
		errors.Is(err, domain.ErrMissingOrigin):
		return false
	}
	return true
}

// PublishIngest enqueues an asynchronous ingestion request.
func PublishIngest(ctx context.Context, nc *nats.Conn, req IngestMessage) error {
	return natsutil.Publish(ctx, nc, IngestSubject, req, nil)
}
