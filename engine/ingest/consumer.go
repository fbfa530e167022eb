package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/HavenIQ/haven-engine/engine/domain"
	"github.com/HavenIQ/haven-engine/engine/semantic"
	"github.com/HavenIQ/haven-engine/pkg/fn"
	"github.com/HavenIQ/haven-engine/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

const (
	// Subject carries single listings for streaming ingestion.
	Subject = "engine.properties"
	// DLQSubject receives listings that kept failing to store.
	DLQSubject = "engine.properties.dlq"
	// MaxRetries before a listing goes to the DLQ.
	MaxRetries = 3

	retryHeader = "X-Retry-Count"
)

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Record  domain.PropertyRecord `json:"record"`
	Error   string                `json:"error"`
	Retries int                   `json:"retries"`
}

// StartConsumer subscribes to the listing subject and runs each message
// through the same clean/embed/store policy as the tabular flow: invalid
// rows are dropped, failed embeddings keep the row with a marker, and only
// store errors trigger a retry and eventually the DLQ.
func (l *Loader) StartConsumer(nc *nats.Conn) (*nats.Subscription, error) {
	clean := fn.Traced("ingest.clean", CleanStage)
	embed := l.rowStage()

	return nc.Subscribe(Subject, func(msg *nats.Msg) {
		ctx := natsutil.Extract(context.Background(), msg)

		var rec domain.PropertyRecord
		if err := json.Unmarshal(msg.Data, &rec); err != nil {
			l.logger.Error("ingest: unmarshal failed", "error", err)
			return
		}

		if r := clean(ctx, rec); r.IsErr() {
			_, err := r.Unwrap()
			l.logger.Info("ingest: message dropped by cleaning", "error", err)
			return
		}

		point, err := embed(ctx, rec).Unwrap()
		if err != nil {
			l.logger.Warn("ingest: embedding unavailable, keeping row with marker",
				"city", rec.City, "error", err)
			point = semantic.PropertyPoint{Record: rec, EmbedFailed: true}
		}

		if err := l.store.InsertProperties(ctx, []semantic.PropertyPoint{point}); err != nil {
			l.retryOrDeadLetter(ctx, nc, msg, rec, err)
			return
		}
		l.logger.Info("ingest: message stored", "city", rec.City, "point", semantic.PointID(rec))
	})
}

func (l *Loader) retryOrDeadLetter(ctx context.Context, nc *nats.Conn, msg *nats.Msg, rec domain.PropertyRecord, cause error) {
	retries := 0
	if msg.Header != nil {
		if v := msg.Header.Get(retryHeader); v != "" {
			fmt.Sscanf(v, "%d", &retries)
		}
	}
	retries++
	l.logger.Error("ingest: store failed", "error", cause, "retry", retries)

	if retries >= MaxRetries {
		dlq := dlqMessage{Record: rec, Error: cause.Error(), Retries: retries}
		if err := natsutil.Publish(ctx, nc, DLQSubject, dlq); err != nil {
			l.logger.Error("ingest: DLQ publish failed", "error", err)
		}
		return
	}

	retryMsg := nats.NewMsg(Subject)
	retryMsg.Data = msg.Data
	retryMsg.Header = nats.Header{}
	retryMsg.Header.Set(retryHeader, fmt.Sprintf("%d", retries))
	if err := nc.PublishMsg(retryMsg); err != nil {
		l.logger.Error("ingest: retry publish failed", "error", err)
	}
}
