package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/user/event-tracker/internal/adapter/metrics"
	"github.com/user/event-tracker/internal/domain"
	"github.com/user/event-tracker/internal/pkg/queue"
)

// Transport executes the two collector calls. It is a black box to the
// pipeline: requests go out, a status code comes back.
type Transport interface {
	// Authenticate exchanges credentials for a bearer token.
	Authenticate(ctx context.Context) (token string, err error)

	// UploadBatch posts a serialized event batch with the bearer token
	// attached and returns the collector's status code.
	UploadBatch(ctx context.Context, token string, batch []byte) (status int, err error)
}

// UploaderConfig holds the pipeline's tuning knobs.
type UploaderConfig struct {
	// UploadThreshold is the queued-event count that triggers an upload.
	UploadThreshold int64

	// MaxBatchSize caps how many events go into a single upload request.
	MaxBatchSize int64

	// UploadPeriod is the delay of the deferred periodic trigger.
	UploadPeriod time.Duration
}

// uploadOutcome classifies a finished transmission for the completion task.
type uploadOutcome int

const (
	outcomeSuccess uploadOutcome = iota
	outcomeTooLarge
	outcomeAuthFailed
	outcomeFailed
)

// Uploader pulls bounded batches from the store, transmits them, and applies
// the response policy: truncation on success, one re-auth on 401, batch-size
// backoff with a bounded poison-pill drop on 413, and no retry storms
// otherwise. At most one upload cycle is in flight at any time.
//
// Batching runs on the state queue; network calls run on the transport queue;
// every completion re-enters the state queue before touching shared state.
type Uploader struct {
	store     domain.EventStore
	transport Transport
	state     *queue.Serial
	network   *queue.Serial
	logger    *slog.Logger
	metrics   *metrics.TrackerMetrics
	cfg       UploaderConfig

	// gate reports whether uploads are currently allowed (not opted out, not
	// offline). Evaluated on the state queue.
	gate func() bool

	uploading       atomic.Bool
	updateScheduled atomic.Bool

	// backoff state, touched only on the state queue.
	backoff          bool
	backoffBatchSize int64

	// token is the cached bearer token, touched only on the transport queue.
	// It is never persisted; every process start re-authenticates.
	token string
}

// NewUploader wires the pipeline. gate may be nil, meaning uploads are always
// allowed.
func NewUploader(
	store domain.EventStore,
	transport Transport,
	state, network *queue.Serial,
	cfg UploaderConfig,
	m *metrics.TrackerMetrics,
	logger *slog.Logger,
	gate func() bool,
) *Uploader {
	return &Uploader{
		store:            store,
		transport:        transport,
		state:            state,
		network:          network,
		logger:           logger.With("component", "uploader"),
		metrics:          m,
		cfg:              cfg,
		gate:             gate,
		backoffBatchSize: cfg.MaxBatchSize,
	}
}

// EventSaved is the threshold trigger: called on the state queue right after
// an event is appended, with the resulting queue count.
func (u *Uploader) EventSaved(count int64) {
	if count%u.cfg.UploadThreshold == 0 && count >= u.cfg.UploadThreshold {
		u.update(false)
	} else {
		u.TriggerLater()
	}
}

// Trigger enqueues an immediate upload cycle.
func (u *Uploader) Trigger() {
	u.state.Dispatch(func() { u.update(false) })
}

// TriggerLater schedules a deferred upload cycle. Scheduling while one is
// already pending is a no-op.
func (u *Uploader) TriggerLater() {
	if u.updateScheduled.Swap(true) {
		return
	}
	u.state.DispatchAfter(u.cfg.UploadPeriod, func() {
		u.updateScheduled.Store(false)
		u.update(false)
	})
}

// update starts an upload cycle. Must run on the state queue. limit selects
// the backoff batch size instead of the configured maximum.
func (u *Uploader) update(limit bool) {
	if u.gate != nil && !u.gate() {
		return
	}

	if u.uploading.Swap(true) {
		// A running cycle re-checks the count on completion and chains
		// another cycle itself.
		return
	}

	ctx := context.Background()
	count, err := u.store.EventCount(ctx)
	if err != nil {
		u.uploading.Store(false)
		u.logger.Warn("failed to count queued events, deferring upload", "error", err)
		return
	}

	batchSize := u.cfg.MaxBatchSize
	if limit {
		batchSize = u.backoffBatchSize
	}
	if count < batchSize {
		batchSize = count
	}
	if batchSize <= 0 {
		u.uploading.Store(false)
		return
	}

	events, err := u.store.EventsSince(ctx, 0, batchSize)
	if err != nil {
		u.uploading.Store(false)
		if errors.Is(err, domain.ErrStoreBusy) {
			u.logger.Warn("event store busy, deferring upload")
		} else {
			u.logger.Error("failed to read event batch", "error", err)
		}
		return
	}
	if len(events) == 0 {
		u.uploading.Store(false)
		return
	}

	body, maxEventID, err := buildBatch(events, time.Now())
	if err != nil {
		u.uploading.Store(false)
		u.logger.Error("failed to serialize event batch", "error", err)
		return
	}

	attempted := int64(len(events))
	u.network.Dispatch(func() { u.send(body, maxEventID, attempted) })
}

// buildBatch stamps each record with serverUploadTime, wraps the records in
// the batch envelope, and returns the highest event id as the truncation
// watermark.
func buildBatch(events []domain.StoredEvent, now time.Time) ([]byte, int64, error) {
	stamp := domain.FormatEventTime(now)
	records := make([]json.RawMessage, 0, len(events))
	maxEventID := int64(-1)

	for _, ev := range events {
		var record map[string]any
		if err := json.Unmarshal(ev.Payload, &record); err != nil {
			return nil, -1, fmt.Errorf("decode queued event %d: %w", ev.ID, err)
		}
		record["serverUploadTime"] = stamp
		raw, err := json.Marshal(record)
		if err != nil {
			return nil, -1, fmt.Errorf("encode queued event %d: %w", ev.ID, err)
		}
		records = append(records, raw)
		maxEventID = ev.ID
	}

	body, err := json.Marshal(map[string]any{"events": records})
	if err != nil {
		return nil, -1, err
	}
	return body, maxEventID, nil
}

// send transmits one batch. Must run on the transport queue.
func (u *Uploader) send(body []byte, maxEventID, attempted int64) {
	ctx := context.Background()

	if u.token == "" {
		if !u.authenticate(ctx) {
			u.complete(outcomeAuthFailed, maxEventID, attempted)
			return
		}
	}

	status, err := u.transport.UploadBatch(ctx, u.token, body)
	if err != nil {
		u.logger.Warn("event upload failed, will retry on next trigger", "error", err)
		u.complete(outcomeFailed, maxEventID, attempted)
		return
	}

	if status == http.StatusUnauthorized {
		// Token expired: one re-auth and one retry per cycle, no more.
		u.token = ""
		if !u.authenticate(ctx) {
			u.complete(outcomeAuthFailed, maxEventID, attempted)
			return
		}
		status, err = u.transport.UploadBatch(ctx, u.token, body)
		if err != nil {
			u.logger.Warn("event upload failed after re-auth", "error", err)
			u.complete(outcomeFailed, maxEventID, attempted)
			return
		}
	}

	switch status {
	case http.StatusOK:
		u.complete(outcomeSuccess, maxEventID, attempted)
	case http.StatusRequestEntityTooLarge:
		u.logger.Warn("batch rejected as too large, backing off", "attempted", attempted)
		u.complete(outcomeTooLarge, maxEventID, attempted)
	case http.StatusUnauthorized:
		u.complete(outcomeAuthFailed, maxEventID, attempted)
	default:
		u.logger.Warn("event upload rejected, will retry on next trigger", "status", status)
		u.complete(outcomeFailed, maxEventID, attempted)
	}
}

func (u *Uploader) authenticate(ctx context.Context) bool {
	token, err := u.transport.Authenticate(ctx)
	if err != nil {
		u.logger.Warn("authentication failed", "error", err)
		if u.metrics != nil {
			u.metrics.AuthFailures.Inc()
		}
		return false
	}
	u.token = token
	return true
}

// complete re-enters the state queue to apply the outcome to shared state.
// Every path through here clears the in-flight flag.
func (u *Uploader) complete(outcome uploadOutcome, maxEventID, attempted int64) {
	u.state.Dispatch(func() {
		ctx := context.Background()

		switch outcome {
		case outcomeSuccess:
			if maxEventID >= 0 {
				if err := u.store.RemoveEvents(ctx, maxEventID); err != nil {
					u.logger.Error("failed to truncate uploaded events", "error", err)
				}
			}
			if u.metrics != nil {
				u.metrics.UploadsTotal.WithLabelValues("success").Inc()
				u.metrics.EventsUploaded.Add(float64(attempted))
			}
			u.uploading.Store(false)

			count, err := u.store.EventCount(ctx)
			if err != nil {
				u.logger.Warn("failed to count events after upload", "error", err)
				return
			}
			if count > u.cfg.UploadThreshold {
				limit := u.backoff
				u.state.Dispatch(func() { u.update(limit) })
			} else {
				u.backoff = false
				u.backoffBatchSize = u.cfg.MaxBatchSize
			}

		case outcomeTooLarge:
			// Drop a poison-pill event only after an attempt at batch size 1
			// has actually failed; a first oversized batch just shrinks.
			if u.backoff && attempted == 1 && maxEventID >= 0 {
				if err := u.store.RemoveEvent(ctx, maxEventID); err != nil {
					u.logger.Error("failed to drop oversized event", "error", err)
				} else {
					u.logger.Warn("dropped oversized event to restore progress", "event_id", maxEventID)
					if u.metrics != nil {
						u.metrics.EventsDropped.WithLabelValues("oversized").Inc()
					}
				}
			}

			u.backoff = true
			count, err := u.store.EventCount(ctx)
			if err != nil {
				count = attempted
			}
			next := u.backoffBatchSize
			if count < next {
				next = count
			}
			u.backoffBatchSize = (next + 1) / 2
			if u.backoffBatchSize < 1 {
				u.backoffBatchSize = 1
			}
			if u.metrics != nil {
				u.metrics.UploadsTotal.WithLabelValues("too_large").Inc()
			}
			u.uploading.Store(false)
			u.state.Dispatch(func() { u.update(true) })

		case outcomeAuthFailed:
			if u.metrics != nil {
				u.metrics.UploadsTotal.WithLabelValues("auth_failed").Inc()
			}
			u.uploading.Store(false)

		default:
			if u.metrics != nil {
				u.metrics.UploadsTotal.WithLabelValues("failed").Inc()
			}
			u.uploading.Store(false)
		}
	})
}

// Uploading reports whether a cycle is currently in flight.
func (u *Uploader) Uploading() bool {
	return u.uploading.Load()
}
