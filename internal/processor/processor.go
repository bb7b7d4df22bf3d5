package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/your-org/metabridge/internal/mle"
	"github.com/your-org/metabridge/internal/transform"
)

// Terminal outcome statuses.
const (
	StatusIgnored   = "ignored"
	StatusSkipped   = "skipped"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusError     = "error"
)

// processableSuffixes gates which event types enter the pipeline at all.
// Page, user, and other non-asset events never pass this filter.
var processableSuffixes = []string{
	"assets.created", "assets.updated", "assets.deleted", "assets.removed",
	"assets.metadata_updated", "assets.workflow_completed",
	"asset.created", "asset.updated", "asset.deleted", "asset.removed",
	"asset.metadata_updated", "asset.workflow_completed",
}

// Outcome is the aggregated result returned to the boundary.
type Outcome struct {
	Status  string            `json:"status"`
	Errors  []mle.ErrorDetail `json:"errors"`
	AssetID string            `json:"assetId,omitempty"`
	Target  *mle.Result       `json:"target"`
	Reason  string            `json:"reason,omitempty"`
}

// Publisher emits sync-outcome events. The Kafka producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error
}

// Archiver stores raw payloads of events that could not be synced. The
// object store client satisfies it.
type Archiver interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error
}

// Processor drives one event through filter, approval gate, transform,
// and dispatch. Events for different assets carry no ordering guarantee;
// the target system is assumed idempotent on asset id.
type Processor struct {
	transformer *transform.Transformer
	syncer      mle.Syncer
	publisher   Publisher
	archive     Archiver
	logger      *zap.Logger
}

type Params struct {
	Transformer *transform.Transformer
	Syncer      mle.Syncer
	Publisher   Publisher
	Archive     Archiver
	Logger      *zap.Logger
}

// New constructs a Processor. Publisher and Archive may be nil when the
// corresponding integration is not configured.
func New(p Params) *Processor {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		transformer: p.Transformer,
		syncer:      p.Syncer,
		publisher:   p.Publisher,
		archive:     p.Archive,
		logger:      logger,
	}
}

// Processable reports whether an event type belongs to the asset-event
// families this service forwards.
func Processable(eventType string) bool {
	for _, suffix := range processableSuffixes {
		if strings.HasSuffix(eventType, suffix) {
			return true
		}
	}
	return false
}

// Process runs the state machine for one event. The guard order is fixed:
// type filter, then approval gate, then transform and dispatch. Later
// stages assume the earlier ones already passed.
func (p *Processor) Process(ctx context.Context, event *InboundEvent) (outcome *Outcome) {
	tracer := otel.Tracer("metabridge/processor")
	ctx, span := tracer.Start(ctx, "process_event")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.type", event.EventType),
		attribute.String("asset.path", event.AssetPath),
	)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic during event processing",
				zap.String("event_type", event.EventType),
				zap.Any("panic", r))
			outcome = &Outcome{
				Status: StatusError,
				Errors: []mle.ErrorDetail{{
					System:    "target",
					Message:   fmt.Sprintf("unexpected failure: %v", r),
					Retryable: true,
				}},
			}
		}
		span.SetAttributes(attribute.String("sync.status", outcome.Status))
		p.finish(ctx, event, outcome)
	}()

	if !Processable(event.EventType) {
		p.logger.Debug("ignoring event", zap.String("event_type", event.EventType))
		return &Outcome{Status: StatusIgnored, Errors: []mle.ErrorDetail{}, Reason: "event type not processable"}
	}

	if transform.ApprovalStatus(event.Metadata) != "approved" {
		p.logger.Info("skipping unapproved asset",
			zap.String("event_type", event.EventType),
			zap.String("path", event.AssetPath))
		return &Outcome{Status: StatusSkipped, Errors: []mle.ErrorDetail{}, Reason: "asset not approved for sync"}
	}

	data := p.transformer.Transform(event.Metadata, event.AssetPath, event.EventType)
	outcome = &Outcome{AssetID: data.AssetID, Errors: []mle.ErrorDetail{}}

	result, err := p.dispatch(ctx, event.EventType, data)
	if err != nil {
		p.logger.Error("sync dispatch failed",
			zap.String("asset_id", data.AssetID),
			zap.Error(err))
		outcome.Status = StatusError
		outcome.Errors = append(outcome.Errors, mle.ErrorDetail{
			System:    "target",
			Message:   err.Error(),
			Retryable: true,
		})
		return outcome
	}

	outcome.Target = result
	if result.Success {
		outcome.Status = StatusCompleted
		p.logger.Info("asset synced",
			zap.String("asset_id", data.AssetID),
			zap.String("target_id", result.TargetID))
		return outcome
	}

	outcome.Status = StatusFailed
	if result.Error != nil {
		outcome.Errors = append(outcome.Errors, *result.Error)
	} else {
		outcome.Errors = append(outcome.Errors, mle.ErrorDetail{
			System:    "target",
			Message:   "sync rejected by target system",
			Retryable: result.Retryable,
		})
	}
	return outcome
}

// dispatch selects the sync operation by event-type substring. Unmatched
// processable types fall back to create; that branch is logged so silent
// creates stay observable.
func (p *Processor) dispatch(ctx context.Context, eventType string, data *transform.NormalizedMetadata) (*mle.Result, error) {
	switch {
	case strings.Contains(eventType, "created") || strings.Contains(eventType, "published"):
		return p.syncer.Create(ctx, data)
	case strings.Contains(eventType, "updated") || strings.Contains(eventType, "modified"):
		return p.syncer.Update(ctx, data.AssetID, data)
	case strings.Contains(eventType, "deleted") || strings.Contains(eventType, "removed"):
		return p.syncer.Remove(ctx, data.AssetID)
	default:
		p.logger.Warn("no operation matched event type, defaulting to create",
			zap.String("event_type", eventType))
		return p.syncer.Create(ctx, data)
	}
}

// finish emits the outcome event and archives failed payloads. Both are
// best-effort: a broken side channel never changes the sync outcome.
func (p *Processor) finish(ctx context.Context, event *InboundEvent, outcome *Outcome) {
	if p.publisher != nil {
		p.publishOutcome(ctx, event, outcome)
	}
	if p.archive != nil && (outcome.Status == StatusFailed || outcome.Status == StatusError) {
		p.archiveEvent(ctx, event, outcome)
	}
}

func (p *Processor) publishOutcome(ctx context.Context, event *InboundEvent, outcome *Outcome) {
	oe := SyncOutcomeEvent{
		ID:         uuid.NewString(),
		AssetID:    outcome.AssetID,
		AssetPath:  event.AssetPath,
		EventType:  event.EventType,
		Status:     outcome.Status,
		OccurredAt: time.Now().UTC(),
	}
	if outcome.Target != nil {
		oe.TargetID = outcome.Target.TargetID
		oe.Retryable = outcome.Target.Retryable
	}

	payload, err := json.Marshal(oe)
	if err != nil {
		p.logger.Error("marshal outcome event", zap.Error(err))
		return
	}

	key := []byte(outcome.AssetID)
	if len(key) == 0 {
		key = []byte(event.AssetPath)
	}
	headers := map[string]string{
		"event_type": "metabridge.sync." + outcome.Status,
	}
	if err := p.publisher.Publish(ctx, key, payload, headers); err != nil {
		p.logger.Error("publish outcome event", zap.Error(err))
	}
}

func (p *Processor) archiveEvent(ctx context.Context, event *InboundEvent, outcome *Outcome) {
	key := fmt.Sprintf("failed/%s/%s.json", time.Now().UTC().Format("2006/01/02"), uuid.NewString())
	meta := map[string]string{
		"event_type": event.EventType,
		"asset_path": event.AssetPath,
		"status":     outcome.Status,
	}
	if err := p.archive.Put(ctx, key, bytes.NewReader(event.Raw), int64(len(event.Raw)), meta); err != nil {
		p.logger.Error("archive failed event", zap.String("key", key), zap.Error(err))
	}
}
