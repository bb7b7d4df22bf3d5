package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/metabridge/internal/mle"
	"github.com/your-org/metabridge/internal/transform"
)

type recordingSyncer struct {
	result *mle.Result
	err    error

	operation string
	lastID    string
	lastData  *transform.NormalizedMetadata
	calls     int
}

func (r *recordingSyncer) Create(ctx context.Context, data *transform.NormalizedMetadata) (*mle.Result, error) {
	r.operation, r.lastData = "create", data
	r.calls++
	return r.result, r.err
}

func (r *recordingSyncer) Update(ctx context.Context, id string, data *transform.NormalizedMetadata) (*mle.Result, error) {
	r.operation, r.lastID, r.lastData = "update", id, data
	r.calls++
	return r.result, r.err
}

func (r *recordingSyncer) Remove(ctx context.Context, id string) (*mle.Result, error) {
	r.operation, r.lastID = "remove", id
	r.calls++
	return r.result, r.err
}

type recordingPublisher struct {
	keys    []string
	events  []SyncOutcomeEvent
	headers []map[string]string
}

func (r *recordingPublisher) Publish(ctx context.Context, key, value []byte, headers map[string]string) error {
	var oe SyncOutcomeEvent
	if err := json.Unmarshal(value, &oe); err != nil {
		return err
	}
	r.keys = append(r.keys, string(key))
	r.events = append(r.events, oe)
	r.headers = append(r.headers, headers)
	return nil
}

type recordingArchiver struct {
	keys     []string
	payloads [][]byte
	metadata []map[string]string
}

func (r *recordingArchiver) Put(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error {
	payload, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	r.keys = append(r.keys, key)
	r.payloads = append(r.payloads, payload)
	r.metadata = append(r.metadata, metadata)
	return nil
}

func approvedEvent(eventType string) *InboundEvent {
	return &InboundEvent{
		EventType: eventType,
		AssetPath: "/content/dam/p.jpg",
		Metadata: map[string]any{
			"dam:status": "approved",
			"dc:title":   "T",
			"jcr:uuid":   "u1",
		},
		Raw: []byte(`{"event_type":"` + eventType + `"}`),
	}
}

func newTestProcessor(syncer mle.Syncer, pub Publisher, arch Archiver) *Processor {
	return New(Params{
		Transformer: transform.NewTransformer("https://author.example.com", "https://publish.example.com"),
		Syncer:      syncer,
		Publisher:   pub,
		Archive:     arch,
	})
}

func TestParseEvent(t *testing.T) {
	t.Run("parses the AEM envelope", func(t *testing.T) {
		raw := []byte(`{
			"event_type": "com.adobe.aem.assets.updated",
			"data": {
				"timestamp": "2026-08-01T12:00:00Z",
				"payload": {
					"path": "/content/dam/p.jpg",
					"metadata": {"dam:status": "approved", "jcr:uuid": "u1"}
				}
			}
		}`)
		event, err := ParseEvent(raw)
		require.NoError(t, err)
		assert.Equal(t, "com.adobe.aem.assets.updated", event.EventType)
		assert.Equal(t, "2026-08-01T12:00:00Z", event.Timestamp)
		assert.Equal(t, "/content/dam/p.jpg", event.AssetPath)
		assert.Equal(t, "approved", event.Metadata["dam:status"])
		assert.Equal(t, raw, event.Raw)
	})

	t.Run("rejects invalid JSON", func(t *testing.T) {
		_, err := ParseEvent([]byte(`{not json`))
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})

	t.Run("rejects a missing event type", func(t *testing.T) {
		_, err := ParseEvent([]byte(`{"data":{}}`))
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})
}

func TestProcessable(t *testing.T) {
	assert.True(t, Processable("com.adobe.aem.assets.created"))
	assert.True(t, Processable("com.adobe.aem.assets.updated"))
	assert.True(t, Processable("com.adobe.aem.assets.deleted"))
	assert.True(t, Processable("com.adobe.aem.assets.removed"))
	assert.True(t, Processable("com.adobe.aem.assets.metadata_updated"))
	assert.True(t, Processable("com.adobe.aem.assets.workflow_completed"))
	assert.False(t, Processable("com.adobe.aem.page.updated"))
	assert.False(t, Processable("com.adobe.aem.user.created"))
	assert.False(t, Processable(""))
}

func TestProcess_UpdateFlow(t *testing.T) {
	// Approved asset on an updated event dispatches an update against the
	// explicit uuid and completes on API success.
	syncer := &recordingSyncer{result: &mle.Result{Success: true, TargetID: "u1", Status: "200 OK"}}
	pub := &recordingPublisher{}
	p := newTestProcessor(syncer, pub, nil)

	outcome := p.Process(context.Background(), approvedEvent("com.adobe.aem.assets.updated"))

	assert.Equal(t, StatusCompleted, outcome.Status)
	assert.Equal(t, "u1", outcome.AssetID)
	assert.Empty(t, outcome.Errors)
	require.NotNil(t, outcome.Target)
	assert.True(t, outcome.Target.Success)

	assert.Equal(t, "update", syncer.operation)
	assert.Equal(t, "u1", syncer.lastID)
	require.NotNil(t, syncer.lastData)
	assert.Equal(t, "T", syncer.lastData.Title)
	assert.Equal(t, "approved", syncer.lastData.ApprovalStatus)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "u1", pub.keys[0])
	assert.Equal(t, StatusCompleted, pub.events[0].Status)
	assert.Equal(t, "metabridge.sync.completed", pub.headers[0]["event_type"])
}

func TestProcess_DispatchSelection(t *testing.T) {
	cases := []struct {
		eventType string
		operation string
	}{
		{"com.adobe.aem.assets.created", "create"},
		{"com.adobe.aem.assets.updated", "update"},
		{"com.adobe.aem.assets.deleted", "remove"},
		{"com.adobe.aem.assets.removed", "remove"},
		{"com.adobe.aem.assets.metadata_updated", "update"},
		// No created/updated/deleted substring: defensive create.
		{"com.adobe.aem.assets.workflow_completed", "create"},
	}

	for _, tc := range cases {
		t.Run(tc.eventType, func(t *testing.T) {
			syncer := &recordingSyncer{result: &mle.Result{Success: true}}
			p := newTestProcessor(syncer, nil, nil)
			outcome := p.Process(context.Background(), approvedEvent(tc.eventType))
			assert.Equal(t, StatusCompleted, outcome.Status)
			assert.Equal(t, tc.operation, syncer.operation)
		})
	}
}

func TestProcess_SkippedWhenNotApproved(t *testing.T) {
	syncer := &recordingSyncer{result: &mle.Result{Success: true}}
	pub := &recordingPublisher{}
	p := newTestProcessor(syncer, pub, nil)

	event := approvedEvent("com.adobe.aem.assets.updated")
	event.Metadata["dam:status"] = "draft"

	outcome := p.Process(context.Background(), event)

	assert.Equal(t, StatusSkipped, outcome.Status)
	assert.Zero(t, syncer.calls, "no outbound call for unapproved assets")
	require.Len(t, pub.events, 1)
	assert.Equal(t, StatusSkipped, pub.events[0].Status)
}

func TestProcess_IgnoredEventType(t *testing.T) {
	syncer := &recordingSyncer{result: &mle.Result{Success: true}}
	p := newTestProcessor(syncer, nil, nil)

	event := approvedEvent("com.adobe.aem.page.updated")
	outcome := p.Process(context.Background(), event)

	assert.Equal(t, StatusIgnored, outcome.Status)
	assert.NotEmpty(t, outcome.Reason)
	assert.Zero(t, syncer.calls, "ignored events never reach approval or transform")
}

func TestProcess_FailedSync(t *testing.T) {
	syncer := &recordingSyncer{result: &mle.Result{
		Success:   false,
		Status:    "500 Internal Server Error",
		Retryable: true,
		Error: &mle.ErrorDetail{
			System:     "target",
			Message:    "mle returned 500",
			StatusCode: 500,
			Retryable:  true,
		},
	}}
	arch := &recordingArchiver{}
	p := newTestProcessor(syncer, nil, arch)

	event := approvedEvent("com.adobe.aem.assets.updated")
	outcome := p.Process(context.Background(), event)

	assert.Equal(t, StatusFailed, outcome.Status)
	require.Len(t, outcome.Errors, 1)
	assert.Equal(t, "target", outcome.Errors[0].System)
	assert.True(t, outcome.Errors[0].Retryable)

	require.Len(t, arch.keys, 1)
	assert.Contains(t, arch.keys[0], "failed/")
	assert.Equal(t, event.Raw, arch.payloads[0])
	assert.Equal(t, StatusFailed, arch.metadata[0]["status"])
}

func TestProcess_DispatchError(t *testing.T) {
	syncer := &recordingSyncer{err: context.DeadlineExceeded}
	arch := &recordingArchiver{}
	p := newTestProcessor(syncer, nil, arch)

	outcome := p.Process(context.Background(), approvedEvent("com.adobe.aem.assets.updated"))

	assert.Equal(t, StatusError, outcome.Status)
	require.Len(t, outcome.Errors, 1)
	assert.True(t, outcome.Errors[0].Retryable)
	assert.Len(t, arch.keys, 1, "errored events are archived for replay")
}

func TestProcess_SideChannelsAreBestEffort(t *testing.T) {
	syncer := &recordingSyncer{result: &mle.Result{Success: true, TargetID: "u1"}}
	p := newTestProcessor(syncer, failingPublisher{}, nil)

	outcome := p.Process(context.Background(), approvedEvent("com.adobe.aem.assets.updated"))
	assert.Equal(t, StatusCompleted, outcome.Status)
}

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, key, value []byte, headers map[string]string) error {
	return bytes.ErrTooLarge
}
