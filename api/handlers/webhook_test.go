package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/stageflow/api"
	"github.com/BaSui01/stageflow/debounce"
)

type recordingProcessor struct {
	mu    sync.Mutex
	texts []string
}

func (p *recordingProcessor) ProcessMessage(_ context.Context, _, _, _, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, text)
	return "ok", nil
}

type nopSender struct{}

func (nopSender) Send(context.Context, string, string) error { return nil }
func (nopSender) MarkRead(context.Context, string) error     { return nil }

func newWebhookFixture(t *testing.T) (*WebhookHandler, *debounce.Debouncer) {
	t.Helper()
	d := debounce.New(
		debounce.Config{QuietWindow: time.Hour, FlushTimeout: time.Minute},
		&recordingProcessor{}, nopSender{}, nil, zap.NewNop(),
	)
	t.Cleanup(d.Close)
	return NewWebhookHandler(d, zap.NewNop()), d
}

func inboundRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/webhook/messages", bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestWebhookHandler_QueuesMessage(t *testing.T) {
	h, d := newWebhookFixture(t)

	rec := httptest.NewRecorder()
	h.HandleInbound(rec, inboundRequest(`{"agent_id":"a1","identity":"+5511999990000","text":"Oi"}`))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var got api.WebhookMessageResponse
	decodeResponse(t, rec, &got)
	assert.True(t, got.Queued)
	assert.Equal(t, 1, got.Pending)
	assert.Equal(t, 1, d.Pending("+5511999990000"))
}

func TestWebhookHandler_PendingCountsCoalesced(t *testing.T) {
	h, _ := newWebhookFixture(t)

	rec := httptest.NewRecorder()
	h.HandleInbound(rec, inboundRequest(`{"agent_id":"a1","identity":"+55","text":"Oi"}`))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleInbound(rec, inboundRequest(`{"agent_id":"a1","identity":"+55","text":"quero agendar"}`))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var got api.WebhookMessageResponse
	decodeResponse(t, rec, &got)
	assert.Equal(t, 2, got.Pending)
}

func TestWebhookHandler_MissingFields(t *testing.T) {
	h, _ := newWebhookFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"no agent", `{"identity":"+55","text":"Oi"}`},
		{"no identity", `{"agent_id":"a1","text":"Oi"}`},
		{"no text", `{"agent_id":"a1","identity":"+55"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.HandleInbound(rec, inboundRequest(tt.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeResponse(t, rec, nil)
			assert.Equal(t, "MISSING_FIELD", resp.Error.Code)
		})
	}
}

func TestWebhookHandler_RequiresJSONContentType(t *testing.T) {
	h, _ := newWebhookFixture(t)

	r := httptest.NewRequest(http.MethodPost, "/webhook/messages", bytes.NewBufferString("oi"))
	r.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.HandleInbound(rec, r)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestWebhookHandler_MethodNotAllowed(t *testing.T) {
	h, _ := newWebhookFixture(t)

	rec := httptest.NewRecorder()
	h.HandleInbound(rec, httptest.NewRequest(http.MethodGet, "/webhook/messages", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhookHandler_ClosedDebouncer(t *testing.T) {
	h, d := newWebhookFixture(t)
	d.Close()

	rec := httptest.NewRecorder()
	h.HandleInbound(rec, inboundRequest(`{"agent_id":"a1","identity":"+55","text":"Oi"}`))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
