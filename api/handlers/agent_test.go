package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/stageflow/api"
	"github.com/BaSui01/stageflow/store"
)

func setupAgentHandler(t *testing.T) (*AgentHandler, *store.Store) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&store.Agent{}, &store.Stage{}, &store.Session{}, &store.KnowledgeDocument{}))

	st := store.NewStore(db, zap.NewNop())
	return NewAgentHandler(st, zap.NewNop()), st
}

func postJSON(t *testing.T, payload interface{}) *bytes.Buffer {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return bytes.NewBuffer(data)
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) Response {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *ErrorInfo      `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	if data != nil && resp.Data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return Response{Success: resp.Success, Error: resp.Error}
}

func TestAgentHandler_CreateWithStages(t *testing.T) {
	h, _ := setupAgentHandler(t)

	req := api.CreateAgentRequest{
		Name:        "Sofia",
		CompanyName: "Impulso Digital",
		Tone:        "consultivo",
		Stages: []api.StageSpec{
			{Name: "Identificação", Order: 1, Type: "identification", RequiredVariables: []string{"nome", "area"}},
			{Name: "Agendamento", Order: 2, Type: "schedule", RequiredVariables: []string{"email"}},
		},
	}

	rec := httptest.NewRecorder()
	h.HandleCreate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/agents", postJSON(t, req)))

	require.Equal(t, http.StatusCreated, rec.Code)
	var got api.AgentResponse
	resp := decodeResponse(t, rec, &got)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "Sofia", got.Name)
	assert.Equal(t, "pt-BR", got.Language)
	assert.True(t, got.Active)
	require.Len(t, got.Stages, 2)
	assert.Equal(t, "identification", got.Stages[0].Type)
	assert.Equal(t, []string{"nome", "area"}, got.Stages[0].RequiredVariables)
}

func TestAgentHandler_CreateRequiresName(t *testing.T) {
	h, _ := setupAgentHandler(t)

	rec := httptest.NewRecorder()
	h.HandleCreate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/agents", postJSON(t, api.CreateAgentRequest{})))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec, nil)
	assert.False(t, resp.Success)
	assert.Equal(t, "MISSING_FIELD", resp.Error.Code)
}

func TestAgentHandler_GetWithStages(t *testing.T) {
	h, st := setupAgentHandler(t)
	ctx := context.Background()

	agent := &store.Agent{Name: "Sofia"}
	require.NoError(t, st.CreateAgent(ctx, agent))
	require.NoError(t, st.CreateStage(ctx, &store.Stage{AgentID: agent.ID, Name: "Identificação", StageOrder: 1}))

	r := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/agents/%s", agent.ID), nil)
	r.SetPathValue("id", agent.ID)
	rec := httptest.NewRecorder()
	h.HandleGet(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	var got api.AgentResponse
	decodeResponse(t, rec, &got)
	assert.Equal(t, agent.ID, got.ID)
	require.Len(t, got.Stages, 1)
	assert.Equal(t, "Identificação", got.Stages[0].Name)
}

func TestAgentHandler_GetNotFound(t *testing.T) {
	h, _ := setupAgentHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/agents/nope", nil)
	r.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()
	h.HandleGet(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResponse(t, rec, nil)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestAgentHandler_List(t *testing.T) {
	h, st := setupAgentHandler(t)
	ctx := context.Background()
	require.NoError(t, st.CreateAgent(ctx, &store.Agent{Name: "Sofia"}))
	require.NoError(t, st.CreateAgent(ctx, &store.Agent{Name: "Marcos"}))

	rec := httptest.NewRecorder()
	h.HandleList(rec, httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got api.AgentListResponse
	decodeResponse(t, rec, &got)
	assert.Len(t, got.Agents, 2)
}

func TestAgentHandler_KnowledgeLifecycle(t *testing.T) {
	h, st := setupAgentHandler(t)
	ctx := context.Background()
	agent := &store.Agent{Name: "Sofia"}
	require.NoError(t, st.CreateAgent(ctx, agent))

	create := api.CreateKnowledgeRequest{
		Title:   "Tabela de preços",
		Content: "O plano básico custa R$ 500.",
		Tags:    []string{"preço"},
	}
	r := httptest.NewRequest(http.MethodPost, "/api/v1/agents/"+agent.ID+"/knowledge", postJSON(t, create))
	r.SetPathValue("id", agent.ID)
	rec := httptest.NewRecorder()
	h.HandleCreateKnowledge(rec, r)
	require.Equal(t, http.StatusCreated, rec.Code)

	r = httptest.NewRequest(http.MethodGet, "/api/v1/agents/"+agent.ID+"/knowledge", nil)
	r.SetPathValue("id", agent.ID)
	rec = httptest.NewRecorder()
	h.HandleListKnowledge(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	var docs []api.KnowledgeResponse
	decodeResponse(t, rec, &docs)
	require.Len(t, docs, 1)
	assert.Equal(t, "Tabela de preços", docs[0].Title)
}

func TestAgentHandler_KnowledgeForMissingAgent(t *testing.T) {
	h, _ := setupAgentHandler(t)

	create := api.CreateKnowledgeRequest{Title: "T", Content: "C"}
	r := httptest.NewRequest(http.MethodPost, "/api/v1/agents/nope/knowledge", postJSON(t, create))
	r.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()
	h.HandleCreateKnowledge(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentHandler_GetSession(t *testing.T) {
	h, st := setupAgentHandler(t)
	ctx := context.Background()

	agent := &store.Agent{Name: "Sofia"}
	require.NoError(t, st.CreateAgent(ctx, agent))
	require.NoError(t, st.CreateStage(ctx, &store.Stage{AgentID: agent.ID, Name: "Identificação", StageOrder: 1}))

	session, err := st.GetOrCreateSession(ctx, agent.ID, "user-1", "+5511999990000")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/agents/"+agent.ID+"/sessions/+5511999990000", nil)
	r.SetPathValue("id", agent.ID)
	r.SetPathValue("thread", "+5511999990000")
	rec := httptest.NewRecorder()
	h.HandleGetSession(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	var got api.SessionResponse
	decodeResponse(t, rec, &got)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, session.CurrentStageID, got.CurrentStageID)
	assert.Equal(t, 0, got.Turns)
}

func TestAgentHandler_GetSessionNotFound(t *testing.T) {
	h, st := setupAgentHandler(t)
	ctx := context.Background()
	agent := &store.Agent{Name: "Sofia"}
	require.NoError(t, st.CreateAgent(ctx, agent))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/agents/"+agent.ID+"/sessions/unknown", nil)
	r.SetPathValue("id", agent.ID)
	r.SetPathValue("thread", "unknown")
	rec := httptest.NewRecorder()
	h.HandleGetSession(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
