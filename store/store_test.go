package store

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&Agent{}, &Stage{}, &Session{}, &KnowledgeDocument{})
	require.NoError(t, err)

	return NewStore(db, zap.NewNop())
}

func seedAgent(t *testing.T, s *Store) (*Agent, []Stage) {
	t.Helper()
	ctx := context.Background()

	agent := &Agent{
		Name:        "Sofia",
		CompanyName: "Consultoria XYZ",
		Tone:        "consultivo",
		Language:    "pt-BR",
		ModelConfig: ModelConfig{Provider: "openai", Model: "gpt-4o-mini"},
		Active:      true,
	}
	require.NoError(t, s.CreateAgent(ctx, agent))

	defs := []Stage{
		{AgentID: agent.ID, Name: "Identificação", StageOrder: 1, StageType: StageTypeIdentification, RequiredVariables: StringList{"nome", "area"}},
		{AgentID: agent.ID, Name: "Diagnóstico", StageOrder: 2, StageType: StageTypeDiagnosis, RequiredVariables: StringList{"desafio"}},
		{AgentID: agent.ID, Name: "Agendamento", StageOrder: 3, StageType: StageTypeSchedule, RequiredVariables: StringList{"email", "data_reuniao"}},
		{AgentID: agent.ID, Name: "Humano", StageOrder: 4, StageType: StageTypeTransfer},
	}
	for i := range defs {
		require.NoError(t, s.CreateStage(ctx, &defs[i]))
	}

	stages, err := s.ListStages(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, stages, 4)
	return agent, stages
}

func TestCreateAndGetAgent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	agent := &Agent{Name: "Sofia", Active: true}
	require.NoError(t, s.CreateAgent(ctx, agent))
	assert.NotEmpty(t, agent.ID)
	assert.Equal(t, "pt-BR", agent.Language)

	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sofia", got.Name)
	assert.True(t, got.Active)
}

func TestGetAgent_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetAgent(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestListStages_OrderedByStageOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	agent := &Agent{Name: "Sofia"}
	require.NoError(t, s.CreateAgent(ctx, agent))

	// 乱序插入
	for _, st := range []Stage{
		{AgentID: agent.ID, Name: "terceira", StageOrder: 3},
		{AgentID: agent.ID, Name: "primeira", StageOrder: 1},
		{AgentID: agent.ID, Name: "segunda", StageOrder: 2},
	} {
		stage := st
		require.NoError(t, s.CreateStage(ctx, &stage))
	}

	stages, err := s.ListStages(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, stages, 3)
	assert.Equal(t, "primeira", stages[0].Name)
	assert.Equal(t, "segunda", stages[1].Name)
	assert.Equal(t, "terceira", stages[2].Name)
}

func TestGetOrCreateSession_DefaultsToFirstStage(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	agent, stages := seedAgent(t, s)

	session, err := s.GetOrCreateSession(ctx, agent.ID, "user-1", "5511999990000")
	require.NoError(t, err)

	assert.Equal(t, stages[0].ID, session.CurrentStageID)
	assert.Nil(t, session.PreviousStageID)
	assert.Equal(t, StringList{stages[0].ID}, session.StageHistory)
	assert.Empty(t, session.Variables)

	// 再次调用返回同一会话
	again, err := s.GetOrCreateSession(ctx, agent.ID, "user-1", "5511999990000")
	require.NoError(t, err)
	assert.Equal(t, session.ID, again.ID)
}

func TestGetOrCreateSession_NoStages(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	agent := &Agent{Name: "vazio"}
	require.NoError(t, s.CreateAgent(ctx, agent))

	_, err := s.GetOrCreateSession(ctx, agent.ID, "user-1", "thread-1")
	assert.ErrorIs(t, err, ErrNoStages)
}

func TestTransitionStage(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	agent, stages := seedAgent(t, s)

	session, err := s.GetOrCreateSession(ctx, agent.ID, "user-1", "thread-1")
	require.NoError(t, err)

	require.NoError(t, s.TransitionStage(ctx, session, stages[1].ID))

	assert.Equal(t, stages[1].ID, session.CurrentStageID)
	require.NotNil(t, session.PreviousStageID)
	assert.Equal(t, stages[0].ID, *session.PreviousStageID)
	assert.Equal(t, StringList{stages[0].ID, stages[1].ID}, session.StageHistory)

	// 重新加载验证持久化
	reloaded, err := s.GetSession(ctx, agent.ID, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, stages[1].ID, reloaded.CurrentStageID)
	assert.Equal(t, StringList{stages[0].ID, stages[1].ID}, reloaded.StageHistory)
	assert.Equal(t, reloaded.CurrentStageID, reloaded.StageHistory[len(reloaded.StageHistory)-1])
}

func TestTransitionStage_HistoryAllowsRevisit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	agent, stages := seedAgent(t, s)

	session, err := s.GetOrCreateSession(ctx, agent.ID, "user-1", "thread-1")
	require.NoError(t, err)

	require.NoError(t, s.TransitionStage(ctx, session, stages[1].ID))
	require.NoError(t, s.TransitionStage(ctx, session, stages[0].ID))

	assert.Equal(t, StringList{stages[0].ID, stages[1].ID, stages[0].ID}, session.StageHistory)
}

func TestSaveSession_PersistsVariables(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	agent, _ := seedAgent(t, s)

	session, err := s.GetOrCreateSession(ctx, agent.ID, "user-1", "thread-1")
	require.NoError(t, err)

	session.Variables = MergeVariables(session.Variables, map[string]string{
		"nome": "Carlos",
		"area": "varejo",
	})
	require.NoError(t, s.SaveSession(ctx, session))

	reloaded, err := s.GetSession(ctx, agent.ID, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "Carlos", reloaded.Variables.Get("nome"))
	assert.Equal(t, "varejo", reloaded.Variables.Get("area"))
	assert.True(t, reloaded.Variables.Has("nome"))
	assert.False(t, reloaded.Variables.Has("email"))
}

func TestAppendHistory(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	agent, _ := seedAgent(t, s)

	session, err := s.GetOrCreateSession(ctx, agent.ID, "user-1", "thread-1")
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	err = s.AppendHistory(ctx, session,
		HistoryMessage{Role: "user", Content: "Oi, tudo bem?", CreatedAt: now},
		HistoryMessage{Role: "assistant", Content: "Olá! Tudo ótimo.", CreatedAt: now},
	)
	require.NoError(t, err)

	reloaded, err := s.GetSession(ctx, agent.ID, "thread-1")
	require.NoError(t, err)
	require.Len(t, reloaded.History, 2)
	assert.Equal(t, "user", reloaded.History[0].Role)
	assert.Equal(t, "Oi, tudo bem?", reloaded.History[0].Content)
}

func TestKnowledgeDocuments(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	agent, _ := seedAgent(t, s)

	doc := &KnowledgeDocument{
		AgentID: agent.ID,
		Title:   "Tabela de preços",
		Content: "O plano básico custa R$ 500 por mês.",
		Tags:    StringList{"preço", "planos"},
	}
	require.NoError(t, s.CreateKnowledgeDocument(ctx, doc))
	assert.NotEmpty(t, doc.ID)

	docs, err := s.ListKnowledgeDocuments(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Tabela de preços", docs[0].Title)
	assert.Equal(t, StringList{"preço", "planos"}, docs[0].Tags)
}

func TestCatalogHelpers(t *testing.T) {
	s := setupTestStore(t)
	_, stages := seedAgent(t, s)

	t.Run("FindStage", func(t *testing.T) {
		got, ok := FindStage(stages, stages[2].ID)
		require.True(t, ok)
		assert.Equal(t, "Agendamento", got.Name)

		_, ok = FindStage(stages, "missing")
		assert.False(t, ok)
	})

	t.Run("FindStageByType", func(t *testing.T) {
		got, ok := FindStageByType(stages, StageTypeSchedule)
		require.True(t, ok)
		assert.Equal(t, "Agendamento", got.Name)

		_, ok = FindStageByType([]Stage{}, StageTypeSchedule)
		assert.False(t, ok)
	})

	t.Run("NextStage", func(t *testing.T) {
		next, ok := NextStage(stages, stages[0].ID)
		require.True(t, ok)
		assert.Equal(t, stages[1].ID, next.ID)

		_, ok = NextStage(stages, stages[len(stages)-1].ID)
		assert.False(t, ok, "última etapa não tem sucessor")

		_, ok = NextStage(stages, "missing")
		assert.False(t, ok)
	})

	t.Run("StageIndex", func(t *testing.T) {
		assert.Equal(t, 1, StageIndex(stages, stages[1].ID))
		assert.Equal(t, -1, StageIndex(stages, "missing"))
	})
}

func TestMergeVariables(t *testing.T) {
	dst := VariableMap{"area": "serviços"}

	dst = MergeVariables(dst, map[string]string{
		"nome": "Ana",
		"area": "varejo",
		"dor":  "",
	})

	assert.Equal(t, "Ana", dst["nome"])
	assert.Equal(t, "varejo", dst["area"], "valor não vazio sobrescreve")
	assert.NotContains(t, dst, "dor", "valor vazio é descartado")

	merged := MergeVariables(nil, map[string]string{"email": "ana@exemplo.com"})
	assert.Equal(t, "ana@exemplo.com", merged["email"])
}

func TestModelConfigRoundtrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	agent := &Agent{
		Name: "Sofia",
		ModelConfig: ModelConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-20250514",
			Temperature: 0.3,
			MaxTokens:   2048,
		},
	}
	require.NoError(t, s.CreateAgent(ctx, agent))

	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", got.ModelConfig.Provider)
	assert.Equal(t, 0.3, got.ModelConfig.Temperature)
	assert.Equal(t, 2048, got.ModelConfig.MaxTokens)
}
