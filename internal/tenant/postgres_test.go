package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"

	"github.com/haasonsaas/nexushub/pkg/models"
)

func setupMockSource(t *testing.T) (*PostgresSource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresSource(db), mock
}

func expectTenantScope(mock sqlmock.Sqlmock, tenantID string) {
	mock.ExpectBegin()
	mock.ExpectExec("set_config").WithArgs(tenantID).WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestPostgresSourceLoad(t *testing.T) {
	src, mock := setupMockSource(t)
	expectTenantScope(mock, "acme")

	mock.ExpectQuery("FROM tenants").WithArgs("acme").WillReturnRows(
		sqlmock.NewRows([]string{"id", "llm_provider", "llm_model", "isolation_mode", "max_tool_steps", "planning_enabled", "plan_timeout_seconds"}).
			AddRow("acme", "openai", "gpt-4o", nil, 6, false, 120))
	mock.ExpectQuery("FROM tenant_prompts").WithArgs("acme").WillReturnRows(
		sqlmock.NewRows([]string{"custom_system_prompt", "override_mode", "language_preference", "tone_profile"}).
			AddRow("Be brief.", "append", "es", []byte(`{"formality":"casual"}`)))
	mock.ExpectQuery("FROM tenant_tool_policies").WithArgs("acme").WillReturnRows(
		sqlmock.NewRows([]string{"name"}).AddRow("file_search").AddRow("order_status"))
	mock.ExpectQuery("FROM knowledge_bases").WithArgs("acme").WillReturnRows(
		sqlmock.NewRows([]string{"name", "provider", "provider_config"}).
			AddRow("docs", "openai_file", []byte(`{"vector_store_id":"vs_1"}`)))
	mock.ExpectQuery("FROM mcp_servers").WithArgs("acme").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "endpoint", "auth_config"}).
			AddRow("srv-1", "crm", "https://crm.example.com/mcp", []byte(`{"type":"bearer","token":"vault://secret/crm#token"}`)))
	mock.ExpectCommit()

	tc, err := src.Load(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := &models.TenantContext{
		TenantID:     "acme",
		LLMProvider:  "openai",
		LLMModel:     "gpt-4o",
		AllowedTools: []string{"file_search", "order_status"},
		KBConfigs: map[string]models.KBConfig{
			"docs": {Provider: models.ProviderOpenAIFile, ProviderConfig: map[string]any{"vector_store_id": "vs_1"}},
		},
		MCPConfigs: map[string]models.MCPServerConfig{
			"crm": {
				ServerID:   "srv-1",
				Endpoint:   "https://crm.example.com/mcp",
				AuthConfig: models.MCPAuthConfig{Type: "bearer", Token: "vault://secret/crm#token"},
			},
		},
		PromptProfile: models.PromptProfile{
			CustomSystemPrompt: "Be brief.",
			OverrideMode:       "append",
			LanguagePreference: "es",
			ToneProfile:        map[string]any{"formality": "casual"},
		},
		IsolationMode:   models.IsolationSharedDB,
		MaxToolSteps:    6,
		PlanningEnabled: false,
		PlanTimeout:     120 * time.Second,
	}
	if diff := cmp.Diff(want, tc); diff != "" {
		t.Errorf("TenantContext mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresSourceLoadNotFound(t *testing.T) {
	src, mock := setupMockSource(t)
	expectTenantScope(mock, "ghost")
	mock.ExpectQuery("FROM tenants").WithArgs("ghost").WillReturnRows(
		sqlmock.NewRows([]string{"id", "llm_provider", "llm_model", "isolation_mode", "max_tool_steps", "planning_enabled", "plan_timeout_seconds"}))
	mock.ExpectRollback()

	_, err := src.Load(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresSourceAllowedTools(t *testing.T) {
	src, mock := setupMockSource(t)
	expectTenantScope(mock, "acme")
	mock.ExpectQuery("is_internal").WithArgs("acme").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "description", "provider", "parameters_schema", "implementation_ref", "config_override", "is_user_scoped", "user_context_params"}).
			AddRow("t1", "order_status", "Look up an order", "custom_http",
				[]byte(`{"type":"object"}`),
				[]byte(`{"url":"https://orders.example.com","timeout":5}`),
				[]byte(`{"url":"https://orders.acme.example.com"}`),
				true, "{user_id,customer_id}").
			AddRow("t2", "file_search", nil, "internal_rag", nil, nil, nil, false, "{}"))
	mock.ExpectCommit()

	defs, err := src.AllowedTools(context.Background(), &models.TenantContext{TenantID: "acme"})
	if err != nil {
		t.Fatalf("AllowedTools() error = %v", err)
	}
	want := []models.ToolDefinition{
		{
			ID:                "t1",
			Name:              "order_status",
			Description:       "Look up an order",
			Provider:          models.ProviderCustomHTTP,
			ParametersSchema:  []byte(`{"type":"object"}`),
			ImplementationRef: map[string]any{"url": "https://orders.acme.example.com", "timeout": 5.0},
			IsUserScoped:      true,
			UserContextParams: []string{"user_id", "customer_id"},
		},
		{
			ID:                "t2",
			Name:              "file_search",
			Provider:          models.ProviderInternalRAG,
			UserContextParams: []string{},
		},
	}
	if diff := cmp.Diff(want, defs); diff != "" {
		t.Errorf("tools mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresSourceEnabledFileSearchProviders(t *testing.T) {
	src, mock := setupMockSource(t)
	expectTenantScope(mock, "acme")
	mock.ExpectQuery("ANY").WithArgs("acme", sqlmock.AnyArg()).WillReturnRows(
		sqlmock.NewRows([]string{"name"}).AddRow("gemini_file_search").AddRow("internal_rag_search"))
	mock.ExpectCommit()

	kinds, err := src.EnabledFileSearchProviders(context.Background(), "acme")
	if err != nil {
		t.Fatalf("EnabledFileSearchProviders() error = %v", err)
	}
	want := []models.ProviderKind{models.ProviderInternalRAG, models.ProviderGeminiFile}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresSourceTenantIDs(t *testing.T) {
	src, mock := setupMockSource(t)
	mock.ExpectQuery("SELECT id FROM tenants").WillReturnRows(
		sqlmock.NewRows([]string{"id"}).AddRow("acme").AddRow("globex"))

	ids, err := src.TenantIDs(context.Background())
	if err != nil {
		t.Fatalf("TenantIDs() error = %v", err)
	}
	if diff := cmp.Diff([]string{"acme", "globex"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
