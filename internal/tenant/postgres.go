package tenant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/haasonsaas/nexushub/internal/storage"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// PostgresSource reads tenant configuration from the control tables.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource creates a source backed by db.
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

const (
	tenantQuery = `SELECT id, llm_provider, llm_model, isolation_mode,
       COALESCE(max_tool_steps, 10),
       COALESCE(planning_enabled, TRUE),
       COALESCE(plan_timeout_seconds, 300)
FROM tenants
WHERE id = $1`

	promptQuery = `SELECT custom_system_prompt, override_mode, language_preference, tone_profile
FROM tenant_prompts
WHERE tenant_id = $1`

	enabledToolNamesQuery = `SELECT t.name
FROM tenant_tool_policies ttp
JOIN tools t ON ttp.tool_id = t.id
WHERE ttp.tenant_id = $1 AND ttp.is_enabled = TRUE
ORDER BY t.name`

	kbQuery = `SELECT name, provider, provider_config
FROM knowledge_bases
WHERE tenant_id = $1 AND is_active = TRUE`

	mcpQuery = `SELECT id, name, endpoint, auth_config
FROM mcp_servers
WHERE tenant_id = $1 AND is_active = TRUE`

	allowedToolsQuery = `SELECT t.id, t.name, t.description, t.provider, t.parameters_schema,
       t.implementation_ref, ttp.config_override,
       COALESCE(t.is_user_scoped, FALSE), COALESCE(t.user_context_params, '{}')
FROM tenant_tool_policies ttp
JOIN tools t ON ttp.tool_id = t.id
WHERE ttp.tenant_id = $1
  AND ttp.is_enabled = TRUE
  AND (t.is_internal IS NULL OR t.is_internal = FALSE)
ORDER BY t.name`

	tenantIDsQuery = `SELECT id FROM tenants ORDER BY id`

	fileSearchPolicyQuery = `SELECT t.name
FROM tenant_tool_policies ttp
JOIN tools t ON ttp.tool_id = t.id
WHERE ttp.tenant_id = $1 AND t.name = ANY($2) AND ttp.is_enabled = TRUE`
)

// Load implements Loader.
func (s *PostgresSource) Load(ctx context.Context, tenantID string) (*models.TenantContext, error) {
	tc := &models.TenantContext{TenantID: tenantID}
	err := storage.WithTenant(ctx, s.db, tenantID, func(q storage.Querier) error {
		if err := loadBase(ctx, q, tc); err != nil {
			return err
		}
		if err := loadPrompt(ctx, q, tc); err != nil {
			return err
		}
		names, err := queryStrings(ctx, q, enabledToolNamesQuery, tenantID)
		if err != nil {
			return fmt.Errorf("load tool policies: %w", err)
		}
		tc.AllowedTools = names
		if err := loadKnowledgeBases(ctx, q, tc); err != nil {
			return err
		}
		return loadMCPServers(ctx, q, tc)
	})
	if err != nil {
		return nil, err
	}
	return tc, nil
}

// TenantIDs implements Lister. The tenants table is not row-scoped.
func (s *PostgresSource) TenantIDs(ctx context.Context) ([]string, error) {
	ids, err := queryStrings(ctx, s.db, tenantIDsQuery)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return ids, nil
}

func loadBase(ctx context.Context, q storage.Querier, tc *models.TenantContext) error {
	var (
		id, provider       string
		model, isolation   sql.NullString
		maxSteps           int
		planning           bool
		planTimeoutSeconds int
	)
	err := q.QueryRowContext(ctx, tenantQuery, tc.TenantID).
		Scan(&id, &provider, &model, &isolation, &maxSteps, &planning, &planTimeoutSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, tc.TenantID)
	}
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}
	tc.LLMProvider = provider
	tc.LLMModel = model.String
	tc.IsolationMode = models.IsolationMode(isolation.String)
	if tc.IsolationMode == "" {
		tc.IsolationMode = models.IsolationSharedDB
	}
	tc.MaxToolSteps = maxSteps
	tc.PlanningEnabled = planning
	tc.PlanTimeout = time.Duration(planTimeoutSeconds) * time.Second
	return nil
}

func loadPrompt(ctx context.Context, q storage.Querier, tc *models.TenantContext) error {
	var (
		custom, mode, lang sql.NullString
		tone               []byte
	)
	err := q.QueryRowContext(ctx, promptQuery, tc.TenantID).Scan(&custom, &mode, &lang, &tone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load tenant prompt: %w", err)
	}
	tc.PromptProfile = models.PromptProfile{
		CustomSystemPrompt: custom.String,
		OverrideMode:       mode.String,
		LanguagePreference: lang.String,
	}
	if len(tone) > 0 {
		if err := json.Unmarshal(tone, &tc.PromptProfile.ToneProfile); err != nil {
			return fmt.Errorf("decode tone profile: %w", err)
		}
	}
	return nil
}

func loadKnowledgeBases(ctx context.Context, q storage.Querier, tc *models.TenantContext) error {
	rows, err := q.QueryContext(ctx, kbQuery, tc.TenantID)
	if err != nil {
		return fmt.Errorf("load knowledge bases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name, provider string
			raw            []byte
		)
		if err := rows.Scan(&name, &provider, &raw); err != nil {
			return fmt.Errorf("scan knowledge base: %w", err)
		}
		kind, err := models.ParseProviderKind(provider)
		if err != nil {
			return fmt.Errorf("knowledge base %q: %w", name, err)
		}
		kb := models.KBConfig{Provider: kind}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &kb.ProviderConfig); err != nil {
				return fmt.Errorf("decode knowledge base %q config: %w", name, err)
			}
		}
		if tc.KBConfigs == nil {
			tc.KBConfigs = make(map[string]models.KBConfig)
		}
		tc.KBConfigs[name] = kb
	}
	return rows.Err()
}

func loadMCPServers(ctx context.Context, q storage.Querier, tc *models.TenantContext) error {
	rows, err := q.QueryContext(ctx, mcpQuery, tc.TenantID)
	if err != nil {
		return fmt.Errorf("load mcp servers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, name, endpoint string
			raw                []byte
		)
		if err := rows.Scan(&id, &name, &endpoint, &raw); err != nil {
			return fmt.Errorf("scan mcp server: %w", err)
		}
		cfg := models.MCPServerConfig{ServerID: id, Endpoint: endpoint}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &cfg.AuthConfig); err != nil {
				return fmt.Errorf("decode mcp server %q auth config: %w", name, err)
			}
		}
		if tc.MCPConfigs == nil {
			tc.MCPConfigs = make(map[string]models.MCPServerConfig)
		}
		tc.MCPConfigs[name] = cfg
	}
	return rows.Err()
}

// AllowedTools implements ToolRegistry. Abstract tools are returned as is;
// the tool engine expands them at execution time.
func (s *PostgresSource) AllowedTools(ctx context.Context, tc *models.TenantContext) ([]models.ToolDefinition, error) {
	var defs []models.ToolDefinition
	err := storage.WithTenant(ctx, s.db, tc.TenantID, func(q storage.Querier) error {
		rows, err := q.QueryContext(ctx, allowedToolsQuery, tc.TenantID)
		if err != nil {
			return fmt.Errorf("load allowed tools: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				def                 models.ToolDefinition
				description         sql.NullString
				provider            string
				schema, ref, overlay []byte
				userParams          pq.StringArray
			)
			if err := rows.Scan(&def.ID, &def.Name, &description, &provider, &schema, &ref, &overlay,
				&def.IsUserScoped, &userParams); err != nil {
				return fmt.Errorf("scan tool: %w", err)
			}
			def.Description = description.String
			def.Provider = models.ProviderKind(provider)
			if len(schema) > 0 {
				def.ParametersSchema = json.RawMessage(schema)
			}
			var base, override map[string]any
			if len(ref) > 0 {
				if err := json.Unmarshal(ref, &base); err != nil {
					return fmt.Errorf("decode tool %q implementation ref: %w", def.Name, err)
				}
			}
			if len(overlay) > 0 {
				if err := json.Unmarshal(overlay, &override); err != nil {
					return fmt.Errorf("decode tool %q config override: %w", def.Name, err)
				}
			}
			def.ImplementationRef = mergeRef(base, override)
			def.UserContextParams = []string(userParams)
			defs = append(defs, def)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return defs, nil
}

// EnabledFileSearchProviders implements ToolPolicy.
func (s *PostgresSource) EnabledFileSearchProviders(ctx context.Context, tenantID string) ([]models.ProviderKind, error) {
	var names []string
	err := storage.WithTenant(ctx, s.db, tenantID, func(q storage.Querier) error {
		var err error
		names, err = queryStrings(ctx, q, fileSearchPolicyQuery, tenantID, pq.Array(fileSearchToolNames()))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load file search policy: %w", err)
	}
	return fileSearchKinds(names), nil
}

func queryStrings(ctx context.Context, q storage.Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
