package tenant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/nexushub/pkg/models"
)

// FileSource serves tenant configuration from a YAML file. It is meant for
// development and single-node deployments; Watch reloads it on change.
type FileSource struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	tenants map[string]*fileEntry

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
	debounce    time.Duration
}

type fileEntry struct {
	tc    models.TenantContext
	tools []models.ToolDefinition
}

type fileDocument struct {
	Tenants []fileTenant `yaml:"tenants"`
}

type fileTenant struct {
	ID              string                            `yaml:"id"`
	LLMProvider     string                            `yaml:"llm_provider"`
	LLMModel        string                            `yaml:"llm_model"`
	IsolationMode   models.IsolationMode              `yaml:"isolation_mode"`
	MaxToolSteps    int                               `yaml:"max_tool_steps"`
	PlanningEnabled *bool                             `yaml:"planning_enabled"`
	PlanTimeout     time.Duration                     `yaml:"plan_timeout"`
	Prompt          models.PromptProfile              `yaml:"prompt"`
	KnowledgeBases  map[string]models.KBConfig        `yaml:"knowledge_bases"`
	MCPServers      map[string]models.MCPServerConfig `yaml:"mcp_servers"`
	Tools           []fileTool                        `yaml:"tools"`
}

type fileTool struct {
	Name              string         `yaml:"name"`
	Description       string         `yaml:"description"`
	Provider          string         `yaml:"provider"`
	Parameters        map[string]any `yaml:"parameters"`
	ImplementationRef map[string]any `yaml:"implementation_ref"`
	IsUserScoped      bool           `yaml:"is_user_scoped"`
	UserContextParams []string       `yaml:"user_context_params"`
	Enabled           *bool          `yaml:"enabled"`
}

// FileOption configures a FileSource.
type FileOption func(*FileSource)

// WithFileLogger sets the logger.
func WithFileLogger(l *slog.Logger) FileOption {
	return func(s *FileSource) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithReloadDebounce sets how long Watch waits for writes to settle.
func WithReloadDebounce(d time.Duration) FileOption {
	return func(s *FileSource) { s.debounce = d }
}

// NewFileSource reads path and returns a source serving its tenants.
func NewFileSource(path string, opts ...FileOption) (*FileSource, error) {
	s := &FileSource{
		path:     path,
		logger:   slog.Default(),
		debounce: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "tenant_file")
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file. On error the previous snapshot stays in place.
func (s *FileSource) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read tenants file: %w", err)
	}
	tenants, err := parseTenantFile(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.tenants = tenants
	s.mu.Unlock()
	s.logger.Info("tenants loaded", "path", s.path, "count", len(tenants))
	return nil
}

func parseTenantFile(data []byte) (map[string]*fileEntry, error) {
	var doc fileDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	out := make(map[string]*fileEntry, len(doc.Tenants))
	for i, ft := range doc.Tenants {
		if ft.ID == "" {
			return nil, fmt.Errorf("tenants[%d]: id is required", i)
		}
		if _, dup := out[ft.ID]; dup {
			return nil, fmt.Errorf("tenants[%d]: duplicate id %q", i, ft.ID)
		}
		entry := &fileEntry{tc: models.TenantContext{
			TenantID:        ft.ID,
			LLMProvider:     ft.LLMProvider,
			LLMModel:        ft.LLMModel,
			KBConfigs:       ft.KnowledgeBases,
			MCPConfigs:      ft.MCPServers,
			PromptProfile:   ft.Prompt,
			IsolationMode:   ft.IsolationMode,
			MaxToolSteps:    ft.MaxToolSteps,
			PlanningEnabled: ft.PlanningEnabled == nil || *ft.PlanningEnabled,
			PlanTimeout:     ft.PlanTimeout,
		}}
		if entry.tc.IsolationMode == "" {
			entry.tc.IsolationMode = models.IsolationSharedDB
		}
		if entry.tc.MaxToolSteps <= 0 {
			entry.tc.MaxToolSteps = models.DefaultMaxToolSteps
		}
		if entry.tc.PlanTimeout <= 0 {
			entry.tc.PlanTimeout = models.DefaultPlanTimeout
		}
		for name, kb := range ft.KnowledgeBases {
			if !kb.Provider.Valid() {
				return nil, fmt.Errorf("tenant %q knowledge base %q: unknown provider %q", ft.ID, name, kb.Provider)
			}
		}

		for j, tool := range ft.Tools {
			if tool.Name == "" {
				return nil, fmt.Errorf("tenant %q tools[%d]: name is required", ft.ID, j)
			}
			if tool.Enabled != nil && !*tool.Enabled {
				continue
			}
			def := models.ToolDefinition{
				Name:              tool.Name,
				Description:       tool.Description,
				Provider:          models.ProviderKind(tool.Provider),
				ImplementationRef: tool.ImplementationRef,
				IsUserScoped:      tool.IsUserScoped,
				UserContextParams: tool.UserContextParams,
			}
			if len(tool.Parameters) > 0 {
				raw, err := json.Marshal(tool.Parameters)
				if err != nil {
					return nil, fmt.Errorf("tenant %q tool %q parameters: %w", ft.ID, tool.Name, err)
				}
				def.ParametersSchema = raw
			}
			entry.tc.AllowedTools = append(entry.tc.AllowedTools, tool.Name)
			entry.tools = append(entry.tools, def)
		}
		out[ft.ID] = entry
	}
	return out, nil
}

func (s *FileSource) entry(tenantID string) (*fileEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tenantID)
	}
	return e, nil
}

// Load implements Loader. The returned context is a copy.
func (s *FileSource) Load(_ context.Context, tenantID string) (*models.TenantContext, error) {
	e, err := s.entry(tenantID)
	if err != nil {
		return nil, err
	}
	tc := e.tc
	tc.AllowedTools = append([]string(nil), e.tc.AllowedTools...)
	return &tc, nil
}

// TenantIDs implements Lister, sorted.
func (s *FileSource) TenantIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

// AllowedTools implements ToolRegistry.
func (s *FileSource) AllowedTools(_ context.Context, tc *models.TenantContext) ([]models.ToolDefinition, error) {
	e, err := s.entry(tc.TenantID)
	if err != nil {
		return nil, err
	}
	return append([]models.ToolDefinition(nil), e.tools...), nil
}

// EnabledFileSearchProviders implements ToolPolicy.
func (s *FileSource) EnabledFileSearchProviders(_ context.Context, tenantID string) ([]models.ProviderKind, error) {
	e, err := s.entry(tenantID)
	if err != nil {
		return nil, err
	}
	return fileSearchKinds(e.tc.AllowedTools), nil
}

// Watch reloads the file whenever it changes until ctx is done or Close is
// called. The parent directory is watched so editors that replace the file
// are handled.
func (s *FileSource) Watch(ctx context.Context) error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", s.path, err)
	}
	s.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel

	s.watchWg.Add(1)
	go s.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops watching.
func (s *FileSource) Close() error {
	s.watchMu.Lock()
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	watcher := s.watcher
	s.watcher = nil
	s.watchMu.Unlock()

	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	s.watchWg.Wait()
	return err
}

func (s *FileSource) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer s.watchWg.Done()

	target := filepath.Clean(s.path)
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(s.debounce, func() {
			if err := s.Reload(); err != nil {
				s.logger.Warn("tenant reload failed, keeping previous snapshot", "error", err)
			}
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("tenant watch error", "error", err)
		}
	}
}
