// Package contextmgr loads agent system prompts from markdown files and
// assembles the execution context handed to agents.
//
// Prompt files live in one directory and are named <agent_type>.md or
// <agent_type>.<task_type>.md; a task-specific file wins over the agent
// file. Files may start with a YAML front matter block. Loaded prompts are
// cached and served only while the file's SHA-256 checksum still matches.
package contextmgr

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HendryAvila/devteam/internal/logging"
	"github.com/HendryAvila/devteam/internal/sdkerr"
	"github.com/HendryAvila/devteam/internal/task"
)

const (
	// DefaultMaxCacheSize bounds the prompt and context caches.
	DefaultMaxCacheSize = 1000
	// ContextVersion is stamped into every prepared context.
	ContextVersion = "1.0.0"

	minPromptLength = 50
	defaultVersion  = "1.0.0"
)

var requiredSections = []string{"role", "capabilities"}

// Prompt is a loaded system prompt.
type Prompt struct {
	AgentType    string         `json:"agent_type"`
	TaskType     string         `json:"task_type,omitempty"`
	Content      string         `json:"content"`
	Path         string         `json:"file_path"`
	Version      string         `json:"version"`
	Checksum     string         `json:"checksum"`
	Metadata     map[string]any `json:"metadata"`
	LastModified time.Time      `json:"last_modified"`
}

// CacheStats reports cache occupancy.
type CacheStats struct {
	PromptCacheSize  int    `json:"prompt_cache_size"`
	ContextCacheSize int    `json:"context_cache_size"`
	MaxCacheSize     int    `json:"max_cache_size"`
	Hits             int64  `json:"hits"`
	Misses           int64  `json:"misses"`
	Watching         bool   `json:"watching"`
	PromptsDirectory string `json:"prompts_directory"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = logging.Named(l, "contextmgr") }
}

// WithMaxCacheSize overrides DefaultMaxCacheSize.
func WithMaxCacheSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxCache = n
		}
	}
}

// Manager is safe for concurrent use.
type Manager struct {
	dir      string
	maxCache int
	logger   *zap.Logger

	mu       sync.Mutex
	prompts  *lru[*Prompt]
	contexts *lru[*task.Context]
	hits     int64
	misses   int64

	watchMu   sync.Mutex
	stopWatch func()
}

// New creates the prompts directory if needed and seeds it with the
// built-in prompts when it holds no markdown files.
func New(dir string, opts ...Option) (*Manager, error) {
	m := &Manager{
		dir:      dir,
		maxCache: DefaultMaxCacheSize,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.prompts = newLRU[*Prompt](m.maxCache)
	m.contexts = newLRU[*task.Context](m.maxCache)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, sdkerr.Wrap(sdkerr.KindConfiguration, err, "creating prompts directory %s", dir)
	}
	written, err := writeDefaults(dir)
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.KindConfiguration, err, "writing default prompts")
	}
	for _, name := range written {
		m.logger.Info("created default prompt", zap.String("file", name))
	}
	return m, nil
}

// Dir returns the prompts directory.
func (m *Manager) Dir() string { return m.dir }

func cacheKey(agentType, taskType string) string {
	if taskType == "" {
		return agentType
	}
	return agentType + ":" + taskType
}

// promptFilename returns the file name for an agent/task pair.
func promptFilename(agentType, taskType string) string {
	if taskType == "" {
		return agentType + ".md"
	}
	return agentType + "." + taskType + ".md"
}

// parsePromptFilename is the inverse of promptFilename.
func parsePromptFilename(name string) (agentType, taskType string, ok bool) {
	if !strings.HasSuffix(name, ".md") {
		return "", "", false
	}
	stem := strings.TrimSuffix(name, ".md")
	agentType, taskType, _ = strings.Cut(stem, ".")
	return agentType, taskType, agentType != ""
}

// resolve finds the file for agentType/taskType, falling back to the
// agent-level file.
func (m *Manager) resolve(agentType, taskType string) (string, error) {
	primary := filepath.Join(m.dir, promptFilename(agentType, taskType))
	if _, err := os.Stat(primary); err == nil {
		return primary, nil
	}
	if taskType != "" {
		fallback := filepath.Join(m.dir, promptFilename(agentType, ""))
		if _, err := os.Stat(fallback); err == nil {
			return fallback, nil
		}
	}
	return "", sdkerr.Configuration("prompt file not found: %s", primary).
		WithDetail("agent_type", agentType).
		WithDetail("task_type", taskType)
}

// LoadPrompt returns the prompt text for agentType and taskType. An empty
// taskType loads the agent-level prompt. force bypasses the cache.
func (m *Manager) LoadPrompt(agentType, taskType string, force bool) (string, error) {
	p, err := m.Prompt(agentType, taskType, force)
	if err != nil {
		return "", err
	}
	return p.Content, nil
}

// Prompt is LoadPrompt returning the full record.
func (m *Manager) Prompt(agentType, taskType string, force bool) (*Prompt, error) {
	path, err := m.resolve(agentType, taskType)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.KindConfiguration, err, "failed to read prompt file %s", path)
	}
	checksum := checksumOf(raw)
	key := cacheKey(agentType, taskType)

	if !force {
		m.mu.Lock()
		cached, ok := m.prompts.get(key)
		if ok && cached.Path == path && cached.Checksum == checksum {
			m.hits++
			m.mu.Unlock()
			return cached, nil
		}
		m.misses++
		m.mu.Unlock()
	}

	p, err := m.parse(agentType, taskType, path, raw, checksum)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.prompts.put(key, p)
	m.mu.Unlock()
	return p, nil
}

func (m *Manager) parse(agentType, taskType, path string, raw []byte, checksum string) (*Prompt, error) {
	meta, body, err := splitFrontMatter(raw)
	if err != nil {
		return nil, sdkerr.Validation("prompt file %s: %v", path, err)
	}
	content := string(body)
	if err := validateContent(path, content); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.KindConfiguration, err, "stat prompt file %s", path)
	}

	version := defaultVersion
	if v, ok := meta["version"]; ok {
		version = fmt.Sprint(v)
	}
	metadata := map[string]any{}
	maps.Copy(metadata, meta)
	metadata["loaded_at"] = timeNow().UTC().Format(time.RFC3339)
	metadata["file_size"] = info.Size()

	return &Prompt{
		AgentType:    agentType,
		TaskType:     taskType,
		Content:      content,
		Path:         path,
		Version:      version,
		Checksum:     checksum,
		Metadata:     metadata,
		LastModified: info.ModTime(),
	}, nil
}

func validateContent(path, content string) error {
	if strings.TrimSpace(content) == "" {
		return sdkerr.Validation("prompt file %s is empty", path).WithCode("PROMPT_EMPTY")
	}
	if len(content) < minPromptLength {
		return sdkerr.Validation("prompt file %s content too short", path).WithCode("PROMPT_TOO_SHORT")
	}
	lower := strings.ToLower(content)
	for _, section := range requiredSections {
		if !strings.Contains(lower, section) {
			return sdkerr.Validation("prompt file %s missing required section: %s", path, section).
				WithCode("PROMPT_MISSING_SECTION").
				WithDetail("section", section)
		}
	}
	return nil
}

func checksumOf(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// PrepareContext builds the agent context for spec: the prompt for its
// agent and task type, the supplied history and MCP context, bookkeeping
// metadata and a content hash.
func (m *Manager) PrepareContext(spec task.Spec, history []task.Message, mcpContext map[string]any) (*task.Context, error) {
	prompt, err := m.LoadPrompt(spec.AgentType, spec.TaskType, false)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []task.Message{}
	}
	if mcpContext == nil {
		mcpContext = map[string]any{}
	}

	ctx := &task.Context{
		SystemPrompt: prompt,
		History:      history,
		MCPContext:   mcpContext,
		Spec:         spec,
		Metadata: map[string]any{
			"prepared_at":     timeNow().UTC().Format(time.RFC3339),
			"context_version": ContextVersion,
		},
		Hash: ContextHash(prompt, spec.TaskID),
	}

	m.mu.Lock()
	m.contexts.put(ctx.Hash, ctx)
	m.mu.Unlock()
	return ctx, nil
}

// ContextHash identifies a prompt/task pairing.
func ContextHash(systemPrompt, taskID string) string {
	sum := sha256.Sum256([]byte(systemPrompt + ":" + taskID))
	return hex.EncodeToString(sum[:])
}

// CachedContext returns a previously prepared context by hash.
func (m *Manager) CachedContext(hash string) (*task.Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contexts.get(hash)
}

// LoadAll loads every prompt file in the directory. Files that fail to
// load are logged and reported in the returned error; the rest stay
// cached.
func (m *Manager) LoadAll() (int, error) {
	names, err := m.promptFiles()
	if err != nil {
		return 0, sdkerr.Wrap(sdkerr.KindConfiguration, err, "listing prompts in %s", m.dir)
	}
	loaded := 0
	var errs []error
	for _, name := range names {
		agentType, taskType, _ := parsePromptFilename(name)
		if _, err := m.Prompt(agentType, taskType, false); err != nil {
			m.logger.Warn("failed to load prompt", zap.String("file", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		loaded++
	}
	m.logger.Info("prompts loaded", zap.Int("count", loaded), zap.String("dir", m.dir))
	return loaded, errors.Join(errs...)
}

// promptFiles lists prompt file names, sorted.
func (m *Manager) promptFiles() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, _, ok := parsePromptFilename(e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Available lists the agent/task pairs that have prompt files, keyed by
// agent type.
func (m *Manager) Available() (map[string][]string, error) {
	names, err := m.promptFiles()
	if err != nil {
		return nil, err
	}
	out := map[string][]string{}
	for _, name := range names {
		agentType, taskType, _ := parsePromptFilename(name)
		if _, ok := out[agentType]; !ok {
			out[agentType] = []string{}
		}
		if taskType != "" {
			out[agentType] = append(out[agentType], taskType)
		}
	}
	return out, nil
}

// reloadFile evicts and reloads the prompt behind a changed file name.
// Cached entries that resolved to the same path are evicted too, since a
// task-level key may have fallen back to this agent file.
func (m *Manager) reloadFile(name string) {
	agentType, taskType, ok := parsePromptFilename(name)
	if !ok {
		return
	}
	path := filepath.Join(m.dir, name)

	m.mu.Lock()
	m.prompts.remove(cacheKey(agentType, taskType))
	m.prompts.removeFunc(func(p *Prompt) bool { return p.Path == path })
	m.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		m.logger.Info("prompt removed", zap.String("file", name))
		return
	}
	if _, err := m.Prompt(agentType, taskType, true); err != nil {
		m.logger.Warn("failed to reload prompt", zap.String("file", name), zap.Error(err))
		return
	}
	m.logger.Info("reloaded prompt", zap.String("file", name))
}

// CacheStats returns cache occupancy and watcher state.
func (m *Manager) CacheStats() CacheStats {
	m.mu.Lock()
	st := CacheStats{
		PromptCacheSize:  m.prompts.len(),
		ContextCacheSize: m.contexts.len(),
		MaxCacheSize:     m.maxCache,
		Hits:             m.hits,
		Misses:           m.misses,
		PromptsDirectory: m.dir,
	}
	m.mu.Unlock()
	st.Watching = m.Watching()
	return st
}

// Watching reports whether hot reload is active.
func (m *Manager) Watching() bool {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	return m.stopWatch != nil
}

// Close stops the watcher and empties the caches.
func (m *Manager) Close() error {
	m.StopWatching()
	m.mu.Lock()
	m.prompts.clear()
	m.contexts.clear()
	m.mu.Unlock()
	return nil
}

// StopWatching stops hot reload. Safe to call when not watching.
func (m *Manager) StopWatching() {
	m.watchMu.Lock()
	stop := m.stopWatch
	m.stopWatch = nil
	m.watchMu.Unlock()
	if stop != nil {
		stop()
	}
}
