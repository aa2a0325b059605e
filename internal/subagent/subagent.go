// Package subagent manages sub-agent definitions loaded from a JSONL
// catalog: one JSON object per line, blank lines and #-comments skipped.
// The orchestration driver matches definitions to focus areas and feeds
// the chosen configuration into the agent-execution engine.
package subagent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config describes one sub-agent.
type Config struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	SystemPrompt string         `json:"system_prompt"`
	FocusAreas   []string       `json:"focus_areas,omitempty"`
	Tools        []string       `json:"tools,omitempty"`
	Model        string         `json:"model,omitempty"`
	MaxDepth     int            `json:"max_depth,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// StateData renders the config as the open map snapshotted into an
// agent's state_data on spawn.
func (c Config) StateData() map[string]any {
	data := map[string]any{
		"name":          c.Name,
		"description":   c.Description,
		"system_prompt": c.SystemPrompt,
	}
	if len(c.FocusAreas) > 0 {
		data["focus_area"] = c.FocusAreas[0]
		data["focus_areas"] = c.FocusAreas
	}
	if len(c.Tools) > 0 {
		data["tools"] = c.Tools
	}
	if c.Model != "" {
		data["model"] = c.Model
	}
	return data
}

// LoadJSONL reads sub-agent configs from a JSONL file. A missing file is
// not an error; malformed lines are logged and skipped so one bad entry
// never poisons the catalog.
func LoadJSONL(path string, logger *slog.Logger) ([]Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("subagent: catalog not found", "path", path)
			return nil, nil
		}
		return nil, fmt.Errorf("subagent: open catalog: %w", err)
	}
	defer f.Close()

	var configs []Config
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var c Config
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			logger.Error("subagent: invalid JSON in catalog", "path", path, "line", lineNum, "error", err)
			continue
		}
		if c.Name == "" || c.Description == "" || c.SystemPrompt == "" {
			logger.Error("subagent: missing required field in catalog", "path", path, "line", lineNum)
			continue
		}
		if c.MaxDepth == 0 {
			c.MaxDepth = 2
		}
		configs = append(configs, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("subagent: read catalog: %w", err)
	}

	logger.Info("subagent: loaded catalog", "path", path, "count", len(configs))
	return configs, nil
}

// SaveJSONL writes configs to a JSONL file, one object per line.
func SaveJSONL(path string, configs []Config) error {
	var b strings.Builder
	for _, c := range configs {
		line, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("subagent: marshal config %q: %w", c.Name, err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("subagent: write catalog: %w", err)
	}
	return nil
}

// Registry holds the active sub-agent catalog, keyed by name.
type Registry struct {
	mu      sync.RWMutex
	path    string
	configs map[string]Config
	order   []string
	logger  *slog.Logger
}

// NewRegistry creates a registry bound to a catalog path and loads it if
// present. An empty path gives an in-memory-only registry.
func NewRegistry(path string, logger *slog.Logger) (*Registry, error) {
	r := &Registry{path: path, configs: map[string]Config{}, logger: logger}
	if path != "" {
		if err := r.Reload(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Reload replaces the catalog with the file's current contents.
func (r *Registry) Reload() error {
	configs, err := LoadJSONL(r.path, r.logger)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = make(map[string]Config, len(configs))
	r.order = r.order[:0]
	for _, c := range configs {
		if _, seen := r.configs[c.Name]; !seen {
			r.order = append(r.order, c.Name)
		}
		r.configs[c.Name] = c
	}
	return nil
}

// Get returns a config by name.
func (r *Registry) Get(name string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[name]
	return c, ok
}

// All returns all configs in catalog order.
func (r *Registry) All() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Config, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.configs[name])
	}
	return out
}

// Register adds or replaces a config.
func (r *Registry) Register(c Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.configs[c.Name]; !seen {
		r.order = append(r.order, c.Name)
	}
	r.configs[c.Name] = c
}

// Save writes the current catalog back to its file.
func (r *Registry) Save() error {
	if r.path == "" {
		return nil
	}
	return SaveJSONL(r.path, r.All())
}

// MatchForFocus returns configs suited to a focus area: a config matches
// when the focus area overlaps one of its focus areas in either
// direction, appears in its description, or contains one of its
// capabilities.
func (r *Registry) MatchForFocus(focusArea string) []Config {
	focus := strings.ToLower(focusArea)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []Config
	for _, name := range r.order {
		c := r.configs[name]
		if matchesFocus(c, focus) {
			matches = append(matches, c)
		}
	}
	return matches
}

func matchesFocus(c Config, focus string) bool {
	for _, fa := range c.FocusAreas {
		fa = strings.ToLower(fa)
		if strings.Contains(focus, fa) || strings.Contains(fa, focus) {
			return true
		}
	}
	if strings.Contains(strings.ToLower(c.Description), focus) {
		return true
	}
	for _, cap := range c.Capabilities {
		if strings.Contains(focus, strings.ToLower(cap)) {
			return true
		}
	}
	return false
}

// NewDynamic builds a one-off research agent for a focus area no catalog
// entry covers.
func NewDynamic(name, focusArea, basePrompt string) Config {
	systemPrompt := fmt.Sprintf(`%s

## Focus Area: %s

You are a specialized research agent focused on: %s

Your responsibilities:
1. Conduct thorough research on this specific area
2. Search for relevant information using web search when needed
3. Analyze and synthesize findings
4. Write clear, structured output documenting your research
5. Create subdirectories for sub-topics if the research is complex

## Output Guidelines

- Write findings to markdown files in your assigned directory
- Use clear headings and structure
- Cite sources when applicable
- Highlight key insights and recommendations
`, basePrompt, focusArea, focusArea)

	return Config{
		Name:         name,
		Description:  "Research agent specialized in: " + focusArea,
		SystemPrompt: systemPrompt,
		FocusAreas:   []string{focusArea},
		Tools:        []string{"internet_search", "write_file", "read_file", "ls"},
		MaxDepth:     2,
		Capabilities: []string{"research", "analysis", "writing"},
	}
}
