package templates

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/NethermindEth/agentchain/core"
)

// AgentTemplate is a reusable starting point for CreateAgent.
type AgentTemplate struct {
	Name           string             `json:"name"`
	Description    string             `json:"description"`
	Strategy       core.AgentStrategy `json:"strategy"`
	InitialBalance core.Amount        `json:"initial_balance"`
}

func (t *AgentTemplate) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template name is required")
	}
	return t.Strategy.Validate()
}

// TemplateRegistry stores templates as JSON files in one directory.
type TemplateRegistry struct {
	templatesDir string
}

// NewTemplateRegistry opens the registry in dir, creating it if needed.
func NewTemplateRegistry(dir string) (*TemplateRegistry, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create templates directory: %w", err)
	}
	return &TemplateRegistry{templatesDir: dir}, nil
}

// DefaultDir is ~/.agentchain/templates.
func DefaultDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".agentchain", "templates")
}

func (r *TemplateRegistry) path(name string) string {
	return filepath.Join(r.templatesDir, name+".json")
}

// SaveTemplate saves a template to the filesystem
func (r *TemplateRegistry) SaveTemplate(name string, template *AgentTemplate) error {
	if err := template.Validate(); err != nil {
		return err
	}
	templateData, err := json.MarshalIndent(template, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path(name), templateData, 0644)
}

// GetTemplate loads a template from the filesystem
func (r *TemplateRegistry) GetTemplate(name string) (*AgentTemplate, error) {
	templateData, err := os.ReadFile(r.path(name))
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", name, err)
	}
	var template AgentTemplate
	if err := core.DecodeJSON(templateData, &template); err != nil {
		return nil, fmt.Errorf("template %q: %w", name, err)
	}
	return &template, nil
}

// ListTemplates returns the names of all stored templates, sorted.
func (r *TemplateRegistry) ListTemplates() ([]string, error) {
	entries, err := os.ReadDir(r.templatesDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	sort.Strings(names)
	return names, nil
}
