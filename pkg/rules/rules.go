// Package rules generates project rules files for AI coding assistants.
package rules

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"guidekit/pkg/llm"
	"guidekit/pkg/logx"
	"guidekit/pkg/persistence"
	"guidekit/pkg/service"
	"guidekit/pkg/templates"
)

// Input limits.
const (
	MaxProjectName = 100
	MaxDescription = 5000
	MaxPreferences = 2000
	MaxTechStack   = 20
	MaxTechItem    = 50
)

// Target is an assistant that reads a rules file.
type Target struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Filename string `json:"filename"`
}

// Targets lists the supported assistants.
//
//nolint:gochecknoglobals // Read-only table
var Targets = []Target{
	{ID: "cursor", Name: "Cursor", Filename: ".cursorrules"},
	{ID: "windsurf", Name: "Windsurf", Filename: ".windsurfrules"},
	{ID: "claude", Name: "Claude", Filename: "CLAUDE.md"},
	{ID: "copilot", Name: "GitHub Copilot", Filename: ".github/copilot-instructions.md"},
	{ID: "generic", Name: "generic", Filename: "RULES.md"},
}

// LookupTarget finds a target by ID.
func LookupTarget(id string) (Target, bool) {
	i := slices.IndexFunc(Targets, func(t Target) bool { return t.ID == id })
	if i < 0 {
		return Target{}, false
	}
	return Targets[i], true
}

const generateSystem = "You are a staff engineer who writes precise instructions for AI coding assistants."

// GenerateInput describes the project to write rules for.
type GenerateInput struct {
	ProjectName string   `json:"projectName"`
	Description string   `json:"description"`
	Target      string   `json:"target"`
	Preferences string   `json:"preferences"`
	TechStack   []string `json:"techStack"`
}

// Service implements the rules generator.
type Service struct {
	store     persistence.RuleStore
	client    llm.LLMClient
	renderer  *templates.Renderer
	logger    *logx.Logger
	maxTokens int
}

// New creates the rules service.
func New(store persistence.RuleStore, client llm.LLMClient, renderer *templates.Renderer, maxTokens int) *Service {
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	return &Service{
		store:     store,
		client:    client,
		renderer:  renderer,
		logger:    logx.NewLogger("rules"),
		maxTokens: maxTokens,
	}
}

func normalizeStack(stack []string) ([]string, error) {
	out := make([]string, 0, len(stack))
	for _, item := range stack {
		item = strings.TrimSpace(item)
		if item == "" || slices.ContainsFunc(out, func(s string) bool { return strings.EqualFold(s, item) }) {
			continue
		}
		if len([]rune(item)) > MaxTechItem {
			return nil, service.Invalid("techStack", "each item must be at most %d characters", MaxTechItem)
		}
		out = append(out, item)
	}
	if len(out) > MaxTechStack {
		return nil, service.Invalid("techStack", "at most %d items allowed", MaxTechStack)
	}
	return out, nil
}

// Generate writes a rules file and saves it for userID.
func (s *Service) Generate(ctx context.Context, userID string, in GenerateInput) (*persistence.RuleSet, error) {
	if err := service.RequireUser(userID); err != nil {
		return nil, err
	}
	name, err := service.Text("projectName", in.ProjectName, 1, MaxProjectName)
	if err != nil {
		return nil, err
	}
	description, err := service.Text("description", in.Description, 1, MaxDescription)
	if err != nil {
		return nil, err
	}
	preferences, err := service.Text("preferences", in.Preferences, 0, MaxPreferences)
	if err != nil {
		return nil, err
	}
	stack, err := normalizeStack(in.TechStack)
	if err != nil {
		return nil, err
	}
	targetID := strings.ToLower(strings.TrimSpace(in.Target))
	if targetID == "" {
		targetID = "generic"
	}
	target, ok := LookupTarget(targetID)
	if !ok {
		ids := make([]string, len(Targets))
		for i, t := range Targets {
			ids[i] = t.ID
		}
		return nil, service.Invalid("target", "must be one of %s", strings.Join(ids, ", "))
	}

	user, err := s.renderer.Render(templates.RulesGenerate, templates.RulesData{
		ProjectName: name,
		Description: description,
		TargetName:  target.Name,
		Filename:    target.Filename,
		Preferences: preferences,
		TechStack:   stack,
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // Renderer errors already say which template
	}

	var reply struct {
		Content string `json:"content"`
	}
	if _, err := service.CompleteJSON(ctx, s.client, s.logger, llm.CompletionRequest{
		Messages:    service.Messages(generateSystem, user),
		Feature:     "rules.generate",
		MaxTokens:   s.maxTokens,
		Temperature: llm.TemperatureDefault,
	}, &reply); err != nil {
		return nil, err //nolint:wrapcheck // Classified LLM errors pass through
	}
	content := strings.TrimSpace(reply.Content)
	if content == "" {
		return nil, fmt.Errorf("rules: model returned no content: %w", llm.ErrMalformedJSON)
	}

	rs := &persistence.RuleSet{
		OwnerID:     userID,
		ProjectName: name,
		Description: description,
		Target:      target.ID,
		Filename:    target.Filename,
		Preferences: preferences,
		Content:     content + "\n",
		TechStack:   stack,
	}
	if err := s.store.CreateRuleSet(ctx, rs); err != nil {
		return nil, fmt.Errorf("failed to save rule set: %w", err)
	}
	s.logger.Info("Generated %s rules %s for %s", target.ID, rs.ID, userID)
	return rs, nil
}

func (s *Service) owned(ctx context.Context, userID, id string) (*persistence.RuleSet, error) {
	if err := service.RequireUser(userID); err != nil {
		return nil, err
	}
	rs, err := s.store.GetRuleSet(ctx, id)
	if err != nil {
		return nil, err //nolint:wrapcheck // Sentinel errors pass through
	}
	if rs.OwnerID != userID {
		return nil, fmt.Errorf("rule set %s: %w", id, persistence.ErrNotFound)
	}
	return rs, nil
}

// Get returns a rule set owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (*persistence.RuleSet, error) {
	return s.owned(ctx, userID, id)
}

// List returns the user's rule sets, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]*persistence.RuleSet, error) {
	if err := service.RequireUser(userID); err != nil {
		return nil, err
	}
	list, err := s.store.ListRuleSets(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule sets: %w", err)
	}
	return list, nil
}

// Delete removes a rule set owned by userID.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.DeleteRuleSet(ctx, id); err != nil {
		return fmt.Errorf("failed to delete rule set: %w", err)
	}
	return nil
}

// Download returns the file name to save the rules under (its base name for
// nested paths) and the file body.
func (s *Service) Download(ctx context.Context, userID, id string) (filename string, body []byte, err error) {
	rs, err := s.owned(ctx, userID, id)
	if err != nil {
		return "", nil, err
	}
	filename = rs.Filename
	if i := strings.LastIndexByte(filename, '/'); i >= 0 {
		filename = filename[i+1:]
	}
	return filename, []byte(rs.Content), nil
}
