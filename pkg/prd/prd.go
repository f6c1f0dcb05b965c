// Package prd generates product requirements documents from an idea and a
// round of clarifying questions.
package prd

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"guidekit/pkg/llm"
	"guidekit/pkg/logx"
	"guidekit/pkg/persistence"
	"guidekit/pkg/service"
	"guidekit/pkg/templates"
)

// Input limits.
const (
	MinIdea      = 10
	MaxIdea      = 5000
	MaxTitle     = 200
	MaxAnswer    = 2000
	MaxAnswers   = 20
	MaxContent   = 100000
	MinQuestions = 3
	MaxQuestions = 8
)

// Sections every generated PRD must use, in order.
//
//nolint:gochecknoglobals // Read-only list
var Sections = []string{
	"Overview", "Goals", "Target Users", "Features", "User Stories",
	"Requirements", "Success Metrics", "Out of Scope",
}

const (
	questionsSystem = "You are a senior product manager who interviews founders before writing requirements."
	generateSystem  = "You are a senior product manager who writes clear, complete product requirements documents."
)

// GenerateInput is an idea plus answers to the clarifying questions.
type GenerateInput struct {
	Idea    string                  `json:"idea"`
	Title   string                  `json:"title"`
	Answers []persistence.PRDAnswer `json:"answers"`
}

// UpdateInput edits a saved PRD. Nil fields are left unchanged.
type UpdateInput struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
	Status  *string `json:"status"`
}

// Service implements the PRD generator.
type Service struct {
	store     persistence.PRDStore
	client    llm.LLMClient
	renderer  *templates.Renderer
	logger    *logx.Logger
	maxTokens int
}

// New creates the PRD service.
func New(store persistence.PRDStore, client llm.LLMClient, renderer *templates.Renderer, maxTokens int) *Service {
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	return &Service{
		store:     store,
		client:    client,
		renderer:  renderer,
		logger:    logx.NewLogger("prd"),
		maxTokens: maxTokens,
	}
}

// GenerateQuestions asks the model for clarifying questions about idea.
// Between MinQuestions and MaxQuestions usable questions are returned.
func (s *Service) GenerateQuestions(ctx context.Context, userID, idea string) ([]persistence.PRDQuestion, error) {
	if err := service.RequireUser(userID); err != nil {
		return nil, err
	}
	idea, err := service.Text("idea", idea, MinIdea, MaxIdea)
	if err != nil {
		return nil, err
	}

	user, err := s.renderer.Render(templates.PRDQuestions, templates.QuestionsData{
		Idea: idea, Min: MinQuestions, Max: MaxQuestions,
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // Renderer errors already say which template
	}

	var reply struct {
		Questions []persistence.PRDQuestion `json:"questions"`
	}
	if _, err := service.CompleteJSON(ctx, s.client, s.logger, llm.CompletionRequest{
		Messages:    service.Messages(questionsSystem, user),
		Feature:     "prd.questions",
		MaxTokens:   s.maxTokens,
		Temperature: llm.TemperatureCreative,
	}, &reply); err != nil {
		return nil, err //nolint:wrapcheck // Classified LLM errors pass through
	}

	questions := make([]persistence.PRDQuestion, 0, len(reply.Questions))
	for _, q := range reply.Questions {
		q.Question = strings.TrimSpace(q.Question)
		if q.Question == "" {
			continue
		}
		q.Hint = strings.TrimSpace(q.Hint)
		q.ID = fmt.Sprintf("q%d", len(questions)+1)
		questions = append(questions, q)
		if len(questions) == MaxQuestions {
			break
		}
	}
	if len(questions) < MinQuestions {
		return nil, fmt.Errorf("model returned %d usable questions, need at least %d: %w",
			len(questions), MinQuestions, llm.ErrMalformedJSON)
	}
	return questions, nil
}

func validateAnswers(answers []persistence.PRDAnswer) ([]persistence.PRDAnswer, error) {
	if len(answers) > MaxAnswers {
		return nil, service.Invalid("answers", "at most %d answers allowed", MaxAnswers)
	}
	out := make([]persistence.PRDAnswer, 0, len(answers))
	for _, a := range answers {
		answer, err := service.Text("answers", a.Answer, 0, MaxAnswer)
		if err != nil {
			return nil, err
		}
		if answer == "" {
			continue
		}
		a.Answer = answer
		a.Question = strings.TrimSpace(a.Question)
		if a.Question == "" {
			a.Question = a.QuestionID
		}
		out = append(out, a)
	}
	return out, nil
}

// Generate writes a PRD and saves it as a draft owned by userID.
func (s *Service) Generate(ctx context.Context, userID string, in GenerateInput) (*persistence.PRD, error) {
	if err := service.RequireUser(userID); err != nil {
		return nil, err
	}
	idea, err := service.Text("idea", in.Idea, MinIdea, MaxIdea)
	if err != nil {
		return nil, err
	}
	title, err := service.Text("title", in.Title, 0, MaxTitle)
	if err != nil {
		return nil, err
	}
	answers, err := validateAnswers(in.Answers)
	if err != nil {
		return nil, err
	}

	qas := make([]templates.QA, len(answers))
	for i, a := range answers {
		qas[i] = templates.QA{Question: a.Question, Answer: a.Answer}
	}
	user, err := s.renderer.Render(templates.PRDGenerate, templates.PRDData{
		Idea: idea, Title: title, Answers: qas, Sections: Sections,
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // Renderer errors already say which template
	}

	var reply struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if _, err := service.CompleteJSON(ctx, s.client, s.logger, llm.CompletionRequest{
		Messages:    service.Messages(generateSystem, user),
		Feature:     "prd.generate",
		MaxTokens:   s.maxTokens,
		Temperature: llm.TemperatureDefault,
	}, &reply); err != nil {
		return nil, err //nolint:wrapcheck // Classified LLM errors pass through
	}

	content := strings.TrimSpace(reply.Content)
	if content == "" {
		return nil, fmt.Errorf("prd: model returned no content: %w", llm.ErrMalformedJSON)
	}
	if missing := MissingSections(content); len(missing) > 0 {
		s.logger.Warn("Generated PRD is missing sections: %s", strings.Join(missing, ", "))
	}
	if title == "" {
		title = strings.TrimSpace(reply.Title)
	}
	if title == "" {
		title = firstLine(idea, 80)
	}

	doc := &persistence.PRD{
		OwnerID: userID,
		Title:   truncate(title, MaxTitle),
		Idea:    idea,
		Content: content,
		Status:  persistence.PRDDraft,
		Answers: answers,
	}
	if err := s.store.CreatePRD(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to save PRD: %w", err)
	}
	s.logger.Info("Generated PRD %s (%d chars) for %s", doc.ID, len(content), userID)
	return doc, nil
}

var headingRe = regexp.MustCompile(`(?m)^#{1,3}\s+(.+?)\s*#*\s*$`)

// MissingSections lists the required sections with no matching Markdown heading.
func MissingSections(content string) []string {
	found := make(map[string]bool)
	for _, m := range headingRe.FindAllStringSubmatch(content, -1) {
		heading := strings.ToLower(strings.TrimLeft(m[1], "0123456789. "))
		found[heading] = true
	}
	var missing []string
	for _, section := range Sections {
		if !found[strings.ToLower(section)] {
			missing = append(missing, section)
		}
	}
	return missing
}

func (s *Service) owned(ctx context.Context, userID, id string) (*persistence.PRD, error) {
	if err := service.RequireUser(userID); err != nil {
		return nil, err
	}
	doc, err := s.store.GetPRD(ctx, id)
	if err != nil {
		return nil, err //nolint:wrapcheck // Sentinel errors pass through
	}
	if doc.OwnerID != userID {
		return nil, fmt.Errorf("prd %s: %w", id, persistence.ErrNotFound)
	}
	return doc, nil
}

// Get returns a PRD owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (*persistence.PRD, error) {
	return s.owned(ctx, userID, id)
}

// List returns the user's PRDs, most recently updated first.
func (s *Service) List(ctx context.Context, userID string) ([]*persistence.PRD, error) {
	if err := service.RequireUser(userID); err != nil {
		return nil, err
	}
	docs, err := s.store.ListPRDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list PRDs: %w", err)
	}
	return docs, nil
}

// Update edits the title, content or status of a PRD owned by userID.
func (s *Service) Update(ctx context.Context, userID, id string, in UpdateInput) (*persistence.PRD, error) {
	doc, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if in.Title != nil {
		if doc.Title, err = service.Text("title", *in.Title, 1, MaxTitle); err != nil {
			return nil, err
		}
	}
	if in.Content != nil {
		if doc.Content, err = service.Text("content", *in.Content, 1, MaxContent); err != nil {
			return nil, err
		}
	}
	if in.Status != nil {
		status := strings.ToLower(strings.TrimSpace(*in.Status))
		if err := service.OneOf("status", status, persistence.PRDDraft, persistence.PRDFinal); err != nil {
			return nil, err
		}
		doc.Status = status
	}
	if err := s.store.UpdatePRD(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to update PRD: %w", err)
	}
	return doc, nil
}

// Delete removes a PRD owned by userID.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.DeletePRD(ctx, id); err != nil {
		return fmt.Errorf("failed to delete PRD: %w", err)
	}
	return nil
}

// Export returns the PRD as a Markdown file name and body.
func (s *Service) Export(ctx context.Context, userID, id string) (filename string, body []byte, err error) {
	doc, err := s.owned(ctx, userID, id)
	if err != nil {
		return "", nil, err
	}
	content := doc.Content
	if !strings.HasPrefix(strings.TrimSpace(content), "# ") {
		content = "# " + doc.Title + "\n\n" + content
	}
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return Slug(doc.Title) + ".md", []byte(content), nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns a title into a lowercase file name stem.
func Slug(title string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if len(slug) > 60 {
		slug = strings.Trim(slug[:60], "-")
	}
	if slug == "" {
		return "prd"
	}
	return slug
}

func firstLine(s string, maxRunes int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(strings.TrimSpace(s), maxRunes)
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return strings.TrimSpace(string(r[:maxRunes]))
}
