// Package templates renders the prompts sent to the LLM.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed *.tpl.md
var templateFS embed.FS

// Name identifies an embedded prompt template.
type Name string

const (
	// PromptEnhance rewrites a library prompt. Data: EnhanceData.
	PromptEnhance Name = "prompt_enhance.tpl.md"
	// PRDQuestions asks clarifying questions about an idea. Data: QuestionsData.
	PRDQuestions Name = "prd_questions.tpl.md"
	// PRDGenerate writes the PRD. Data: PRDData.
	PRDGenerate Name = "prd_generate.tpl.md"
	// RulesGenerate writes an assistant rules file. Data: RulesData.
	RulesGenerate Name = "rules_generate.tpl.md"
	// GuideGenerate turns a scraped page into a guide. Data: GuideData.
	GuideGenerate Name = "guide_generate.tpl.md"
	// GuideChat is the system context for guide chat. Data: ChatData.
	GuideChat Name = "guide_chat.tpl.md"
)

// All lists every template; NewRenderer fails if any is missing or invalid.
//
//nolint:gochecknoglobals // Read-only list
var All = []Name{PromptEnhance, PRDQuestions, PRDGenerate, RulesGenerate, GuideGenerate, GuideChat}

// EnhanceData feeds PromptEnhance.
type EnhanceData struct {
	Title    string
	Category string
	Content  string
}

// QuestionsData feeds PRDQuestions.
type QuestionsData struct {
	Idea string
	Min  int
	Max  int
}

// QA is one answered clarifying question.
type QA struct {
	Question string
	Answer   string
}

// PRDData feeds PRDGenerate.
type PRDData struct {
	Idea     string
	Title    string
	Answers  []QA
	Sections []string
}

// RulesData feeds RulesGenerate.
type RulesData struct {
	ProjectName string
	Description string
	TargetName  string
	Filename    string
	Preferences string
	TechStack   []string
}

// GuideData feeds GuideGenerate.
type GuideData struct {
	URL    string
	Title  string
	Source string
}

// ChatChunk is one retrieved excerpt.
type ChatChunk struct {
	Heading string
	Content string
	Index   int
}

// ChatData feeds GuideChat.
type ChatData struct {
	Title   string
	Summary string
	Chunks  []ChatChunk
}

// Renderer holds the parsed templates.
type Renderer struct {
	templates map[Name]*template.Template
}

// NewRenderer parses every embedded template.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[Name]*template.Template, len(All))}

	for _, name := range All {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}

		tmpl, err := template.New(string(name)).
			Option("missingkey=error").
			Funcs(template.FuncMap{"join": strings.Join}).
			Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// MustNewRenderer is NewRenderer for program setup and tests.
func MustNewRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// Render executes a template. Surrounding whitespace is trimmed.
func (r *Renderer) Render(name Name, data any) (string, error) {
	tmpl, exists := r.templates[name]
	if !exists {
		return "", fmt.Errorf("template %s not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
