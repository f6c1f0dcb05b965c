package templates

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func golden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestRenderGolden(t *testing.T) {
	r := MustNewRenderer()

	tests := []struct {
		data any
		name Name
		file string
	}{
		{
			name: PromptEnhance,
			file: "prompt_enhance",
			data: EnhanceData{Title: "Code reviewer", Category: "coding", Content: "Review my code."},
		},
		{
			name: PRDQuestions,
			file: "prd_questions",
			data: QuestionsData{Idea: "An app to save and share family recipes.", Min: 3, Max: 8},
		},
		{
			name: PRDGenerate,
			file: "prd_generate",
			data: PRDData{
				Idea:  "An app to save and share family recipes.",
				Title: "Recipe Box",
				Answers: []QA{
					{Question: "Who uses it?", Answer: "Home cooks"},
					{Question: "Which platforms?", Answer: "Web first"},
				},
				Sections: []string{"Overview", "Goals"},
			},
		},
		{
			name: PRDGenerate,
			file: "prd_generate_minimal",
			data: PRDData{Idea: "A habit tracker.", Sections: []string{"Overview"}},
		},
		{
			name: RulesGenerate,
			file: "rules_generate",
			data: RulesData{
				ProjectName: "guidekit",
				Description: "Documentation reader service",
				TargetName:  "Cursor",
				Filename:    ".cursorrules",
				Preferences: "Prefer small functions",
				TechStack:   []string{"Go", "PostgreSQL"},
			},
		},
		{
			name: GuideGenerate,
			file: "guide_generate",
			data: GuideData{URL: "https://example.com/docs", Title: "Example Docs", Source: "Install with make."},
		},
		{
			name: GuideChat,
			file: "guide_chat",
			data: ChatData{
				Title:   "Example Guide",
				Summary: "How to use Example.",
				Chunks: []ChatChunk{
					{Index: 0, Heading: "Install", Content: "Run make install."},
					{Index: 3, Content: "Call New."},
				},
			},
		},
		{
			name: GuideChat,
			file: "guide_chat_empty",
			data: ChatData{Title: "Example Guide", Summary: "How to use Example."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			out, err := r.Render(tt.name, tt.data)
			require.NoError(t, err)
			golden(t).Assert(t, tt.file, []byte(out))
		})
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, err := MustNewRenderer().Render("missing.tpl.md", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRenderMissingField(t *testing.T) {
	_, err := MustNewRenderer().Render(PromptEnhance, map[string]string{"Title": "x"})
	require.Error(t, err)
}
