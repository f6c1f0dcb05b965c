package persistence

import (
	"time"
)

// Guide statuses.
const (
	GuideQueued     = "queued"
	GuideProcessing = "processing"
	GuideCompleted  = "completed"
	GuideFailed     = "failed"
)

// PRD statuses.
const (
	PRDDraft = "draft"
	PRDFinal = "final"
)

// Chat roles.
const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// Prompt listing scopes and sort orders.
const (
	ScopeMine      = "mine"
	ScopePublic    = "public"
	ScopeFavorites = "favorites"

	SortRecent  = "recent"
	SortPopular = "popular"
)

// Prompt is a saved prompt in the library.
type Prompt struct {
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	Category    string    `json:"category"`
	Tags        []string  `json:"tags"`
	UseCount    int       `json:"useCount"`
	IsPublic    bool      `json:"isPublic"`
	IsFavorite  bool      `json:"isFavorite"` // Relative to the viewer, not stored
}

// PromptFilter selects prompts visible to ViewerID.
// An empty Scope means everything the viewer may see: their own and public prompts.
type PromptFilter struct {
	ViewerID string
	Scope    string
	Category string
	Tag      string
	Query    string
	Sort     string
	Limit    int
	Offset   int
}

// PRDQuestion is a clarifying question asked before generating a PRD.
type PRDQuestion struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Hint     string `json:"hint,omitempty"`
}

// PRDAnswer answers one PRDQuestion.
type PRDAnswer struct {
	QuestionID string `json:"questionId"`
	Question   string `json:"question,omitempty"`
	Answer     string `json:"answer"`
}

// PRD is a generated product requirements document.
type PRD struct {
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
	ID        string      `json:"id"`
	OwnerID   string      `json:"ownerId"`
	Title     string      `json:"title"`
	Idea      string      `json:"idea"`
	Content   string      `json:"content"`
	Status    string      `json:"status"`
	Answers   []PRDAnswer `json:"answers"`
}

// RuleSet is a generated project-rules file.
type RuleSet struct {
	CreatedAt   time.Time `json:"createdAt"`
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	ProjectName string    `json:"projectName"`
	Description string    `json:"description"`
	Target      string    `json:"target"`
	Filename    string    `json:"filename"`
	Preferences string    `json:"preferences,omitempty"`
	Content     string    `json:"content"`
	TechStack   []string  `json:"techStack"`
}

// Guide is a documentation page processed into a study guide.
type Guide struct {
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ID           string     `json:"id"`
	SourceURL    string     `json:"sourceUrl"`
	SubmittedBy  string     `json:"submittedBy"`
	Title        string     `json:"title"`
	Content      string     `json:"content"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	ChunkCount   int        `json:"chunkCount"`
}

// GuideFilter pages through guides, optionally by status.
type GuideFilter struct {
	Status string
	Limit  int
	Offset int
}

// GuideChunk is one embedded piece of a guide's source or generated text.
type GuideChunk struct {
	GuideID   string    `json:"guideId"`
	Source    string    `json:"source"`
	Heading   string    `json:"heading,omitempty"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	Index     int       `json:"index"`
	Tokens    int       `json:"tokens"`
}

// ChunkMatch is a chunk returned by similarity search.
type ChunkMatch struct {
	GuideChunk
	Similarity float64 `json:"similarity"`
}

// ChunkRef points at a chunk used to answer a chat question.
type ChunkRef struct {
	Index      int     `json:"index"`
	Heading    string  `json:"heading,omitempty"`
	Similarity float64 `json:"similarity"`
}

// ChatMessage is one turn of a guide chat.
type ChatMessage struct {
	CreatedAt time.Time  `json:"createdAt"`
	ID        string     `json:"id"`
	GuideID   string     `json:"guideId"`
	UserID    string     `json:"userId"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Sources   []ChunkRef `json:"sources,omitempty"`
}
