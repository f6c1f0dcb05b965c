package chunking

import (
	"strings"

	"guidekit/pkg/tokens"
)

// Chunk sources.
const (
	SourcePage  = "source"
	SourceGuide = "guide"
)

// Document is one text to be chunked, tagged with where it came from.
type Document struct {
	Source string
	Text   string
}

// Chunk is a token-bounded piece of a document.
type Chunk struct {
	Source  string
	Heading string
	Content string
	Index   int
	Tokens  int
}

// Splitter packs sections and paragraphs into chunks of at most MaxTokens,
// repeating the last Overlap tokens of a chunk at the start of the next one
// within the same section.
type Splitter struct {
	counter   *tokens.Counter
	MaxTokens int
	Overlap   int
}

// NewSplitter creates a splitter. Overlap is clamped to [0, maxTokens/2].
func NewSplitter(counter *tokens.Counter, maxTokens, overlap int) *Splitter {
	if counter == nil {
		counter = tokens.Default()
	}
	if maxTokens <= 0 {
		maxTokens = 500
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap > maxTokens/2 {
		overlap = maxTokens / 2
	}
	return &Splitter{counter: counter, MaxTokens: maxTokens, Overlap: overlap}
}

// SplitAll chunks every document in order and numbers chunks consecutively from zero.
func (s *Splitter) SplitAll(docs []Document) []Chunk {
	var out []Chunk
	for _, doc := range docs {
		for _, c := range s.Split(doc.Text) {
			c.Source = doc.Source
			c.Index = len(out)
			out = append(out, c)
		}
	}
	return out
}

// Split chunks one text. Chunk indexes are local to this call.
func (s *Splitter) Split(text string) []Chunk {
	var out []Chunk
	for _, section := range SplitSections(text) {
		body := section.Content
		if section.Title != "" {
			body = strings.Repeat("#", section.Level) + " " + section.Title + "\n\n" + section.Content
		}

		for _, piece := range s.splitSection(body) {
			out = append(out, Chunk{
				Heading: section.Title,
				Content: piece,
				Index:   len(out),
				Tokens:  s.counter.Count(piece),
			})
		}
	}
	return out
}

func (s *Splitter) splitSection(body string) []string {
	if s.counter.Count(body) <= s.MaxTokens {
		return []string{body}
	}

	// Leave room for the overlap prefix that later pieces carry.
	budget := s.MaxTokens - s.Overlap

	var pieces []string
	var current strings.Builder
	currentTokens := 0

	emit := func() {
		if current.Len() > 0 {
			pieces = append(pieces, current.String())
			current.Reset()
			currentTokens = 0
		}
	}

	for _, para := range splitParagraphs(body) {
		paraTokens := s.counter.Count(para)

		if paraTokens > budget {
			emit()
			pieces = append(pieces, s.window(para, budget)...)
			continue
		}

		if currentTokens > 0 && currentTokens+paraTokens+1 > budget {
			emit()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
			currentTokens++
		}
		current.WriteString(para)
		currentTokens += paraTokens
	}
	emit()

	return s.addOverlap(pieces)
}

// window hard-splits text into consecutive token windows of size.
func (s *Splitter) window(text string, size int) []string {
	ids := s.counter.Encode(text)
	if ids == nil {
		return s.windowChars(text, size*4)
	}

	var out []string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		if piece := strings.TrimSpace(s.counter.Decode(ids[start:end])); piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

func (s *Splitter) windowChars(text string, size int) []string {
	var out []string
	runes := []rune(text)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

func (s *Splitter) addOverlap(pieces []string) []string {
	if s.Overlap == 0 || len(pieces) < 2 {
		return pieces
	}
	out := make([]string, len(pieces))
	out[0] = pieces[0]
	for i := 1; i < len(pieces); i++ {
		tail := strings.TrimSpace(s.counter.Tail(pieces[i-1], s.Overlap))
		if tail == "" {
			out[i] = pieces[i]
			continue
		}
		out[i] = tail + "\n\n" + pieces[i]
	}
	return out
}
