// Package chunking splits documents into token-bounded, overlapping chunks for embedding.
package chunking

import (
	"regexp"
	"strings"
)

var headerRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// Section is a run of text under one markdown heading.
type Section struct {
	Title   string
	Content string
	Level   int
}

// SplitSections splits content into sections at markdown headers.
// Text before the first header becomes an untitled level-0 section.
func SplitSections(content string) []Section {
	lines := strings.Split(content, "\n")

	var sections []Section
	var current *Section
	var currentLines []string
	inFence := false

	flush := func() {
		if current == nil {
			return
		}
		current.Content = strings.TrimSpace(strings.Join(currentLines, "\n"))
		if current.Content != "" {
			sections = append(sections, *current)
		}
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}

		if matches := headerRegex.FindStringSubmatch(line); matches != nil && !inFence {
			flush()
			current = &Section{
				Title: strings.TrimSpace(matches[2]),
				Level: len(matches[1]),
			}
			currentLines = nil
			continue
		}

		if current == nil {
			if strings.TrimSpace(line) == "" {
				continue
			}
			current = &Section{}
		}
		currentLines = append(currentLines, line)
	}
	flush()

	return sections
}

// splitParagraphs breaks text at blank lines, dropping empty paragraphs.
func splitParagraphs(content string) []string {
	raw := strings.Split(content, "\n\n")
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}
