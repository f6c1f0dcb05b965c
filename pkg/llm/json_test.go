package llm

import (
	"errors"
	"testing"

	"guidekit/pkg/llmerrors"
)

type questionReply struct {
	Questions []struct {
		ID       string `json:"id"`
		Question string `json:"question"`
	} `json:"questions"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"plain", `{"questions":[{"id":"q1","question":"Who?"}]}`},
		{"fenced", "```json\n{\"questions\":[{\"id\":\"q1\",\"question\":\"Who?\"}]}\n```"},
		{"bare fence", "```\n{\"questions\":[{\"id\":\"q1\",\"question\":\"Who?\"}]}\n```"},
		{"leading prose", "Here are your questions:\n{\"questions\":[{\"id\":\"q1\",\"question\":\"Who?\"}]}\nGood luck!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out questionReply
			if err := DecodeJSON(tt.content, &out); err != nil {
				t.Fatalf("DecodeJSON failed: %v", err)
			}
			if len(out.Questions) != 1 || out.Questions[0].ID != "q1" {
				t.Errorf("unexpected decode result: %+v", out)
			}
		})
	}
}

func TestDecodeJSONEmpty(t *testing.T) {
	var out questionReply
	err := DecodeJSON("   ", &out)
	if !llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
		t.Errorf("expected empty response error, got %v", err)
	}
}

func TestDecodeJSONMalformed(t *testing.T) {
	var out questionReply
	for _, content := range []string{"no json here", `{"questions": [`, `{"questions": "oops"}`} {
		err := DecodeJSON(content, &out)
		if !errors.Is(err, ErrMalformedJSON) {
			t.Errorf("DecodeJSON(%q): expected ErrMalformedJSON, got %v", content, err)
		}
	}
}
