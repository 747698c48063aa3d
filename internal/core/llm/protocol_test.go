package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/RPLaine/newsroom-processor/internal/models"
)

func TestEncodeTurns(t *testing.T) {
	got := EncodeTurns([]models.Turn{
		{Role: models.RoleSystem, Content: "Be brief."},
		{Role: models.RoleUser, Content: "Hello"},
	})

	want := "<|im_start|>system\nBe brief.<|im_end|>\n" +
		"<|im_start|>user\nHello<|im_end|>\n" +
		"<|im_start|>assistant\n"
	assert.Equal(t, want, got)
}

func TestEncodeTurnsEmptyConversation(t *testing.T) {
	assert.Equal(t, "<|im_start|>assistant\n", EncodeTurns(nil))
}

func TestExtractAnswer(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "echoed prompt with closed answer",
			raw:  "<|im_start|>user\nhi<|im_end|>\n<|im_start|>assistant\nHello there<|im_end|>\n<|im_start|>user\nmore",
			want: "Hello there",
		},
		{
			name: "uses last assistant turn",
			raw:  "<|im_start|>assistant\nold<|im_end|>\n<|im_start|>user\nq<|im_end|>\n<|im_start|>assistant\nnew answer",
			want: "new answer",
		},
		{
			name: "truncated answer without end marker",
			raw:  "<|im_start|>assistant\npartial sentence",
			want: "partial sentence",
		},
		{
			name: "no markers",
			raw:  "  plain completion text \n",
			want: "plain completion text",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractAnswer(tt.raw))
		})
	}
}

func TestEncodeThenExtractRecoversReply(t *testing.T) {
	prompt := EncodeTurns([]models.Turn{{Role: models.RoleUser, Content: "Write a headline"}})

	assert.Equal(t, "Storm closes harbour", ExtractAnswer(prompt+"Storm closes harbour<|im_end|>"))
}
