package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/RPLaine/newsroom-processor/internal/models"
)

const (
	refineInstruction  = "Please refine and organize the following information into a coherent document:\n"
	reflectInstruction = "Please reflect on the current state of this document generation job. " +
		"What insights have we gained? What areas need more exploration? What are the key conclusions so far?\n"

	refineTurnNote  = "Automatic refinement of inputs"
	reflectTurnNote = "Self-reflection request"

	reflectWindow  = 10
	filePreviewLen = 200
	turnPreviewLen = 100
	fileGenSystem  = "You are a helpful assistant that generates file content based on instructions."
)

// refinePrompt summarises every stored input for the refine mode.
func refinePrompt(inputs []models.InputRecord) string {
	var b strings.Builder
	b.WriteString(refineInstruction)
	b.WriteString("Based on the inputs provided:\n")

	for _, in := range inputs {
		switch in.Type {
		case models.InputWebSearch:
			fmt.Fprintf(&b, "- Web search for '%s'\n", in.Query)
			for _, r := range in.Results {
				fmt.Fprintf(&b, "  • %s: %s\n", orDefault(r.Title, "Unknown"), orDefault(r.Snippet, "No snippet available"))
			}
		case models.InputRSSFeed:
			fmt.Fprintf(&b, "- RSS feed from %s\n", in.URL)
			for _, item := range in.Items {
				fmt.Fprintf(&b, "  • %s: %s\n", orDefault(item.Title, "Unknown"), orDefault(item.Description, "No description available"))
			}
		case models.InputFile:
			fmt.Fprintf(&b, "- File: %s\n", in.Name)
			if preview := firstRunes(in.Content, filePreviewLen); preview != "" {
				fmt.Fprintf(&b, "  • Content preview: %s...\n", preview)
			}
		}
	}
	return b.String()
}

// reflectPrompt asks the model to reflect on the most recent turns.
func reflectPrompt(conversation []models.Turn) string {
	var b strings.Builder
	b.WriteString(reflectInstruction)

	if len(conversation) > 0 {
		b.WriteString("Previous conversation:\n")
		start := max(0, len(conversation)-reflectWindow)
		for i, t := range conversation[start:] {
			fmt.Fprintf(&b, "%d. %s: %s...\n", i+1, capitalise(t.Role), firstRunes(t.Content, turnPreviewLen))
		}
	}
	return b.String()
}

func fileGenerationTurns(node models.Node) []models.Turn {
	user := "Generate content for a file based on the following information:\n\n" +
		"Header: " + node.ConfigString("header") + "\n" +
		"Instructions: " + node.ConfigString("prompt") + "\n\n" +
		"Your task is to generate appropriate content for a file based on this information.\n" +
		"Keep the content concise and focused on the requirements in the instructions."
	return []models.Turn{
		{Role: models.RoleSystem, Content: fileGenSystem},
		{Role: models.RoleUser, Content: user},
	}
}

type nodeBrief struct {
	ID     string `json:"id,omitempty"`
	Header string `json:"header"`
	Prompt string `json:"prompt"`
}

func briefOf(n models.Node) nodeBrief {
	return nodeBrief{ID: n.ID, Header: n.ConfigString("header"), Prompt: n.ConfigString("prompt")}
}

func chooseNodeTurns(current models.Node, candidates []models.Node) []models.Turn {
	cur := briefOf(current)
	cur.ID = ""
	briefs := make([]nodeBrief, 0, len(candidates))
	for _, c := range candidates {
		briefs = append(briefs, briefOf(c))
	}
	curJSON, _ := json.MarshalIndent(cur, "", "  ")
	nextJSON, _ := json.MarshalIndent(briefs, "", "  ")

	user := "This is the current node:\n" + string(curJSON) + ".\n\n" +
		"These are the possible next nodes:\n" + string(nextJSON) + ".\n\n" +
		"Choose the next node based on the current node and the possible next nodes.\n\n" +
		"Provide the next node id in the following format:\n{\n    \"next_node_id\": <next_node_id>\n}\n\n" +
		"Task: Return only one message that includes a valid JSON object with the next_node_id."
	return []models.Turn{
		{Role: models.RoleSystem, Content: "You are a helpful assistant."},
		{Role: models.RoleUser, Content: user},
	}
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func capitalise(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
