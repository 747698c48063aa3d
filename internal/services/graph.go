package services

import (
	"strings"

	"github.com/RPLaine/newsroom-processor/internal/apperr"
	"github.com/RPLaine/newsroom-processor/internal/models"
)

// resolveStartNode picks the entry of a structure: a node typed "start",
// then a node whose name mentions start, then the first node.
func resolveStartNode(nodes []models.Node) (models.Node, error) {
	if len(nodes) == 0 {
		return models.Node{}, apperr.Validation("Structure has no nodes")
	}
	for _, n := range nodes {
		if n.IsStart() {
			return n, nil
		}
	}
	for _, n := range nodes {
		if strings.Contains(strings.ToLower(n.Name), "start") {
			return n, nil
		}
	}
	return nodes[0], nil
}

// validateStructure rejects structures the traversal cannot walk.
func validateStructure(s models.Structure) error {
	seen := make(map[string]struct{}, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.ID == "" {
			return apperr.Validation("Every node needs an id")
		}
		if _, dup := seen[n.ID]; dup {
			return apperr.Newf(apperr.KindValidation, "Duplicate node id: %s", n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	return nil
}

// DetectFileExtension guesses a file extension from generated content.
func DetectFileExtension(content string) string {
	trimmed := strings.TrimSpace(content)
	head := firstRunes(content, 100)

	switch {
	case strings.HasPrefix(trimmed, "<!DOCTYPE html>") || strings.Contains(head, "<html"):
		return "html"
	case strings.Contains(content, "```json") || strings.HasPrefix(trimmed, "{"):
		return "json"
	case strings.Contains(content, "```python") || strings.Contains(content, "def ") || strings.Contains(content, "import "):
		return "py"
	case strings.Contains(content, "```javascript") || strings.Contains(content, "function ") || strings.Contains(content, "const "):
		return "js"
	case strings.Contains(content, "```css") || (strings.Index(content, "{") > 0 && strings.Contains(content, ":")):
		return "css"
	case strings.Contains(content, "```markdown") || strings.HasPrefix(trimmed, "#"):
		return "md"
	default:
		return "txt"
	}
}

// sanitizeFilename keeps letters, digits, '-' and '_'; everything else
// becomes '_'.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
