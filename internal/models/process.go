package models

import (
	"encoding/json"
	"strings"
)

const (
	ProcessRunning   = "running"
	ProcessCompleted = "completed"
	ProcessFailed    = "failed"
)

// Node is one vertex of a user-authored structure.
type Node struct {
	ID            string         `json:"id"`
	Type          string         `json:"type,omitempty"`
	Name          string         `json:"name,omitempty"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// ConfigString returns a string value from the node configuration.
func (n Node) ConfigString(key string) string {
	if n.Configuration == nil {
		return ""
	}
	s, _ := n.Configuration[key].(string)
	return s
}

// IsTerminal reports whether the node marks the end of a traversal.
func (n Node) IsTerminal() bool {
	t := strings.ToLower(n.Type)
	if t == "finish" || t == "end" {
		return true
	}
	name := strings.ToLower(strings.TrimSpace(n.Name))
	return name == "finish" || name == "end"
}

// IsStart reports whether the node is explicitly typed as a start node.
func (n Node) IsStart() bool {
	return strings.EqualFold(n.Type, "start")
}

// Connection is a directed edge. Older clients send source/target instead of
// from/to; both are accepted on input.
type Connection struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (c *Connection) UnmarshalJSON(data []byte) error {
	var raw struct {
		From   string `json:"from"`
		To     string `json:"to"`
		Source string `json:"source"`
		Target string `json:"target"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.From, c.To = raw.From, raw.To
	if c.From == "" {
		c.From = raw.Source
	}
	if c.To == "" {
		c.To = raw.Target
	}
	return nil
}

// Structure is the graph a Process walks.
type Structure struct {
	ID          string       `json:"id,omitempty"`
	Name        string       `json:"name,omitempty"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

func (s *Structure) Node(id string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Outgoing returns the edges leaving the given node, in source order.
func (s *Structure) Outgoing(id string) []Connection {
	var out []Connection
	for _, c := range s.Connections {
		if c.From == id {
			out = append(out, c)
		}
	}
	return out
}

type PathEntry struct {
	NodeID    string `json:"node_id"`
	Timestamp int64  `json:"timestamp"`
}

// Process is the runtime state of one traversal of a Structure.
type Process struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	Structure     Structure   `json:"structure"`
	CurrentNodeID string      `json:"current_node_id"`
	VisitedNodes  []string    `json:"visited_nodes"`
	Path          []PathEntry `json:"path"`
	Status        string      `json:"status"`
	Error         string      `json:"error,omitempty"`
	AutoAdvance   bool        `json:"auto_advance"`
	IntervalMS    int64       `json:"interval_ms,omitempty"`
	GenerateFiles bool        `json:"generate_files"`
	CreatedAt     int64       `json:"created_at"`
	UpdatedAt     int64       `json:"updated_at"`
}

func (p *Process) Done() bool {
	return p.Status == ProcessCompleted || p.Status == ProcessFailed
}

// GeneratedFile is an entry of a process file registry.
type GeneratedFile struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	NodeID    string `json:"node_id"`
	NodeName  string `json:"node_name,omitempty"`
	CreatedAt int64  `json:"created_at"`
	Size      int    `json:"size"`
	Content   string `json:"content"`
}

// FileRegistry is the on-disk list of files generated by one process.
type FileRegistry struct {
	Files []GeneratedFile `json:"files"`
}
