package models

// User represents an authenticated user of the system. It is persisted as the
// user's profile record and owns the ordered job index.
type User struct {
	ID           string         `json:"id"`
	Username     string         `json:"username"`
	Email        string         `json:"email"`
	PasswordHash string         `json:"password_hash"`
	CreatedAt    int64          `json:"created_at"`
	Settings     map[string]any `json:"settings"`
	Jobs         []JobSummary   `json:"jobs"`
}

// JobSummary is the list-view projection of a Job.
type JobSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	JobType      string `json:"job_type,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	LastModified int64  `json:"last_modified"`
}

// Job is one generation session: its inputs, transcript and output files.
type Job struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	JobType      string        `json:"job_type,omitempty"`
	CreatedAt    int64         `json:"created_at"`
	LastModified int64         `json:"last_modified"`
	Inputs       []InputRecord `json:"inputs"`
	Conversation []Turn        `json:"conversation"`
	Outputs      []Output      `json:"outputs"`
}

func (j *Job) Summary() JobSummary {
	return JobSummary{
		ID:           j.ID,
		Name:         j.Name,
		Description:  j.Description,
		JobType:      j.JobType,
		CreatedAt:    j.CreatedAt,
		LastModified: j.LastModified,
	}
}

// Touch bumps LastModified, never moving it backwards.
func (j *Job) Touch(now int64) {
	if now < j.CreatedAt {
		now = j.CreatedAt
	}
	if now > j.LastModified {
		j.LastModified = now
	}
}

// UpsertOutput replaces the output with the same file name or appends a new one.
func (j *Job) UpsertOutput(out Output) {
	for i := range j.Outputs {
		if j.Outputs[i].FileName == out.FileName {
			j.Outputs[i] = out
			return
		}
	}
	j.Outputs = append(j.Outputs, out)
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one role-tagged message in a job conversation.
type Turn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type Output struct {
	FileName  string `json:"file_name"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

const (
	InputWebSearch = "web_search"
	InputRSSFeed   = "rss_feed"
	InputFile      = "file"
)

// InputRecord is a tagged union keyed by Type; only the fields of that
// variant are populated.
type InputRecord struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`

	// web_search
	Query   string         `json:"query,omitempty"`
	Results []SearchResult `json:"results,omitempty"`

	// rss_feed
	URL   string    `json:"url,omitempty"`
	Items []RSSItem `json:"items,omitempty"`

	// file
	Name        string `json:"name,omitempty"`
	Content     string `json:"content,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type RSSItem struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`
	Published   string `json:"published"`
}
