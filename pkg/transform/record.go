package transform

// Source is the metadata tag stamped on every record.
const Source = "apache-jira"

// Comment is one normalized issue comment.
type Comment struct {
	Author  string `json:"author"`
	Body    string `json:"body"`
	Created string `json:"created"`
	Updated string `json:"updated"`
}

// Metadata records the provenance of a normalized record.
type Metadata struct {
	RawIssueKey string `json:"raw_issue_key"`
	ScrapedAt   string `json:"scraped_at"`
	Source      string `json:"source"`
}

// InstructionTask is a fixed-shape instruction/input/output tuple.
type InstructionTask struct {
	Instruction string `json:"instruction"`
	Input       string `json:"input"`
	Output      string `json:"output"`
}

// QATask is a fixed-shape question/context/answer tuple.
type QATask struct {
	Question string `json:"question"`
	Context  string `json:"context"`
	Answer   string `json:"answer"`
}

// DerivedTasks are the three training exercises generated from every
// record, deterministic given the record's other fields.
type DerivedTasks struct {
	Summarization  InstructionTask `json:"summarization"`
	Classification InstructionTask `json:"classification"`
	QAGeneration   QATask          `json:"qa_generation"`
}

// NormalizedRecord is the flattened training-ready representation of one
// issue. It is the schema of each output stream line.
type NormalizedRecord struct {
	IssueKey     string       `json:"issue_key"`
	Project      string       `json:"project"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Status       string       `json:"status"`
	IssueType    string       `json:"issue_type"`
	Priority     string       `json:"priority"`
	Reporter     string       `json:"reporter"`
	Assignee     string       `json:"assignee"`
	Created      string       `json:"created,omitempty"`
	Updated      string       `json:"updated,omitempty"`
	Resolved     string       `json:"resolved,omitempty"`
	Labels       []string     `json:"labels"`
	Components   []string     `json:"components"`
	Comments     []Comment    `json:"comments"`
	CommentCount int          `json:"comment_count"`
	Metadata     Metadata     `json:"metadata"`
	DerivedTasks DerivedTasks `json:"derived_tasks"`
}
