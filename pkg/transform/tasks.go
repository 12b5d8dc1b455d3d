package transform

import (
	"fmt"
	"strings"
)

// Truncation limits for derived-task inputs.
const (
	classificationInputLimit = 500
	qaContextLimit           = 1000
	qaAnswerLimit            = 200
)

// deriveTasks builds the three training exercises from a normalized
// record. Deterministic: the same record always yields the same tasks.
func deriveTasks(rec *NormalizedRecord) DerivedTasks {
	fullText := rec.Title + "\n\n" + rec.Description
	if len(rec.Comments) > 0 {
		var b strings.Builder
		b.WriteString(fullText)
		b.WriteString("\n\nComments:\n")
		for _, comment := range rec.Comments {
			author := comment.Author
			if author == "" {
				author = "Unknown"
			}
			fmt.Fprintf(&b, "- %s: %s\n", author, comment.Body)
		}
		fullText = b.String()
	}

	answer := rec.Title
	if rec.Description != "" {
		answer = rec.Title + " - " + truncate(rec.Description, qaAnswerLimit)
	}

	return DerivedTasks{
		Summarization: InstructionTask{
			Instruction: "Summarize the following Jira issue:",
			Input:       fullText,
			Output: fmt.Sprintf("Issue %s: %s (Status: %s, Type: %s)",
				rec.IssueKey, rec.Title, rec.Status, rec.IssueType),
		},
		Classification: InstructionTask{
			Instruction: "Classify the following Jira issue by type and status:",
			Input:       rec.Title + "\n\n" + truncate(rec.Description, classificationInputLimit),
			Output:      fmt.Sprintf("Type: %s, Status: %s", rec.IssueType, rec.Status),
		},
		QAGeneration: QATask{
			Question: fmt.Sprintf("What is the issue %s about?", rec.IssueKey),
			Context:  truncate(fullText, qaContextLimit),
			Answer:   answer,
		},
	}
}

// truncate limits a string to n characters, rune-safe.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
