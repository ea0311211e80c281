package parse

import (
	"regexp"
	"strings"
)

// IssueNumber <n>. <name>: <explanation> - YouTube: <url>
var issueBlock = regexp.MustCompile(`(?s)IssueNumber \d+\.\s+(.+?):\s+(.*?)- YouTube:\s+(https?://\S+)`)

type Issue struct {
	Name        string `json:"name"`
	Explanation string `json:"explanation"`
	Link        string `json:"link"`
}

type IssueList struct {
	Issues []Issue `json:"issues"`
}

// Issues extracts the issue blocks of a report summary in the order they appear.
// Text without any block yields an empty (non-nil) list.
func Issues(text string) IssueList {
	matches := issueBlock.FindAllStringSubmatch(text, -1)
	out := IssueList{Issues: make([]Issue, 0, len(matches))}
	for _, m := range matches {
		out.Issues = append(out.Issues, Issue{
			Name:        strings.TrimSpace(m[1]),
			Explanation: strings.TrimSpace(m[2]),
			Link:        strings.TrimSpace(m[3]),
		})
	}
	return out
}
