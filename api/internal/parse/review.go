package parse

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	markerFeedback = "Feedback:"
	markerRevised  = "Suggested Revised Code:"
	markerVideo    = "Recommended YouTube Video:"
)

var (
	reviewScore    = regexp.MustCompile(`(?m)^[ \t*#>-]*Score:[ \t*]*(\d+)/100`)
	reviewFeedback = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(markerFeedback) + `(.*?)` + regexp.QuoteMeta(markerRevised))
	reviewCode     = regexp.MustCompile("(?s)" + regexp.QuoteMeta(markerRevised) + ".*?```(?:[\\w+#.-]*[ \\t]*\\r?\\n)?(.*?)```")
	reviewVideo    = regexp.MustCompile(regexp.QuoteMeta(markerVideo) + `\s*(?:\[[^\]]*\]\()?<?(https?://[^\s)\]>]+)`)
)

// Review is the structured form of a code review answer.
// Score and YouTubeLink are nil when the model left them out.
type Review struct {
	Score       *int    `json:"score"`
	Feedback    string  `json:"feedback"`
	RevisedCode string  `json:"revised_code"`
	YouTubeLink *string `json:"youtube_link"`
}

// CodeReview extracts the four review fields independently of each other.
func CodeReview(text string) Review {
	var r Review

	if m := reviewScore.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			r.Score = &n
		}
	}
	if m := reviewFeedback.FindStringSubmatch(text); m != nil {
		r.Feedback = strings.TrimSpace(m[1])
	}
	if m := reviewCode.FindStringSubmatch(text); m != nil {
		r.RevisedCode = trimCode(m[1])
	}
	if m := reviewVideo.FindStringSubmatch(text); m != nil {
		link := m[1]
		r.YouTubeLink = &link
	}
	return r
}

// trimCode drops blank lines around a code block but keeps the first line's indentation.
func trimCode(s string) string {
	s = strings.TrimRight(s, " \t\r\n")
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 || strings.TrimSpace(s[:i]) != "" {
			return s
		}
		s = s[i+1:]
	}
}
