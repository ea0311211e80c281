package parse

import (
	"regexp"
	"strings"
)

const (
	// Missing fills a judgment section the model did not produce.
	Missing = "[Missing]"
	// UnknownWinner is reported when no "Winner:" line names User or AI.
	UnknownWinner = "Unknown"
)

var judgeWinner = regexp.MustCompile(`(?im)^[ \t*#>-]*Winner[ \t*]*:[ \t*]*(User|AI)\b`)

type section int

const (
	userPros section = iota
	userCons
	aiPros
	aiCons
	reason
	sectionCount
)

var sectionHeaders = [sectionCount]*regexp.Regexp{
	userPros: header(`User[ \t]+Pros`),
	userCons: header(`User[ \t]+Cons`),
	aiPros:   header(`AI[ \t]+Pros`),
	aiCons:   header(`AI[ \t]+Cons`),
	reason:   header(`Reason`),
}

func header(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)^([ \t*#>-]*)` + name + `[ \t*]*:[ \t*]*`)
}

// listItem reports whether a header prefix is a plain list marker such as "- ",
// which makes the match a bullet inside a section rather than a header.
func listItem(prefix string) bool {
	switch strings.TrimSpace(prefix) {
	case "-", "*":
		return true
	}
	return false
}

type span struct{ start, body int }

// findHeader returns the first header match at or after from, preferring a
// match that is not a list item. Matches starting inside a claimed span are skipped.
func findHeader(re *regexp.Regexp, text string, from int, claimed []span) *span {
	var fallback *span
	for _, m := range re.FindAllStringSubmatchIndex(text[from:], -1) {
		sp := span{start: from + m[0], body: from + m[1]}
		if insideAny(sp.start, claimed) {
			continue
		}
		if !listItem(text[from+m[2] : from+m[3]]) {
			return &sp
		}
		if fallback == nil {
			fallback = &sp
		}
	}
	return fallback
}

func insideAny(pos int, spans []span) bool {
	for _, sp := range spans {
		if pos >= sp.start && pos < sp.body {
			return true
		}
	}
	return false
}

// Judgment is the verdict of a user-vs-AI code competition.
type Judgment struct {
	Winner   string `json:"winner"`
	UserPros string `json:"user_pros"`
	UserCons string `json:"user_cons"`
	AIPros   string `json:"ai_pros"`
	AICons   string `json:"ai_cons"`
	Reason   string `json:"reason"`
}

// Verdict extracts the winner and the five text sections. A section runs from its
// header to the next section header after it, or to the end of the text.
func Verdict(text string) Judgment {
	j := Judgment{Winner: UnknownWinner}
	if m := judgeWinner.FindStringSubmatch(text); m != nil {
		if strings.EqualFold(m[1], "ai") {
			j.Winner = "AI"
		} else {
			j.Winner = "User"
		}
	}

	// Headers are looked up in template order, each after the previous one, so a
	// bullet that repeats a later header name stays inside its section. Headers the
	// model wrote out of order get a second pass over the whole text.
	var spans [sectionCount]*span
	var claimed []span
	cursor := 0
	for i, re := range sectionHeaders {
		if sp := findHeader(re, text, cursor, nil); sp != nil {
			spans[i] = sp
			claimed = append(claimed, *sp)
			cursor = sp.body
		}
	}
	for i, re := range sectionHeaders {
		if spans[i] == nil {
			if sp := findHeader(re, text, 0, claimed); sp != nil {
				spans[i] = sp
				claimed = append(claimed, *sp)
			}
		}
	}

	var out [sectionCount]string
	for i, sp := range spans {
		if sp == nil {
			out[i] = Missing
			continue
		}
		end := len(text)
		for _, other := range spans {
			if other != nil && other.start >= sp.body && other.start < end {
				end = other.start
			}
		}
		body := strings.TrimSpace(text[sp.body:end])
		if body == "" {
			body = Missing
		}
		out[i] = body
	}

	j.UserPros = out[userPros]
	j.UserCons = out[userCons]
	j.AIPros = out[aiPros]
	j.AICons = out[aiCons]
	j.Reason = out[reason]
	return j
}
