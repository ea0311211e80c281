package sonar

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrInvalidReport = errors.New("sonar: report is not valid JSON")

// Issue keeps the only two report fields the analysis prompt needs.
type Issue struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Summary struct {
	Issues []Issue `json:"issues"`
}

// report is the subset of the SonarQube issues export that is read.
type report struct {
	Issues []struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"issues"`
}

// Summarize reduces a SonarQube issues export to type and message per issue.
// A report without an "issues" array yields an empty summary.
func Summarize(raw []byte) (Summary, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	var r report
	if err := json.Unmarshal(raw, &r); err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	s := Summary{Issues: make([]Issue, 0, len(r.Issues))}
	for _, it := range r.Issues {
		s.Issues = append(s.Issues, Issue{Type: it.Type, Message: it.Message})
	}
	return s, nil
}

// Encode renders the summary the way it is uploaded: indented JSON.
func (s Summary) Encode() ([]byte, error) {
	return json.MarshalIndent(s, "", "    ")
}

// SummaryName derives the uploaded file name: report.json -> report_summary.json.
func SummaryName(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "report.json"
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return stem + "_summary.json"
}
