package gatekeeper

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/use-agent/harvest/models"
)

// Signal is one condition inside a rule. Exactly one field is set per
// signal object; the closed set mirrors the rules-file schema.
type Signal struct {
	ContainsScript    *string  `json:"contains_script,omitempty"`
	TitleMatches      *string  `json:"title_matches,omitempty"`
	BodyTextLenLt     *int     `json:"body_text_len_lt,omitempty"`
	StatusIn          []int    `json:"status_in,omitempty"`
	RedirectToLogin   []string `json:"redirect_to_login,omitempty"`
	HTMLBytesLt       *int     `json:"html_bytes_lt,omitempty"`
	VisibleTextLenLt  *int     `json:"visible_text_len_lt,omitempty"`
	MainContentLenLt  *int     `json:"main_content_len_lt,omitempty"`
	HasStructuredData *bool    `json:"has_structured_data,omitempty"`
}

// Name returns the signal's identifier for evidence records.
func (s *Signal) Name() string {
	switch {
	case s.ContainsScript != nil:
		return "contains_script"
	case s.TitleMatches != nil:
		return "title_matches"
	case s.BodyTextLenLt != nil:
		return "body_text_len_lt"
	case len(s.StatusIn) > 0:
		return "status_in"
	case len(s.RedirectToLogin) > 0:
		return "redirect_to_login"
	case s.HTMLBytesLt != nil:
		return "html_bytes_lt"
	case s.VisibleTextLenLt != nil:
		return "visible_text_len_lt"
	case s.MainContentLenLt != nil:
		return "main_content_len_lt"
	case s.HasStructuredData != nil:
		return "has_structured_data"
	}
	return "unknown"
}

// matches evaluates the signal against the computed input.
func (s *Signal) matches(in *Input, q *models.QualityRecord) bool {
	switch {
	case s.ContainsScript != nil:
		return strings.Contains(in.HTML, *s.ContainsScript)
	case s.TitleMatches != nil:
		return strings.Contains(strings.ToLower(in.Title), strings.ToLower(*s.TitleMatches))
	case s.BodyTextLenLt != nil:
		return q.VisibleTextChars < *s.BodyTextLenLt
	case len(s.StatusIn) > 0:
		for _, code := range s.StatusIn {
			if in.StatusCode == code {
				return true
			}
		}
		return false
	case len(s.RedirectToLogin) > 0:
		lower := strings.ToLower(in.FinalURL)
		for _, needle := range s.RedirectToLogin {
			if strings.Contains(lower, strings.ToLower(needle)) {
				return true
			}
		}
		return false
	case s.HTMLBytesLt != nil:
		return q.HTMLBytes < *s.HTMLBytesLt
	case s.VisibleTextLenLt != nil:
		return q.VisibleTextChars < *s.VisibleTextLenLt
	case s.MainContentLenLt != nil:
		return q.MainContentChars < *s.MainContentLenLt
	case s.HasStructuredData != nil:
		return q.HasStructuredData == *s.HasStructuredData
	}
	return false
}

// Rule fires when all of its signals match.
type Rule struct {
	ID         string            `json:"id"`
	BlockClass models.BlockClass `json:"block_class"`
	Confidence float64           `json:"confidence,omitempty"`
	Signals    []Signal          `json:"signals"`
}

// thresholdsConfig is the optional thresholds section of a rule set;
// nil fields fall back to defaults.
type thresholdsConfig struct {
	MinHTMLBytes          *int  `json:"min_html_bytes,omitempty"`
	MinVisibleTextChars   *int  `json:"min_visible_text_chars,omitempty"`
	MinMainContentChars   *int  `json:"min_main_content_chars,omitempty"`
	RequireStructuredData *bool `json:"require_structured_data,omitempty"`
}

// RuleSet is a rules + thresholds pair, either global or per-host.
type RuleSet struct {
	Rules      []Rule            `json:"rules,omitempty"`
	Thresholds *thresholdsConfig `json:"thresholds,omitempty"`
}

// rulesFile is the on-disk schema.
type rulesFile struct {
	Global  *RuleSet            `json:"global,omitempty"`
	Domains map[string]*RuleSet `json:"domains,omitempty"`
}

func loadRulesFile(path string) (*rulesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gatekeeper: read rules file: %w", err)
	}
	var f rulesFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("gatekeeper: parse rules file: %w", err)
	}
	return &f, nil
}
