// Package gatekeeper classifies fetched HTML into a block-class:
// none, thin, challenge, login, or soft_block. Rules from an optional
// JSON file run first; when none fire, content-quality thresholds
// decide. The classifier is pure: identical inputs always produce an
// identical evidence record.
package gatekeeper

import (
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
)

// defaultRuleConfidence applies to rules that do not set one.
const defaultRuleConfidence = 0.8

// Input is everything the classifier looks at.
type Input struct {
	HTML       string
	StatusCode int
	FinalURL   string
	Title      string
}

// Gatekeeper holds the lazily loaded rules file and default thresholds.
// Safe for concurrent use; the rules file is loaded once and never
// reloaded.
type Gatekeeper struct {
	rulesPath string
	defaults  models.Thresholds

	once    sync.Once
	file    *rulesFile
	loadErr error
}

// New creates a Gatekeeper from configuration.
func New(cfg config.GatekeeperConfig) *Gatekeeper {
	return &Gatekeeper{
		rulesPath: cfg.RulesPath,
		defaults: models.Thresholds{
			MinHTMLBytes:        cfg.MinHTMLBytes,
			MinVisibleTextChars: cfg.MinVisibleTextChars,
			MinMainContentChars: cfg.MinMainContentChars,
		},
	}
}

func (g *Gatekeeper) load() *rulesFile {
	g.once.Do(func() {
		if g.rulesPath == "" {
			return
		}
		g.file, g.loadErr = loadRulesFile(g.rulesPath)
		if g.loadErr != nil {
			slog.Warn("gatekeeper rules file unusable, running on thresholds only",
				"path", g.rulesPath, "error", g.loadErr)
		}
	})
	return g.file
}

// Evaluate classifies the input and returns the full evidence record.
func (g *Gatekeeper) Evaluate(in Input) *models.GatekeeperVerdict {
	quality := computeQuality(in.HTML)
	if in.Title == "" {
		in.Title = extractTitle(in.HTML)
	}

	rules, thresholds := g.rulesFor(in.FinalURL)

	var fired []models.RuleEvidence
	for _, rule := range rules {
		matched := make([]string, 0, len(rule.Signals))
		all := len(rule.Signals) > 0
		for i := range rule.Signals {
			if rule.Signals[i].matches(&in, &quality) {
				matched = append(matched, rule.Signals[i].Name())
			} else {
				all = false
				break
			}
		}
		if all {
			conf := rule.Confidence
			if conf == 0 {
				conf = defaultRuleConfidence
			}
			fired = append(fired, models.RuleEvidence{
				RuleID:     rule.ID,
				Signals:    matched,
				BlockClass: rule.BlockClass,
				Confidence: conf,
			})
		}
	}

	verdict := &models.GatekeeperVerdict{
		BlockClass: models.BlockNone,
		Quality:    quality,
		Thresholds: thresholds,
	}

	if len(fired) > 0 {
		sort.SliceStable(fired, func(i, j int) bool {
			if fired[i].Confidence != fired[j].Confidence {
				return fired[i].Confidence > fired[j].Confidence
			}
			return fired[i].RuleID < fired[j].RuleID
		})
		verdict.BlockClass = fired[0].BlockClass
		verdict.Confidence = fired[0].Confidence
		verdict.Evidence = fired
	} else {
		failing := 0
		if quality.HTMLBytes < thresholds.MinHTMLBytes {
			failing++
		}
		if quality.VisibleTextChars < thresholds.MinVisibleTextChars {
			failing++
		}
		if quality.MainContentChars < thresholds.MinMainContentChars {
			failing++
		}
		if thresholds.RequireStructuredData && !quality.HasStructuredData {
			failing++
		}
		if failing > 0 {
			verdict.BlockClass = models.BlockThin
			verdict.Confidence = 0.4 + 0.15*float64(failing)
			if verdict.Confidence > 1.0 {
				verdict.Confidence = 1.0
			}
		}
	}

	verdict.ContentStatus = verdict.BlockClass.ContentStatus()
	return verdict
}

// rulesFor merges the global rule set with per-host overrides for the
// final URL's host. Host rules are evaluated first.
func (g *Gatekeeper) rulesFor(finalURL string) ([]Rule, models.Thresholds) {
	thresholds := g.defaults
	file := g.load()
	if file == nil {
		return nil, thresholds
	}

	var rules []Rule
	var hostSet *RuleSet
	if u, err := url.Parse(finalURL); err == nil && file.Domains != nil {
		hostSet = file.Domains[strings.ToLower(u.Hostname())]
	}
	if hostSet != nil {
		rules = append(rules, hostSet.Rules...)
	}
	if file.Global != nil {
		rules = append(rules, file.Global.Rules...)
	}

	apply := func(t *thresholdsConfig) {
		if t == nil {
			return
		}
		if t.MinHTMLBytes != nil {
			thresholds.MinHTMLBytes = *t.MinHTMLBytes
		}
		if t.MinVisibleTextChars != nil {
			thresholds.MinVisibleTextChars = *t.MinVisibleTextChars
		}
		if t.MinMainContentChars != nil {
			thresholds.MinMainContentChars = *t.MinMainContentChars
		}
		if t.RequireStructuredData != nil {
			thresholds.RequireStructuredData = *t.RequireStructuredData
		}
	}
	if file.Global != nil {
		apply(file.Global.Thresholds)
	}
	if hostSet != nil {
		apply(hostSet.Thresholds)
	}
	return rules, thresholds
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// computeQuality measures the HTML: total bytes, visible text with
// script/style/noscript stripped, main-content text restricted to
// main/article elements (falling back to the full text), and JSON-LD
// presence.
func computeQuality(htmlStr string) models.QualityRecord {
	q := models.QualityRecord{HTMLBytes: len(htmlStr)}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return q
	}

	q.HasStructuredData = doc.Find(`script[type="application/ld+json"]`).Length() > 0

	doc.Find("script, style, noscript").Remove()

	visible := collapse(doc.Text())
	q.VisibleTextChars = len(visible)

	main := doc.Find("main, article")
	if main.Length() > 0 {
		q.MainContentChars = len(collapse(main.Text()))
	} else {
		q.MainContentChars = q.VisibleTextChars
	}
	return q
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func extractTitle(htmlStr string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
