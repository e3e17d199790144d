package gatekeeper

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
)

func testConfig() config.GatekeeperConfig {
	return config.GatekeeperConfig{
		MinHTMLBytes:        2048,
		MinVisibleTextChars: 600,
		MinMainContentChars: 400,
	}
}

func bigHTML(mainText string) string {
	filler := strings.Repeat("lorem ipsum dolor sit amet consectetur ", 40)
	return `<html><head><title>Big Page</title></head><body>` +
		`<nav>home about contact</nav>` +
		`<main>` + mainText + filler + `</main>` +
		`<p>` + filler + `</p>` +
		`</body></html>`
}

func TestEvaluate_UsableContent(t *testing.T) {
	g := New(testConfig())
	v := g.Evaluate(Input{
		HTML:       bigHTML("real article content here. "),
		StatusCode: 200,
		FinalURL:   "https://example.com/post",
	})
	if v.BlockClass != models.BlockNone {
		t.Errorf("blockClass = %q, want none (quality: %+v)", v.BlockClass, v.Quality)
	}
	if v.ContentStatus != "usable" {
		t.Errorf("contentStatus = %q, want usable", v.ContentStatus)
	}
}

func TestEvaluate_ThinContent(t *testing.T) {
	g := New(testConfig())
	v := g.Evaluate(Input{
		HTML:       "<html><body><p>tiny</p></body></html>",
		StatusCode: 200,
		FinalURL:   "https://example.com/",
	})
	if v.BlockClass != models.BlockThin {
		t.Fatalf("blockClass = %q, want thin", v.BlockClass)
	}
	// All three size thresholds fail: 0.4 + 3*0.15 = 0.85.
	if v.Confidence < 0.84 || v.Confidence > 0.86 {
		t.Errorf("confidence = %v, want 0.85", v.Confidence)
	}
	if v.ContentStatus != "thin" {
		t.Errorf("contentStatus = %q, want thin", v.ContentStatus)
	}
}

func TestEvaluate_QualityMetrics(t *testing.T) {
	html := `<html><head><script type="application/ld+json">{"@type":"Article"}</script></head>` +
		`<body><script>var x=1</script><main>main text</main><p>outside</p></body></html>`
	q := computeQuality(html)
	if !q.HasStructuredData {
		t.Error("JSON-LD should set hasStructuredData")
	}
	if q.MainContentChars >= q.VisibleTextChars {
		t.Errorf("main content (%d) should be smaller than visible text (%d)", q.MainContentChars, q.VisibleTextChars)
	}
}

func TestEvaluate_MainContentFallsBackToFullText(t *testing.T) {
	q := computeQuality("<html><body><p>no main element here</p></body></html>")
	if q.MainContentChars != q.VisibleTextChars {
		t.Errorf("without main/article, mainContentChars (%d) should equal visibleTextChars (%d)",
			q.MainContentChars, q.VisibleTextChars)
	}
}

func writeRules(t *testing.T, rules rulesFile) string {
	t.Helper()
	data, err := json.Marshal(rules)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "rules.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEvaluate_ChallengeRule(t *testing.T) {
	title := "Verify you are human"
	rules := rulesFile{
		Global: &RuleSet{
			Rules: []Rule{{
				ID:         "captcha-403",
				BlockClass: models.BlockChallenge,
				Confidence: 0.95,
				Signals: []Signal{
					{TitleMatches: &title},
					{StatusIn: []int{403}},
				},
			}},
		},
	}
	cfg := testConfig()
	cfg.RulesPath = writeRules(t, rules)
	g := New(cfg)

	v := g.Evaluate(Input{
		HTML:       `<html><head><title>Verify you are human</title></head><body>captcha</body></html>`,
		StatusCode: 403,
		FinalURL:   "https://example.com/",
	})
	if v.BlockClass != models.BlockChallenge {
		t.Fatalf("blockClass = %q, want challenge", v.BlockClass)
	}
	if v.ContentStatus != "challenge" {
		t.Errorf("contentStatus = %q, want challenge", v.ContentStatus)
	}
	if len(v.Evidence) == 0 || v.Evidence[0].RuleID != "captcha-403" {
		t.Errorf("evidence should cite captcha-403: %+v", v.Evidence)
	}
}

func TestEvaluate_LoginRedirectRule(t *testing.T) {
	rules := rulesFile{
		Global: &RuleSet{
			Rules: []Rule{{
				ID:         "login-redirect",
				BlockClass: models.BlockLogin,
				Confidence: 0.9,
				Signals: []Signal{
					{RedirectToLogin: []string{"/signin", "/login"}},
				},
			}},
		},
	}
	cfg := testConfig()
	cfg.RulesPath = writeRules(t, rules)
	g := New(cfg)

	v := g.Evaluate(Input{
		HTML:       "<html><body>sign in</body></html>",
		StatusCode: 200,
		FinalURL:   "https://login.example.com/signin?next=/",
	})
	if v.BlockClass != models.BlockLogin {
		t.Fatalf("blockClass = %q, want login", v.BlockClass)
	}
	found := false
	for _, ev := range v.Evidence {
		for _, sig := range ev.Signals {
			if sig == "redirect_to_login" {
				found = true
			}
		}
	}
	if !found {
		t.Errorf("evidence should cite redirect_to_login: %+v", v.Evidence)
	}
}

func TestEvaluate_HighestConfidenceWins(t *testing.T) {
	needle := "captcha"
	rules := rulesFile{
		Global: &RuleSet{
			Rules: []Rule{
				{ID: "weak", BlockClass: models.BlockSoftBlock, Confidence: 0.5,
					Signals: []Signal{{ContainsScript: &needle}}},
				{ID: "strong", BlockClass: models.BlockChallenge, Confidence: 0.9,
					Signals: []Signal{{ContainsScript: &needle}}},
			},
		},
	}
	cfg := testConfig()
	cfg.RulesPath = writeRules(t, rules)
	g := New(cfg)

	v := g.Evaluate(Input{HTML: "<html>captcha</html>", StatusCode: 200, FinalURL: "https://x.test/"})
	if v.BlockClass != models.BlockChallenge || v.Confidence != 0.9 {
		t.Errorf("winner = %q/%v, want challenge/0.9", v.BlockClass, v.Confidence)
	}
	if len(v.Evidence) != 2 {
		t.Errorf("all fired rules should be evidence, got %d", len(v.Evidence))
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	g := New(testConfig())
	in := Input{HTML: "<html><body>small</body></html>", StatusCode: 200, FinalURL: "https://example.com/"}

	v1 := g.Evaluate(in)
	v2 := g.Evaluate(in)
	if !reflect.DeepEqual(v1, v2) {
		t.Errorf("evaluate is not idempotent:\n%+v\n%+v", v1, v2)
	}

	b1, _ := json.Marshal(v1)
	b2, _ := json.Marshal(v2)
	if string(b1) != string(b2) {
		t.Error("evidence records differ byte-wise")
	}
}
