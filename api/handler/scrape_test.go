package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/harvest/cache"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/dispatch"
	"github.com/use-agent/harvest/gatekeeper"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/pipeline"
)

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	d, err := dispatch.New(dispatch.Options{AllowLocal: true})
	if err != nil {
		t.Fatal(err)
	}
	orc := pipeline.New(pipeline.Options{
		Dispatcher: d,
		Validators: cache.New(10),
		Gatekeeper: gatekeeper.New(config.GatekeeperConfig{MinHTMLBytes: 1, MinVisibleTextChars: 1, MinMainContentChars: 1}),
		Scrape:     config.ScrapeConfig{DefaultTimeout: 10 * time.Second, MaxTimeout: 30 * time.Second},
	})

	r := gin.New()
	r.POST("/scrape", Scrape(orc, config.SecurityConfig{}))
	r.GET("/health", Health())
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestScrapeHandler_Success(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><h1>Hi</h1></body></html>"))
	}))
	defer target.Close()

	w := doJSON(t, testRouter(t), http.MethodPost, "/scrape", map[string]any{
		"url":     target.URL,
		"formats": []string{"markdown"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp models.ScrapeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Document == nil {
		t.Errorf("response = %+v", resp)
	}
	if resp.Error != nil {
		t.Errorf("success response must not carry error: %+v", resp.Error)
	}
}

func TestScrapeHandler_MissingURL(t *testing.T) {
	w := doJSON(t, testRouter(t), http.MethodPost, "/scrape", map[string]any{"formats": []string{"markdown"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}

	var resp models.ScrapeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Success || resp.Error == nil || resp.Error.Code != models.ErrCodeInvalidInput {
		t.Errorf("response = %+v", resp)
	}
}

func TestScrapeHandler_BadFormat(t *testing.T) {
	w := doJSON(t, testRouter(t), http.MethodPost, "/scrape", map[string]any{
		"url":     "https://example.com",
		"formats": []string{"csv"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestScrapeHandler_UpstreamFailureIs502(t *testing.T) {
	// Closed port: connection refused, surfaces as a 502 engine error.
	w := doJSON(t, testRouter(t), http.MethodPost, "/scrape", map[string]any{
		"url": "http://127.0.0.1:1/nothing",
	})
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502 (body %s)", w.Code, w.Body.String())
	}

	var resp models.ScrapeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Success || resp.Error == nil {
		t.Errorf("response = %+v", resp)
	}
	if resp.Document != nil {
		t.Error("failure response must not carry a document")
	}
}

func TestHealthHandler(t *testing.T) {
	w := doJSON(t, testRouter(t), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp models.HealthResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
}
