// harvest-mcp is a stdio MCP server exposing the Harvest HTTP API as
// tools, so MCP-capable clients can scrape and crawl without speaking
// the REST surface directly.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// scrapeRequest mirrors the Harvest API request model.
type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats,omitempty"`
}

// crawlRequest mirrors the Harvest API crawl request model.
type crawlRequest struct {
	URL      string `json:"url"`
	Limit    int    `json:"limit,omitempty"`
	MaxDepth int    `json:"maxDepth,omitempty"`
}

func apiBase() string {
	if v := os.Getenv("HARVEST_API_URL"); v != "" {
		return v
	}
	return "http://localhost:3002"
}

var httpClient = &http.Client{Timeout: 5 * time.Minute}

// post sends a JSON payload to the Harvest API and returns the raw
// response body.
func post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase()+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := os.Getenv("HARVEST_API_KEY"); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func main() {
	s := server.NewMCPServer("harvest", "0.1.0")

	scrapeTool := mcp.NewTool("scrape_url",
		mcp.WithDescription("Scrape a single web page and return it as a structured document (markdown, links, images)."),
		mcp.WithString("url", mcp.Required(), mcp.Description("The URL to scrape")),
		mcp.WithString("format", mcp.Description("Output format: markdown (default), html, rawHtml, links, or images")),
	)
	s.AddTool(scrapeTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := req.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		format := req.GetString("format", "markdown")

		raw, err := post(ctx, "/scrape", scrapeRequest{URL: url, Formats: []string{format}})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("scrape failed: %v", err)), nil
		}
		return mcp.NewToolResultText(string(raw)), nil
	})

	crawlTool := mcp.NewTool("crawl_site",
		mcp.WithDescription("Crawl a site breadth-first from the given URL and return the scraped pages."),
		mcp.WithString("url", mcp.Required(), mcp.Description("The seed URL to crawl")),
		mcp.WithNumber("limit", mcp.Description("Maximum pages to process (default 100)")),
		mcp.WithNumber("max_depth", mcp.Description("Maximum crawl depth (default 2)")),
	)
	s.AddTool(crawlTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := req.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		payload := crawlRequest{URL: url}
		args := req.GetArguments()
		if v, ok := args["limit"].(float64); ok {
			payload.Limit = int(v)
		}
		if v, ok := args["max_depth"].(float64); ok {
			payload.MaxDepth = int(v)
		}

		raw, err := post(ctx, "/crawl", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("crawl failed: %v", err)), nil
		}
		return mcp.NewToolResultText(string(raw)), nil
	})

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "mcp server error: %v\n", err)
		os.Exit(1)
	}
}
