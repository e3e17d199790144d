package sitemap

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/use-agent/harvest/cache"
	"github.com/use-agent/harvest/dispatch"
	"github.com/use-agent/harvest/engine"
)

func testProcessor(t *testing.T) *Processor {
	t.Helper()
	d, err := dispatch.New(dispatch.Options{AllowLocal: true})
	if err != nil {
		t.Fatal(err)
	}
	return NewProcessor(d, engine.NewFetchEngine(d, cache.New(10)))
}

func TestWalk_IndexAndURLSet(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		switch r.URL.Path {
		case "/sitemap.xml":
			w.Write([]byte(`<?xml version="1.0"?>
				<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
					<sitemap><loc>` + srv.URL + `/sitemap-a.xml</loc></sitemap>
					<sitemap><loc>` + srv.URL + `/sitemap-b.xml</loc></sitemap>
				</sitemapindex>`))
		case "/sitemap-a.xml":
			w.Write([]byte(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
				<url><loc>` + srv.URL + `/page1</loc></url>
				<url><loc>` + srv.URL + `/page2</loc></url>
			</urlset>`))
		case "/sitemap-b.xml":
			w.Write([]byte(`<urlset><url><loc>` + srv.URL + `/page3</loc></url></urlset>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var got []string
	err := testProcessor(t).Walk(context.Background(), srv.URL+"/sitemap.xml", func(urls []string) {
		got = append(got, urls...)
	})
	if err != nil {
		t.Fatal(err)
	}

	sort.Strings(got)
	want := []string{srv.URL + "/page1", srv.URL + "/page2", srv.URL + "/page3"}
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("urls = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("urls[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWalk_CycleProtection(t *testing.T) {
	fetches := 0
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		// Points back at itself.
		w.Write([]byte(`<sitemapindex><sitemap><loc>` + srv.URL + `/sitemap.xml</loc></sitemap></sitemapindex>`))
	}))
	defer srv.Close()

	if err := testProcessor(t).Walk(context.Background(), srv.URL+"/sitemap.xml", func([]string) {}); err != nil {
		t.Fatal(err)
	}
	if fetches != 1 {
		t.Errorf("self-referencing sitemap fetched %d times, want 1", fetches)
	}
}

func TestWalk_GzippedSitemap(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		gz.Write([]byte(`<urlset><url><loc>` + srv.URL + `/zipped</loc></url></urlset>`))
		gz.Close()
		w.Header().Set("Content-Type", "application/gzip")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	var got []string
	if err := testProcessor(t).Walk(context.Background(), srv.URL+"/sitemap.xml.gz", func(urls []string) {
		got = append(got, urls...)
	}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != srv.URL+"/zipped" {
		t.Errorf("urls = %v", got)
	}
}

func TestWalk_UnparsableSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not xml at all {{{"))
	}))
	defer srv.Close()

	var got []string
	if err := testProcessor(t).Walk(context.Background(), srv.URL+"/sitemap.xml", func(urls []string) {
		got = append(got, urls...)
	}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("unparsable sitemap yielded urls: %v", got)
	}
}

func TestParse_LenientUnknownRoot(t *testing.T) {
	// Exercise the lenient path with a document the strict decoder
	// rejects at the top level: the root is neither urlset nor
	// sitemapindex.
	body := []byte(`<feed><url><loc>https://example.com/a</loc></url></feed>`)
	instructions, err := parse(body)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, ins := range instructions {
		if ins.action == actionProcess {
			for _, u := range ins.urls {
				if u == "https://example.com/a" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Errorf("lenient parse missed the url: %+v", instructions)
	}
}
