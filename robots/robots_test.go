package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/use-agent/harvest/dispatch"
)

func testEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	d, err := dispatch.New(dispatch.Options{AllowLocal: true})
	if err != nil {
		t.Fatal(err)
	}
	return NewEvaluator(d)
}

func robotsServer(t *testing.T, robotsBody string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(status)
			w.Write([]byte(robotsBody))
			return
		}
		w.Write([]byte("page"))
	}))
}

func TestAllowed_Disallow(t *testing.T) {
	srv := robotsServer(t, "User-agent: *\nDisallow: /private\n", 200)
	defer srv.Close()

	e := testEvaluator(t)
	agents := []string{"HarvestBot", "*"}

	if ok, _ := e.Allowed(context.Background(), srv.URL+"/private/page", agents); ok {
		t.Error("/private/page should be disallowed")
	}
	if ok, _ := e.Allowed(context.Background(), srv.URL+"/public", agents); !ok {
		t.Error("/public should be allowed")
	}
}

func TestAllowed_AnyAgentTokenWins(t *testing.T) {
	srv := robotsServer(t, "User-agent: *\nDisallow: /docs\n\nUser-agent: HarvestBot\nAllow: /docs\n", 200)
	defer srv.Close()

	e := testEvaluator(t)
	if ok, _ := e.Allowed(context.Background(), srv.URL+"/docs/guide", []string{"HarvestBot", "*"}); !ok {
		t.Error("HarvestBot's allow should win even though * disallows")
	}
}

func TestAllowed_TrailingSlashVariant(t *testing.T) {
	srv := robotsServer(t, "User-agent: *\nDisallow: /admin/\n", 200)
	defer srv.Close()

	e := testEvaluator(t)
	// "/admin" itself is not matched by "Disallow: /admin/", but the
	// trailing-slash recheck blocks it.
	if ok, _ := e.Allowed(context.Background(), srv.URL+"/admin", []string{"*"}); ok {
		t.Error("explicit disallow on the trailing-slash form should block /admin")
	}
}

func TestAllowed_404AllowsAll(t *testing.T) {
	srv := robotsServer(t, "", 404)
	defer srv.Close()

	e := testEvaluator(t)
	if ok, _ := e.Allowed(context.Background(), srv.URL+"/anything", []string{"*"}); !ok {
		t.Error("missing robots.txt should allow everything")
	}
}

func TestAllowed_CachesPerHost(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			hits++
			w.Write([]byte("User-agent: *\nAllow: /\n"))
		}
	}))
	defer srv.Close()

	e := testEvaluator(t)
	for i := 0; i < 3; i++ {
		if ok, _ := e.Allowed(context.Background(), srv.URL+"/page", []string{"*"}); !ok {
			t.Fatal("should be allowed")
		}
	}
	if hits != 1 {
		t.Errorf("robots.txt fetched %d times, want 1", hits)
	}
}
