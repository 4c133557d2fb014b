package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchPageText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
<head><title>Getting Started</title><style>body { color: red }</style></head>
<body>
  <nav>Home | About</nav>
  <script>trackVisitor()</script>
  <h1>Getting Started</h1>
  <p>First paragraph of the guide.</p>
  <p>Second paragraph with <a href="/more">a link</a>.</p>
  <footer>Copyright</footer>
</body>
</html>`))
	}))
	defer srv.Close()

	text, err := FetchPageText(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("FetchPageText: %v", err)
	}

	if !strings.HasPrefix(text, "Getting Started") {
		t.Errorf("text does not start with the title: %q", text)
	}
	for _, want := range []string{"First paragraph of the guide.", "Second paragraph with a link ."} {
		if !strings.Contains(text, want) {
			t.Errorf("text missing %q:\n%s", want, text)
		}
	}
	for _, skipped := range []string{"trackVisitor", "color: red", "Home | About", "Copyright"} {
		if strings.Contains(text, skipped) {
			t.Errorf("text contains skipped content %q:\n%s", skipped, text)
		}
	}
}

func TestFetchPageTextBlockBoundaries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><ul><li>one</li><li>two</li><li>three</li></ul></body></html>`))
	}))
	defer srv.Close()

	text, err := FetchPageText(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("FetchPageText: %v", err)
	}

	// List items land on separate lines so the chunker can split there.
	lines := strings.Split(text, "\n")
	var items []string
	for _, l := range lines {
		switch strings.TrimSpace(l) {
		case "one", "two", "three":
			items = append(items, strings.TrimSpace(l))
		}
	}
	if len(items) != 3 {
		t.Errorf("list items not line-separated:\n%q", text)
	}
}

func TestFetchPageTextHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := FetchPageText(context.Background(), srv.Client(), srv.URL); err == nil {
		t.Fatal("expected error for 503 page")
	}
}
