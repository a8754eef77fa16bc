package lincat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/html"
)

func TestExtractPageMetadataTitle(t *testing.T) {
	tests := []struct {
		name     string
		htmlDoc  string
		expected string
	}{
		{
			name: "title tag takes precedence over og:title",
			htmlDoc: `<!DOCTYPE html>
<html>
<head>
	<meta property="og:title" content="OG Title" />
	<title>Document Title</title>
</head>
<body><h1>Heading</h1></body>
</html>`,
			expected: "Document Title",
		},
		{
			name: "og:title when title tag is empty",
			htmlDoc: `<html><head>
	<title>   </title>
	<meta property="og:title" content="OG Title" />
	<meta name="twitter:title" content="Twitter Title" />
</head><body></body></html>`,
			expected: "OG Title",
		},
		{
			name: "twitter:title declared with property",
			htmlDoc: `<html><head>
	<meta property="twitter:title" content="Twitter Title" />
</head><body><h1>Heading</h1></body></html>`,
			expected: "Twitter Title",
		},
		{
			name:     "h1 fallback when no meta tags",
			htmlDoc:  `<html><head></head><body><h1>Main <em>Article</em> Heading</h1></body></html>`,
			expected: "Main Article Heading",
		},
		{
			name: "whitespace is collapsed",
			htmlDoc: `<html><head><title>
		Spaced
		Out   Title
	</title></head></html>`,
			expected: "Spaced Out Title",
		},
		{
			name:     "no title at all",
			htmlDoc:  `<html><body><p>text</p></body></html>`,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := html.Parse(strings.NewReader(tt.htmlDoc))
			if err != nil {
				t.Fatalf("Failed to parse HTML: %v", err)
			}

			result := extractPageMetadata(doc).Title
			if result != tt.expected {
				t.Errorf("Expected title %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestExtractPageMetadataDescription(t *testing.T) {
	long := strings.Repeat("word ", 100)

	tests := []struct {
		name     string
		htmlDoc  string
		expected string
	}{
		{
			name: "meta description first",
			htmlDoc: `<html><head>
	<meta property="og:description" content="OG description" />
	<meta name="description" content="Meta description" />
</head><body><p>Paragraph</p></body></html>`,
			expected: "Meta description",
		},
		{
			name: "og before twitter",
			htmlDoc: `<html><head>
	<meta name="twitter:description" content="Twitter description" />
	<meta property="og:description" content="OG description" />
</head></html>`,
			expected: "OG description",
		},
		{
			name:     "first non-empty paragraph",
			htmlDoc:  `<html><body><p> </p><script>var x;</script><p>First <b>real</b> paragraph.</p><p>Second</p></body></html>`,
			expected: "First real paragraph.",
		},
		{
			name:     "paragraph is truncated",
			htmlDoc:  `<html><body><p>` + long + `</p></body></html>`,
			expected: strings.TrimSpace(long[:197]) + "...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := html.Parse(strings.NewReader(tt.htmlDoc))
			if err != nil {
				t.Fatalf("Failed to parse HTML: %v", err)
			}
			result := extractPageMetadata(doc).Description
			if result != tt.expected {
				t.Errorf("Expected description %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestExtractTruncatesLongTitle(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(`<title>` + strings.Repeat("é", 300) + `</title>`))
	if err != nil {
		t.Fatalf("Failed to parse HTML: %v", err)
	}
	title := extractPageMetadata(doc).Title
	if n := utf8.RuneCountInString(title); n != maxTitleRunes {
		t.Errorf("Expected %d runes, got %d", maxTitleRunes, n)
	}
	if !strings.HasSuffix(title, "...") {
		t.Errorf("Expected ellipsis, got %q", title)
	}
}

func TestExtract(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Test Page</title><meta name="description" content="About testing"></head></html>`))
	}))
	defer server.Close()

	e := NewExtractor(ExtractorConfig{Timeout: 5 * time.Second}, nil, nil)
	meta := e.Extract(context.Background(), server.URL)

	if meta.Title != "Test Page" || meta.Description != "About testing" {
		t.Errorf("Unexpected metadata: %+v", meta)
	}
	if !strings.Contains(gotUA, "Mozilla/5.0") {
		t.Errorf("Expected browser-like User-Agent, got %q", gotUA)
	}
}

func TestExtractDegradesToEmpty(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "<title>Not Found</title>", http.StatusNotFound)
	}))
	defer notFound.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	tests := []struct {
		name string
		url  string
	}{
		{"non-success status", notFound.URL},
		{"timeout", slow.URL},
		{"connection refused", closedURL},
		{"invalid url", "http://[::1"},
	}

	e := NewExtractor(ExtractorConfig{Timeout: 100 * time.Millisecond}, nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := e.Extract(context.Background(), tt.url)
			if meta.Title != "" || meta.Description != "" {
				t.Errorf("Expected empty metadata, got %+v", meta)
			}
		})
	}
}

// TestExtractorUsesOtelTransport verifies outgoing fetches propagate trace context
func TestExtractorUsesOtelTransport(t *testing.T) {
	e := NewExtractor(ExtractorConfig{}, nil, nil)
	if _, ok := e.httpClient.Transport.(*otelhttp.Transport); !ok {
		t.Error("Extractor HTTP client does not use otelhttp.Transport")
	}
	if e.httpClient.Timeout != defaultFetchTimeout {
		t.Errorf("Expected default timeout %v, got %v", defaultFetchTimeout, e.httpClient.Timeout)
	}
}
