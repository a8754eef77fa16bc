package lincat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"github.com/docutag/lincat/logger"
	"github.com/docutag/lincat/metrics"
	"github.com/docutag/lincat/models"
)

const (
	maxTitleRunes        = 100
	maxDescriptionRunes  = 500
	maxParagraphRunes    = 200
	defaultFetchTimeout  = 10 * time.Second
	defaultFetchMaxBytes = 2 << 20
	userAgent            = "Mozilla/5.0 (compatible; Lincat/1.0; +https://github.com/docutag/lincat)"
)

// ExtractorConfig bounds a page fetch.
type ExtractorConfig struct {
	Timeout  time.Duration
	MaxBytes int64
}

// Extractor reads a title and description from a page.
type Extractor struct {
	httpClient *http.Client
	maxBytes   int64
	log        logger.Logger
	metrics    *metrics.Metrics
}

// NewExtractor builds an Extractor whose client propagates trace context.
func NewExtractor(config ExtractorConfig, log logger.Logger, m *metrics.Metrics) *Extractor {
	if config.Timeout <= 0 {
		config.Timeout = defaultFetchTimeout
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = defaultFetchMaxBytes
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Extractor{
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxBytes: config.MaxBytes,
		log:      log,
		metrics:  m,
	}
}

// Extract never fails. Fetch and parse problems are logged and produce empty metadata.
func (e *Extractor) Extract(ctx context.Context, targetURL string) models.PageMetadata {
	doc, err := e.fetch(ctx, targetURL)
	if err != nil {
		e.log.Warn("metadata extraction failed", logger.String("url", targetURL), logger.Error(err))
		e.metrics.FetchFailed()
		return models.PageMetadata{}
	}
	return extractPageMetadata(doc)
}

func (e *Extractor) fetch(ctx context.Context, targetURL string) (*html.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, e.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// extractPageMetadata walks the document once, remembering the first value of
// every candidate, then picks title and description in priority order.
// Title: <title>, og:title, twitter:title, first <h1>.
// Description: meta description, og:description, twitter:description, first <p>.
func extractPageMetadata(doc *html.Node) models.PageMetadata {
	var htmlTitle, ogTitle, twitterTitle, h1Title string
	var metaDesc, ogDesc, twitterDesc, paragraph string

	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			case "meta":
				var key, content string
				for _, attr := range n.Attr {
					switch strings.ToLower(attr.Key) {
					case "property", "name":
						if key == "" {
							key = strings.ToLower(strings.TrimSpace(attr.Val))
						}
					case "content":
						content = normalizeText(attr.Val)
					}
				}
				if content == "" {
					break
				}
				switch key {
				case "og:title":
					setFirst(&ogTitle, content)
				case "twitter:title":
					setFirst(&twitterTitle, content)
				case "description":
					setFirst(&metaDesc, content)
				case "og:description":
					setFirst(&ogDesc, content)
				case "twitter:description":
					setFirst(&twitterDesc, content)
				}
			case "title":
				if htmlTitle == "" {
					htmlTitle = normalizeText(textOf(n))
				}
			case "h1":
				if h1Title == "" {
					h1Title = normalizeText(textOf(n))
				}
			case "p":
				if paragraph == "" {
					paragraph = normalizeText(textOf(n))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(doc)

	return models.PageMetadata{
		Title:       truncateRunes(firstNonEmpty(htmlTitle, ogTitle, twitterTitle, h1Title), maxTitleRunes),
		Description: truncateRunes(firstNonEmpty(metaDesc, ogDesc, twitterDesc, truncateRunes(paragraph, maxParagraphRunes)), maxDescriptionRunes),
	}
}

// textOf joins the text of n and its descendants, skipping scripts and styles.
func textOf(n *html.Node) string {
	var parts []string
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return strings.Join(parts, " ")
}

func setFirst(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// normalizeText composes to NFC and collapses every run of whitespace to one space.
func normalizeText(s string) string {
	return strings.Join(strings.FieldsFunc(norm.NFC.String(s), unicode.IsSpace), " ")
}

// truncateRunes cuts s to at most n runes, ending with "..." when cut.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return strings.TrimRightFunc(string(r[:n-3]), unicode.IsSpace) + "..."
}
