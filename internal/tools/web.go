package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/voxlabs/voxd/internal/provider"
)

const (
	webFetchDefaultMaxChars = 50_000
	webFetchMaxBytes        = 2_000_000
	webFetchTimeout         = 30 * time.Second
	webFetchMaxRedirects    = 5
)

var webFetchHeaders = map[string]string{
	"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.5",
}

// webFetchHTTPClient is overridable in tests.
var webFetchHTTPClient = &http.Client{
	Timeout: webFetchTimeout,
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		if len(via) >= webFetchMaxRedirects {
			return errors.New("too many redirects")
		}
		return nil
	},
}

func webFetchTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name: "web_fetch",
			Description: "Fetch content from a URL and return it as readable text. " +
				"Supports HTML pages (converted to plain text with links preserved), " +
				"JSON APIs (pretty-printed), and plain text. GET requests only.",
			Properties: map[string]provider.ToolProp{
				"url": {Type: "string", Description: "The HTTP or HTTPS URL to fetch"},
				"maxChars": {Type: "number", Description: "Maximum characters of content to return (default 50000). " +
					"Content beyond this limit is truncated with a notice."},
			},
			Required: []string{"url"},
		},
		Execute: func(ctx context.Context, input map[string]any, tc *ToolContext) (string, error) {
			rawURL, ok := input["url"].(string)
			if !ok || rawURL == "" {
				return "", fmt.Errorf("url is required")
			}
			maxChars := webFetchDefaultMaxChars
			if v, ok := input["maxChars"].(float64); ok && v > 0 {
				maxChars = int(v)
			}
			return fetchURL(ctx, rawURL, maxChars)
		},
	}
}

func fetchURL(ctx context.Context, rawURL string, maxChars int) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "Error: URL must use http or https scheme", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	for k, v := range webFetchHeaders {
		req.Header.Set(k, v)
	}

	resp, err := webFetchHTTPClient.Do(req)
	if err != nil {
		if strings.Contains(err.Error(), "too many redirects") {
			return fmt.Sprintf("Error: Too many redirects (max %d)", webFetchMaxRedirects), nil
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Sprintf("Error: Request timed out after %d seconds", int(webFetchTimeout.Seconds())), nil
		}
		return fmt.Sprintf("Error: %v", err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Sprintf("Error: HTTP %d fetching %s", resp.StatusCode, rawURL), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchMaxBytes+1))
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	if len(body) > webFetchMaxBytes {
		return fmt.Sprintf("Error: Response too large (over %s bytes)", groupDigits(webFetchMaxBytes)), nil
	}

	contentType := resp.Header.Get("Content-Type")
	finalURL := resp.Request.URL.String()

	var title, content string
	switch {
	case strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xhtml"):
		title = htmlTitle(string(body))
		content = htmlToText(string(body))
	case strings.Contains(contentType, "application/json"):
		var pretty bytes.Buffer
		if json.Indent(&pretty, body, "", "  ") == nil {
			content = pretty.String()
		} else {
			content = string(body)
		}
	default:
		content = string(body)
	}

	originalLength := len(content)
	truncated := originalLength > maxChars
	if truncated {
		content = content[:maxChars]
	}

	parts := []string{"URL: " + rawURL}
	if finalURL != rawURL {
		parts = append(parts, "Final URL: "+finalURL)
	}
	parts = append(parts, fmt.Sprintf("Status: %d", resp.StatusCode))
	parts = append(parts, "Content-Type: "+contentType)
	if title != "" {
		parts = append(parts, "Title: "+title)
	}
	length := fmt.Sprintf("%s chars", groupDigits(originalLength))
	if truncated {
		length = fmt.Sprintf("%s chars (truncated from %s)", groupDigits(maxChars), groupDigits(originalLength))
	}
	parts = append(parts, "Length: "+length)
	parts = append(parts, "", "--- Content ---", "", content)
	if truncated {
		parts = append(parts, "", fmt.Sprintf("[Content truncated at %s characters]", groupDigits(maxChars)))
	}
	return strings.Join(parts, "\n"), nil
}

var blockTags = map[string]bool{
	"p": true, "div": true, "tr": true, "blockquote": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

var (
	tabRuns     = regexp.MustCompile(`\t+`)
	spaceRuns   = regexp.MustCompile(` {3,}`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
)

// htmlToText converts an HTML document to readable plain text. Block
// elements become line breaks, list items become bullets, and link targets
// are preserved as "text (url)".
func htmlToText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return src
	}
	var sb strings.Builder
	renderNode(doc, &sb)

	text := sb.String()
	text = tabRuns.ReplaceAllString(text, "  ")
	text = spaceRuns.ReplaceAllString(text, "  ")
	text = newlineRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func renderNode(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		return
	}
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "head":
			return
		case "br":
			sb.WriteByte('\n')
			return
		case "a":
			href := attrValue(n, "href")
			text := strings.TrimSpace(nodeText(n))
			if href != "" && href != text && !strings.HasPrefix(href, "#") {
				if text != "" {
					sb.WriteString(text + " (" + href + ")")
				} else {
					sb.WriteString(href)
				}
				return
			}
		case "li":
			sb.WriteString("\n- ")
		}
		if blockTags[n.Data] {
			sb.WriteByte('\n')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(c, sb)
	}
	if n.Type == html.ElementNode {
		if blockTags[n.Data] {
			sb.WriteByte('\n')
		}
		if n.Data == "td" || n.Data == "th" {
			sb.WriteByte('\t')
		}
	}
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// htmlTitle extracts the document title, if any.
func htmlTitle(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" {
			title = strings.TrimSpace(nodeText(n))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}
