// Package linkpreview fetches best-effort OpenGraph metadata for the first
// URL in a text message. Failures here never block or fail a send.
package linkpreview

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/beacon-im/beacon/internal/model"
)

var urlRegexp = regexp.MustCompile(`https?://[^\s<>"]+`)

// FirstURL extracts the first http(s) URL from text, or "".
func FirstURL(text string) string {
	return urlRegexp.FindString(text)
}

// maxBodyBytes caps how much of a page is read while looking for metadata.
const maxBodyBytes = 512 * 1024

// Fetcher retrieves link previews.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a fetcher with a bounded timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: 10 * time.Second}}
}

// Fetch downloads the page and extracts title / og tags. Returns an error
// for non-HTML or unreachable pages; callers log and drop it.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*model.LinkPreview, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, fmt.Errorf("not an html page: %s", ct)
	}

	preview := parse(io.LimitReader(resp.Body, maxBodyBytes))
	preview.URL = url
	if preview.Title == "" && preview.Description == "" && preview.ImageURL == "" {
		return nil, fmt.Errorf("no metadata found")
	}
	return preview, nil
}

func parse(r io.Reader) *model.LinkPreview {
	preview := &model.LinkPreview{}
	tokenizer := html.NewTokenizer(r)
	inTitle := false

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return preview
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := tokenizer.Token()
			switch tok.Data {
			case "title":
				inTitle = true
			case "meta":
				applyMeta(preview, tok)
			case "body":
				// Metadata lives in <head>; stop once the body starts.
				return preview
			}
		case html.EndTagToken:
			if tokenizer.Token().Data == "title" {
				inTitle = false
			}
		case html.TextToken:
			if inTitle && preview.Title == "" {
				preview.Title = strings.TrimSpace(tokenizer.Token().Data)
			}
		}
	}
}

func applyMeta(preview *model.LinkPreview, tok html.Token) {
	var prop, content string
	for _, attr := range tok.Attr {
		switch attr.Key {
		case "property", "name":
			prop = attr.Val
		case "content":
			content = attr.Val
		}
	}
	if content == "" {
		return
	}
	switch prop {
	case "og:title":
		preview.Title = content
	case "og:description", "description":
		if preview.Description == "" {
			preview.Description = content
		}
	case "og:image":
		preview.ImageURL = content
	}
}
