// Package discover scaffolds a task file by crawling a running site.
package discover

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// DefaultMaxPages bounds a crawl when no limit is given.
const DefaultMaxPages = 50

// Page is one discovered HTML page.
type Page struct {
	URL   string
	Path  string // path relative to the start URL, "" for the start page
	Title string
	// Anchors are the in-page "#section" links, in document order.
	Anchors []string
}

// Crawler walks same-site HTML pages.
type Crawler struct {
	client   *http.Client
	maxPages int
	log      logrus.FieldLogger
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithHTTPClient sets the client used for fetching.
func WithHTTPClient(c *http.Client) Option {
	return func(cr *Crawler) { cr.client = c }
}

// WithMaxPages bounds the number of pages fetched.
func WithMaxPages(n int) Option {
	return func(cr *Crawler) {
		if n > 0 {
			cr.maxPages = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(cr *Crawler) { cr.log = l }
}

// New creates a Crawler.
func New(opts ...Option) *Crawler {
	c := &Crawler{
		client:   &http.Client{Timeout: 15 * time.Second},
		maxPages: DefaultMaxPages,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Crawl fetches start and follows links to same-host pages whose path ends
// in .html, breadth first. Pages that fail to load are logged and skipped;
// only a failure of the start page is returned as an error.
func (c *Crawler) Crawl(ctx context.Context, start string) ([]Page, error) {
	base, err := url.Parse(start)
	if err != nil {
		return nil, fmt.Errorf("parse start url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("start url %q must be absolute", start)
	}
	base.Fragment = ""

	queue := []*url.URL{base}
	seen := map[string]bool{base.String(): true}
	var pages []Page

	for len(queue) > 0 && len(pages) < c.maxPages {
		u := queue[0]
		queue = queue[1:]

		doc, err := c.fetch(ctx, u.String())
		if err != nil {
			if len(pages) == 0 {
				return nil, err
			}
			c.log.WithError(err).WithField("url", u.String()).Warn("skipping page")
			continue
		}

		pages = append(pages, Page{
			URL:     u.String(),
			Path:    relativePath(base, u),
			Title:   documentTitle(doc),
			Anchors: anchors(doc),
		})

		for _, link := range links(doc, u) {
			if link.Host != base.Host || seen[link.String()] {
				continue
			}
			if !strings.HasSuffix(strings.ToLower(link.Path), ".html") {
				continue
			}
			seen[link.String()] = true
			queue = append(queue, link)
		}
	}

	c.log.WithField("pages", len(pages)).Debug("crawl finished")
	return pages, nil
}

func (c *Crawler) fetch(ctx context.Context, rawURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	return doc, nil
}

// documentTitle mirrors document.title: the first <title>, with
// whitespace stripped and collapsed.
func documentTitle(doc *goquery.Document) string {
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}

func anchors(doc *goquery.Document) []string {
	var out []string
	seen := make(map[string]bool)
	doc.Find("a[href^='#']").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if len(href) < 2 || seen[href] {
			return
		}
		seen[href] = true
		out = append(out, href)
	})
	return out
}

func links(doc *goquery.Document, from *url.URL) []*url.URL {
	var out []*url.URL
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		u, err := from.Parse(href)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		u.Fragment = ""
		u.RawQuery = ""
		out = append(out, u)
	})
	return out
}

// relativePath returns u's path relative to the directory of base.
func relativePath(base, u *url.URL) string {
	if u.String() == base.String() {
		return ""
	}
	dir := base.Path
	if dir == "" {
		dir = "/"
	}
	if !strings.HasSuffix(dir, "/") {
		dir = path.Dir(dir) + "/"
	}
	return strings.TrimPrefix(u.Path, dir)
}
