// Package parser extracts links, visible text and titles from HTML pages.
package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/go-shiori/go-readability"
)

var (
	linkSelector   = cascadia.MustCompile("a[href]")
	titleSelector  = cascadia.MustCompile("title")
	hiddenSelector = cascadia.MustCompile("script, style, noscript, template, iframe")
)

var skipExtensions = []string{
	".pdf", ".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp", ".ico",
	".css", ".js", ".json", ".xml", ".zip", ".tar", ".gz", ".rar",
	".exe", ".dmg", ".iso",
	".mp4", ".avi", ".mov",
	".mp3", ".wav",
	".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
}

// Links returns the absolute form of every href on the page, fragments
// included.
func Links(doc *goquery.Document, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var links []string
	doc.FindMatcher(linkSelector).Each(func(i int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}

		rel, err := url.Parse(href)
		if err != nil {
			return
		}
		links = append(links, base.ResolveReference(rel).String())
	})

	return links
}

// IsEligible reports whether link belongs to the site rooted at siteURL and
// should be crawled: same prefix, no fragment, http(s), not a binary file.
func IsEligible(link, siteURL string) bool {
	if !InScope(link, siteURL) || strings.Contains(link, "#") {
		return false
	}

	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	path := strings.ToLower(u.Path)
	for _, ext := range skipExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	return true
}

// InScope reports whether link starts with siteURL on a path boundary, so
// that https://example.com does not capture https://example.com.evil.org.
func InScope(link, siteURL string) bool {
	if !strings.HasPrefix(link, siteURL) {
		return false
	}
	rest := link[len(siteURL):]
	return rest == "" || rest[0] == '/' || rest[0] == '?' || rest[0] == '#'
}

// NormalizeURL drops the trailing slash of the path so /docs and /docs/ are
// the same page. The query string is kept.
func NormalizeURL(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return urlStr
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "/" {
		u.Path = ""
	} else {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	u.RawPath = ""
	return u.String()
}

// PathOf returns link relative to siteURL, always starting with "/".
func PathOf(link, siteURL string) string {
	path := strings.TrimPrefix(NormalizeURL(link), siteURL)
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	return path
}

// Text returns the visible text of the document with whitespace collapsed.
func Text(doc *goquery.Document) string {
	contentDoc := doc.Clone()
	contentDoc.FindMatcher(hiddenSelector).Remove()

	body := contentDoc.Find("body")
	var text string
	if body.Length() > 0 {
		text = body.Text()
	} else {
		text = contentDoc.Text()
	}
	return strings.Join(strings.Fields(text), " ")
}

// HTMLText parses raw HTML and returns its visible text.
func HTMLText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return Text(doc)
}

// Title returns the <title> of html, falling back to the title readability
// derives from headings when the page has none.
func Title(html, pageURL string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		if title := strings.TrimSpace(doc.FindMatcher(titleSelector).First().Text()); title != "" {
			return strings.Join(strings.Fields(title), " ")
		}
	}

	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	readabilityParser := readability.NewParser()
	article, err := readabilityParser.Parse(strings.NewReader(html), parsedURL)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(article.Title)
}
