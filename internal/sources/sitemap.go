package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
)

// maxSitemapSize bounds a sitemap response body.
const maxSitemapSize = 10 << 20 // 10MB

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapLoc `xml:"url"`
}

type sitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// FetchSitemapURLs fetches a sitemap and returns its page URLs in
// document order, deduplicated. A sitemap index is followed one level
// deep; nested indexes inside a child sitemap are not descended into.
func FetchSitemapURLs(ctx context.Context, client *http.Client, sitemapURL string) ([]string, error) {
	body, err := fetchXML(ctx, client, sitemapURL)
	if err != nil {
		return nil, err
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		var urls []string
		for _, child := range index.Sitemaps {
			if child.Loc == "" {
				continue
			}
			childBody, err := fetchXML(ctx, client, child.Loc)
			if err != nil {
				return nil, fmt.Errorf("fetching child sitemap %s: %w", child.Loc, err)
			}
			childURLs, err := parseURLSet(childBody)
			if err != nil {
				return nil, fmt.Errorf("parsing child sitemap %s: %w", child.Loc, err)
			}
			urls = append(urls, childURLs...)
		}
		return dedupe(urls), nil
	}

	urls, err := parseURLSet(body)
	if err != nil {
		return nil, fmt.Errorf("parsing sitemap %s: %w", sitemapURL, err)
	}
	return dedupe(urls), nil
}

func fetchXML(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating sitemap request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapSize))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return body, nil
}

func parseURLSet(body []byte) ([]string, error) {
	var set sitemapURLSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		if u.Loc != "" {
			urls = append(urls, u.Loc)
		}
	}
	return urls, nil
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
