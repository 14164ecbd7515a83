package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rohmanhakim/atlas-crawler/internal/atlas"
)

// socialHosts flags anchors pointing at well-known social platforms so they
// can be classified LinkTypeSocial instead of falling through to "other".
var socialHosts = []string{
	"twitter.com", "x.com", "facebook.com", "linkedin.com",
	"github.com", "youtube.com", "mastodon.social", "bsky.app",
}

// LinkExtractor walks every <a href> on the page, resolves it against the
// page's base URL, and classifies its location and purpose. It never
// returns an error for malformed markup — goquery tolerates broken HTML by
// parsing what it can — only for a base URL that is itself unusable.
func LinkExtractor(html string, ctx *PageContext) (Result, error) {
	if ctx.BaseURL == nil {
		return Result{}, fmt.Errorf("extract: link extraction requires a base URL")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{}, fmt.Errorf("extract: parse html: %w", err)
	}

	var edges []atlas.EdgeRecord

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		if strings.HasPrefix(href, "javascript:") {
			return
		}

		target, err := ctx.BaseURL.Parse(href)
		if err != nil {
			return
		}
		if target.Scheme != "http" && target.Scheme != "https" && target.Scheme != "mailto" && target.Scheme != "tel" {
			return
		}

		rel, _ := s.Attr("rel")
		relLower := strings.ToLower(rel)

		edges = append(edges, atlas.EdgeRecord{
			SourceURL:        ctx.BaseURL.String(),
			TargetURL:        target.String(),
			IsExternal:       isExternalLink(ctx.BaseURL, target),
			AnchorText:       truncateSample(strings.TrimSpace(s.Text())),
			Rel:              rel,
			Nofollow:         strings.Contains(relLower, "nofollow"),
			Sponsored:        strings.Contains(relLower, "sponsored"),
			UGC:              strings.Contains(relLower, "ugc"),
			Location:         classifyLocation(s),
			SelectorHint:     selectorHint(s),
			DiscoveredInMode: ctx.Mode,
			LinkType:         classifyLinkType(s, target),
		})
	})

	return Result{Links: edges}, nil
}

func isExternalLink(base, target *url.URL) bool {
	if target.Scheme == "mailto" || target.Scheme == "tel" {
		return true
	}
	return !strings.EqualFold(base.Hostname(), target.Hostname())
}

// classifyLocation finds the nearest ancestor landmark, preferring the most
// specific signal (nav over main, since a nav can itself live inside main).
func classifyLocation(s *goquery.Selection) atlas.LinkLocation {
	switch {
	case s.Closest("nav").Length() > 0:
		return atlas.LocationNav
	case s.Closest("header").Length() > 0:
		return atlas.LocationHeader
	case s.Closest("footer").Length() > 0:
		return atlas.LocationFooter
	case s.Closest("aside").Length() > 0:
		return atlas.LocationAside
	case s.Closest("main, article, [role='main']").Length() > 0:
		return atlas.LocationMain
	default:
		return atlas.LocationOther
	}
}

func selectorHint(s *goquery.Selection) string {
	if class, ok := s.Attr("class"); ok && class != "" {
		fields := strings.Fields(class)
		if len(fields) > 0 {
			return "a." + fields[0]
		}
	}
	if id, ok := s.Attr("id"); ok && id != "" {
		return "a#" + id
	}
	return "a"
}

func classifyLinkType(s *goquery.Selection, target *url.URL) atlas.LinkType {
	class := strings.ToLower(attrOrEmpty(s, "class"))
	rel := strings.ToLower(attrOrEmpty(s, "rel"))

	if _, hasDownload := s.Attr("download"); hasDownload {
		return atlas.LinkTypeDownload
	}
	switch {
	case strings.Contains(class, "breadcrumb"):
		return atlas.LinkTypeBreadcrumb
	case strings.Contains(class, "pagination") || strings.Contains(rel, "next") || strings.Contains(rel, "prev"):
		return atlas.LinkTypePagination
	case strings.Contains(class, "tag"):
		return atlas.LinkTypeTag
	case strings.Contains(class, "author"):
		return atlas.LinkTypeAuthor
	case strings.Contains(class, "related"):
		return atlas.LinkTypeRelated
	case strings.Contains(class, "skip"):
		return atlas.LinkTypeSkip
	case isSocialHost(target):
		return atlas.LinkTypeSocial
	case s.Closest("nav").Length() > 0:
		return atlas.LinkTypeNavigation
	case s.Closest("footer").Length() > 0:
		return atlas.LinkTypeFooter
	case s.Closest("main, article, [role='main']").Length() > 0:
		return atlas.LinkTypeContent
	case isExternalScheme(target):
		return atlas.LinkTypeExternal
	default:
		return atlas.LinkTypeOther
	}
}

func isSocialHost(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	for _, social := range socialHosts {
		if host == social || strings.HasSuffix(host, "."+social) {
			return true
		}
	}
	return false
}

func isExternalScheme(u *url.URL) bool {
	return u.Scheme != "http" && u.Scheme != "https"
}

func attrOrEmpty(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return v
}
