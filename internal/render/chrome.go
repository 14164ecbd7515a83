package render

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rohmanhakim/atlas-crawler/internal/atlas"
	"github.com/rohmanhakim/atlas-crawler/pkg/hashutil"
)

const (
	desktopWidth, desktopHeight = 1280, 800
	mobileWidth, mobileHeight   = 390, 844
	maxComputedStyleSamples     = 40
)

// chromeRender navigates tabCtx to targetURL, waits until the document's
// <body> is ready (or navTimeout expires; it does not wait for network
// idle), serializes the live DOM, and — in full mode — also captures
// screenshots, console logs, and a sample of computed text styles.
func chromeRender(tabCtx context.Context, targetURL string, mode atlas.RenderMode, navTimeout time.Duration, wantFavicon bool) (atlas.RenderResult, string, *RenderError) {
	start := time.Now()

	var (
		statusCode         int32
		requestCount       int64
		failedRequestCount int64
		consoleLogs        []atlas.ConsoleLogEntry
		navEnd             = atlas.NavEndLoad
	)

	listenCtx, cancelListen := context.WithCancel(tabCtx)
	defer cancelListen()

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if e.Type == network.ResourceTypeDocument {
				atomic.StoreInt32(&statusCode, int32(e.Response.Status))
			}
			atomic.AddInt64(&requestCount, 1)
		case *network.EventLoadingFailed:
			atomic.AddInt64(&failedRequestCount, 1)
		case *cdpruntime.EventConsoleAPICalled:
			if mode == atlas.RenderModeFull {
				text := ""
				for _, arg := range e.Args {
					text += string(arg.Value) + " "
				}
				consoleLogs = append(consoleLogs, atlas.ConsoleLogEntry{
					Level: string(e.Type), Text: text, Timestamp: time.Now(),
				})
			}
		}
	})

	navCtx, cancelNav := context.WithTimeout(tabCtx, navTimeout)
	defer cancelNav()

	var html string
	var finalURL string

	err := chromedp.Run(navCtx, chromedp.Tasks{
		network.Enable(),
		page.Enable(),
		cdpruntime.Enable(),
		chromedp.Navigate(targetURL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return chromedp.WaitReady("body", chromedp.ByQuery).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			rootNode, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			out, err := dom.GetOuterHTML().WithNodeID(rootNode.NodeID).Do(ctx)
			if err != nil {
				return err
			}
			html = out
			return nil
		}),
		chromedp.Location(&finalURL),
	})

	if err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			navEnd = atlas.NavEndTimeout
		} else {
			return atlas.RenderResult{}, "", &RenderError{URL: targetURL, Cause: CauseChromeFailure, Message: err.Error(), Retryable: true}
		}
	}

	sc := int(atomic.LoadInt32(&statusCode))
	if sc != 0 && isChallenge(sc, html) {
		navEnd = atlas.NavEndChallenge
	}

	result := atlas.RenderResult{
		URL:                targetURL,
		FinalURL:           finalURL,
		StatusCode:         sc,
		ContentType:        "text/html",
		RawBody:            []byte(html),
		LiveDOMSerialized:  html,
		NavEndReason:       navEnd,
		FetchMs:            time.Since(start).Milliseconds(),
		RenderMs:           time.Since(start).Milliseconds(),
		RequestCount:       int(atomic.LoadInt64(&requestCount)),
		FailedRequestCount: int(atomic.LoadInt64(&failedRequestCount)),
		ConsoleLogs:        consoleLogs,
	}

	rawHash, hashErr := hashutil.HashBytes([]byte(html), hashutil.HashAlgoSHA256)
	if hashErr == nil {
		result.RawHTMLHash = rawHash
		result.DOMHash = rawHash
	}

	var faviconHref string
	if mode == atlas.RenderModeFull {
		if shots, shotErr := captureScreenshots(tabCtx); shotErr == nil {
			result.Screenshots = shots
		}
		result.ComputedTextStyles = sampleComputedTextStyles(tabCtx)
		if wantFavicon {
			if href, hrefErr := resolveFaviconHref(tabCtx); hrefErr == nil {
				faviconHref = href
			}
		}
	}

	if navEnd == atlas.NavEndChallenge {
		return result, faviconHref, &RenderError{URL: targetURL, StatusCode: sc, Cause: CauseChallenge, Message: "challenge interstitial detected", Retryable: true}
	}
	return result, faviconHref, nil
}

func captureScreenshots(ctx context.Context) (*atlas.ScreenshotPair, error) {
	var desktop, mobile []byte
	err := chromedp.Run(ctx,
		chromedp.EmulateViewport(desktopWidth, desktopHeight),
		chromedp.CaptureScreenshot(&desktop),
		chromedp.EmulateViewport(mobileWidth, mobileHeight),
		chromedp.CaptureScreenshot(&mobile),
	)
	if err != nil {
		return nil, err
	}
	return &atlas.ScreenshotPair{Desktop: desktop, Mobile: mobile}, nil
}

// resolveFaviconHref reads the favicon link the live DOM is actually using
// (falling back to /favicon.ico at the page's origin). The pool fetches the
// bytes at this href once per origin over plain HTTP.
func resolveFaviconHref(ctx context.Context) (string, error) {
	var href string
	script := `(function(){
		var link = document.querySelector("link[rel~='icon']");
		return link ? link.href : (location.origin + "/favicon.ico");
	})()`
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &href)); err != nil {
		return "", err
	}
	if href == "" {
		return "", fmt.Errorf("no favicon link found")
	}
	return href, nil
}

func sampleComputedTextStyles(ctx context.Context) []atlas.ComputedTextStyle {
	var raw []map[string]string
	script := fmt.Sprintf(`(function(){
		var nodes = document.querySelectorAll("p, h1, h2, h3, span, a, li");
		var out = [];
		for (var i = 0; i < nodes.length && out.length < %d; i++) {
			var el = nodes[i];
			if (!el.textContent || !el.textContent.trim()) continue;
			var cs = window.getComputedStyle(el);
			out.push({selector: el.tagName.toLowerCase(), fontFamily: cs.fontFamily, fontSize: cs.fontSize, color: cs.color});
		}
		return out;
	})()`, maxComputedStyleSamples)

	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return nil
	}

	out := make([]atlas.ComputedTextStyle, 0, len(raw))
	for _, r := range raw {
		out = append(out, atlas.ComputedTextStyle{
			Selector: r["selector"], FontFamily: r["fontFamily"], FontSize: r["fontSize"], Color: r["color"],
		})
	}
	return out
}
