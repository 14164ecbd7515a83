package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rohmanhakim/atlas-crawler/internal/atlas"
	"github.com/rohmanhakim/atlas-crawler/pkg/hashutil"
)

// rawFetch performs a plain HTTP GET: no JavaScript evaluation, domHash
// omitted, renderMs left at zero. Used only for RenderModeRaw; prerender and
// full capture the page through chromeRender instead.
func rawFetch(ctx context.Context, client *http.Client, targetURL, userAgent string, maxBytes int64) (atlas.RenderResult, *RenderError) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return atlas.RenderResult{}, &RenderError{URL: targetURL, Cause: CauseNetwork, Message: err.Error(), Retryable: false}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return atlas.RenderResult{}, &RenderError{URL: targetURL, Cause: CauseNetwork, Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return atlas.RenderResult{}, &RenderError{URL: targetURL, Cause: CauseNetwork, Message: err.Error(), Retryable: true}
	}
	if int64(len(body)) > maxBytes {
		return atlas.RenderResult{}, &RenderError{URL: targetURL, StatusCode: resp.StatusCode, Cause: CauseByteCap, Message: "response exceeded maxBytesPerPage", Retryable: false}
	}

	fetchMs := time.Since(start).Milliseconds()

	if resp.StatusCode >= 400 {
		if isChallenge(resp.StatusCode, string(body)) {
			return atlas.RenderResult{
				URL: targetURL, FinalURL: resp.Request.URL.String(), StatusCode: resp.StatusCode,
				NavEndReason: atlas.NavEndChallenge, FetchMs: fetchMs,
			}, &RenderError{URL: targetURL, StatusCode: resp.StatusCode, Cause: CauseChallenge, Message: "challenge interstitial detected", Retryable: true}
		}
		return atlas.RenderResult{}, &RenderError{
			URL: targetURL, StatusCode: resp.StatusCode, Cause: CauseHTTPStatus,
			Message: resp.Status, Retryable: transientStatus(resp.StatusCode),
		}
	}

	rawHash, err := hashutil.HashBytes(body, hashutil.HashAlgoSHA256)
	if err != nil {
		return atlas.RenderResult{}, &RenderError{URL: targetURL, Cause: CauseNetwork, Message: err.Error(), Retryable: false}
	}

	return atlas.RenderResult{
		URL:          targetURL,
		FinalURL:     resp.Request.URL.String(),
		StatusCode:   resp.StatusCode,
		ContentType:  resp.Header.Get("Content-Type"),
		RawBody:      body,
		RawHTMLHash:  rawHash,
		NavEndReason: atlas.NavEndLoad,
		FetchMs:      fetchMs,
		RequestCount: 1,
	}, nil
}

// fetchFaviconBytes performs a plain GET against href (resolved by the live
// DOM) to obtain the actual favicon image bytes, capped at maxBytes.
func fetchFaviconBytes(ctx context.Context, client *http.Client, href string, maxBytes int64) (*atlas.Favicon, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("favicon fetch %s: %s", href, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, err
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/x-icon"
	}
	return &atlas.Favicon{MimeType: mimeType, Bytes: body}, nil
}
