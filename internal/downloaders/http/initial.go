package rangehttp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tanq16/rangedl/internal/utils"
)

// FileInfo is what the metadata probe learns about the source.
type FileInfo struct {
	URL      string // after redirects
	Size     int64
	FileName string // from Content-Disposition, may be empty
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func isProbeSuccess(code int) bool {
	return code == http.StatusOK || code == http.StatusAccepted || code == http.StatusPartialContent
}

// Probe issues HEAD requests against link, following at most maxRedirects
// redirect hops, and reports the resolved URL and content length.
func Probe(ctx context.Context, client *utils.HTTPClient, link string, maxRedirects int) (*FileInfo, error) {
	log := utils.GetLogger("probe")
	parsed, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %v", ErrProtocol, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrProtocol, parsed.Scheme)
	}
	noRedirect := client.WithoutRedirects()
	current := parsed
	for hop := 0; ; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, current.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("%w: creating request: %v", ErrProtocol, err)
		}
		resp, err := noRedirect.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrInterrupted, err)
			}
			return nil, fmt.Errorf("%w: checking URL: %v", ErrProtocol, err)
		}
		resp.Body.Close()

		if isRedirect(resp.StatusCode) {
			if hop >= maxRedirects {
				return nil, fmt.Errorf("%w: still redirected (%d) after %d hop(s)", ErrProtocol, resp.StatusCode, hop)
			}
			location := resp.Header.Get("Location")
			if location == "" {
				return nil, fmt.Errorf("%w: redirect %d without Location", ErrProtocol, resp.StatusCode)
			}
			next, err := current.Parse(location)
			if err != nil {
				return nil, fmt.Errorf("%w: bad Location %q: %v", ErrProtocol, location, err)
			}
			log.Debug().Str("from", current.String()).Str("to", next.String()).Int("status", resp.StatusCode).Msg("Following redirect")
			current = next
			continue
		}
		if !isProbeSuccess(resp.StatusCode) {
			return nil, fmt.Errorf("%w: server replied with HTTP %d", ErrProtocol, resp.StatusCode)
		}

		size, err := contentLength(resp)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("url", current.String()).Int64("size", size).Msg("Resolved file size")
		return &FileInfo{
			URL:      current.String(),
			Size:     size,
			FileName: utils.FileNameFromHeader(resp.Header.Get("Content-Disposition")),
		}, nil
	}
}

func contentLength(resp *http.Response) (int64, error) {
	header := resp.Header.Get("Content-Length")
	if header == "" {
		return 0, fmt.Errorf("%w: server didn't provide Content-Length", ErrSizeUnavailable)
	}
	size, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad Content-Length %q", ErrSizeUnavailable, header)
	}
	if size < 0 {
		return 0, fmt.Errorf("%w: negative Content-Length %d", ErrSizeUnavailable, size)
	}
	return size, nil
}
