package proxy

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchsync/server/internal/domain"
	"github.com/couchsync/server/internal/hls"
)

const desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// forwardedHeaders are the upstream response headers passed on to the client
// and remembered with cached chunks.
var forwardedHeaders = []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges"}

type iRoomMembers interface {
	GetMembers(roomId string) ([]domain.Member, error)
}

// Handler streams third-party media to clients, rewriting manifests and
// caching segments for room members trailing behind the first fetcher.
type Handler struct {
	client *http.Client
	cache  *Cache
	rooms  iRoomMembers
	logger *slog.Logger
}

func NewHandler(cache *Cache, rooms iRoomMembers, timeout time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after 5 redirects")
				}
				return nil
			},
		},
		cache:  cache,
		rooms:  rooms,
		logger: logger,
	}
}

// ServeProxy handles GET /proxy?url&referer&proxySegments&roomId&socketId.
func (h *Handler) ServeProxy(w http.ResponseWriter, r *http.Request) {
	targetUrl := r.URL.Query().Get("url")
	if targetUrl == "" {
		http.Error(w, "Missing url parameter", http.StatusBadRequest)
		return
	}
	referer := r.URL.Query().Get("referer")
	proxySegments := r.URL.Query().Get("proxySegments") == "true"
	roomId := r.URL.Query().Get("roomId")
	socketId := r.URL.Query().Get("socketId")

	rangeHeader := r.Header.Get("Range")
	key := Key(targetUrl, rangeHeader)
	cacheable := roomId != "" && socketId != "" && !looksLikeManifest(targetUrl)

	if cacheable {
		if chunk, ok := h.cache.BeginLoad(roomId, key, socketId); ok {
			defer h.cache.EndLoad(roomId, key, socketId)
			h.serveChunk(w, chunk, "HIT")
			return
		}
	}

	resp, err := h.fetch(r, targetUrl, referer, rangeHeader)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "upstream fetch failed", "url", targetUrl, "error", err)
		http.Error(w, "Error fetching URL", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	// forwarded verbatim so clients can tell not-found from proxy-broken
	if resp.StatusCode >= http.StatusBadRequest {
		h.logger.InfoContext(r.Context(), "upstream error forwarded", "url", targetUrl, "status", resp.StatusCode)
		copyHeaders(w, resp)
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
		return
	}

	if looksLikeManifest(targetUrl) || isManifestContentType(resp.Header.Get("Content-Type")) {
		h.serveManifest(w, r, resp, targetUrl, referer, proxySegments)
		return
	}

	if !cacheable {
		h.streamBody(w, resp)
		return
	}

	h.serveAndCache(w, r, resp, roomId, socketId, key)
}

// ServeManifestRedirect handles GET /hls-manifest as a stable entry point
// that forwards onto /proxy.
func (h *Handler) ServeManifestRedirect(w http.ResponseWriter, r *http.Request) {
	targetUrl := r.URL.Query().Get("url")
	if targetUrl == "" {
		http.Error(w, "Missing url parameter", http.StatusBadRequest)
		return
	}

	location := "/proxy?url=" + url.QueryEscape(targetUrl)
	if referer := r.URL.Query().Get("referer"); referer != "" {
		location += "&referer=" + url.QueryEscape(referer)
	}

	http.Redirect(w, r, location, http.StatusFound)
}

func (h *Handler) fetch(r *http.Request, targetUrl, referer, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, targetUrl, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}

	req.Header.Set("User-Agent", desktopUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	// with no referer supplied the request goes out naked, like a url pasted
	// straight into the address bar
	if referer != "" {
		req.Header.Set("Referer", referer)
		if origin, err := url.Parse(referer); err == nil && origin.Scheme != "" {
			req.Header.Set("Origin", origin.Scheme+"://"+origin.Host)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch upstream: %w", err)
	}

	return resp, nil
}

func (h *Handler) serveManifest(w http.ResponseWriter, r *http.Request, resp *http.Response, targetUrl, referer string, proxySegments bool) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to read manifest body", "url", targetUrl, "error", err)
		http.Error(w, "Error fetching manifest", http.StatusInternalServerError)
		return
	}

	// body claimed to be a playlist but is not: serve raw rather than
	// mis-rewritten text
	if !hls.IsManifest(body) {
		copyHeaders(w, resp)
		w.WriteHeader(resp.StatusCode)
		w.Write(body)
		return
	}

	rewritten := hls.Rewrite(string(body), targetUrl, serverBaseUrl(r), referer, proxySegments)

	w.Header().Set("Content-Type", hls.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(rewritten))
}

func (h *Handler) serveAndCache(w http.ResponseWriter, r *http.Request, resp *http.Response, roomId, socketId, key string) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to buffer segment", "error", err)
		http.Error(w, "Error fetching URL", http.StatusInternalServerError)
		return
	}

	chunk := Chunk{
		Data:        body,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Headers:     make(map[string]string),
	}
	for _, name := range forwardedHeaders {
		if v := resp.Header.Get(name); v != "" {
			chunk.Headers[name] = v
		}
	}

	if members, err := h.rooms.GetMembers(roomId); err == nil && len(members) >= 2 {
		memberIds := make([]string, len(members))
		for i, m := range members {
			memberIds[i] = m.Id
		}
		h.cache.Put(roomId, key, chunk, memberIds, socketId)
	}

	h.serveChunk(w, chunk, "MISS")
}

func (h *Handler) serveChunk(w http.ResponseWriter, chunk Chunk, cacheState string) {
	for name, value := range chunk.Headers {
		w.Header().Set(name, value)
	}
	if chunk.ContentType != "" {
		w.Header().Set("Content-Type", chunk.ContentType)
	}
	w.Header().Set("X-Cache", cacheState)
	w.WriteHeader(chunk.Status)
	w.Write(chunk.Data)
}

func (h *Handler) streamBody(w http.ResponseWriter, resp *http.Response) {
	copyHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func copyHeaders(w http.ResponseWriter, resp *http.Response) {
	for _, name := range forwardedHeaders {
		if v := resp.Header.Get(name); v != "" {
			w.Header().Set(name, v)
		}
	}
}

func looksLikeManifest(targetUrl string) bool {
	lower := strings.ToLower(targetUrl)
	if i := strings.IndexByte(lower, '?'); i >= 0 {
		lower = lower[:i]
	}

	return strings.HasSuffix(lower, ".m3u8") || strings.HasSuffix(lower, ".txt")
}

func isManifestContentType(contentType string) bool {
	lower := strings.ToLower(contentType)
	return strings.Contains(lower, "mpegurl") || strings.Contains(lower, "application/x-mpegurl")
}

func serverBaseUrl(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}

	return scheme + "://" + r.Host
}
