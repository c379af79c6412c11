// Package web reads pages and documents as plain text for the mention agent.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrUnsupported is returned for content that has no text rendering.
var ErrUnsupported = errors.New("unsupported content type")

// ErrBlockedAddress is returned when a URL resolves to a loopback, private
// or link-local address.
var ErrBlockedAddress = errors.New("address not allowed")

const defaultUserAgent = "Mozilla/5.0 (compatible; PillarAssistant/1.0)"

type Config struct {
	Timeout  time.Duration
	MaxBytes int64
	// AllowPrivate permits loopback and private-network targets.
	AllowPrivate bool
}

// Fetcher downloads web pages for the fetch_url tool.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewFetcher(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 2 << 20
	}

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	if !cfg.AllowPrivate {
		dialer.Control = publicOnly
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil

	return &Fetcher{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("too many redirects")
				}
				return checkScheme(req.URL)
			},
		},
		maxBytes: cfg.MaxBytes,
	}
}

// Fetch returns the readable text of rawURL. A missing scheme means https.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if err := checkScheme(u); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain,application/json;q=0.9,*/*;q=0.5")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetching %s: status %d", u.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", u.Host, err)
	}

	slog.DebugContext(ctx, "fetched page",
		"host", u.Host,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds())

	return Text(resp.Header.Get("Content-Type"), body)
}

// Text renders body as plain text according to its media type. Unknown
// types are sniffed: markup is treated as HTML, valid UTF-8 as text.
func Text(contentType string, body []byte) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch {
	case mediaType == "text/html", mediaType == "application/xhtml+xml":
		return HTMLText(strings.NewReader(string(body))), nil
	case strings.HasPrefix(mediaType, "text/"),
		mediaType == "application/json",
		mediaType == "application/xml",
		strings.HasSuffix(mediaType, "+json"):
		return strings.ToValidUTF8(string(body), ""), nil
	case mediaType == "" || mediaType == "application/octet-stream":
		sniffed := http.DetectContentType(body)
		if strings.HasPrefix(sniffed, "text/html") {
			return HTMLText(strings.NewReader(string(body))), nil
		}
		if strings.HasPrefix(sniffed, "text/") {
			return strings.ToValidUTF8(string(body), ""), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupported, firstNonEmpty(mediaType, "unknown"))
}

func checkScheme(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("scheme %q not allowed", u.Scheme)
	}
	if u.Hostname() == "" {
		return errors.New("url has no host")
	}
	return nil
}

// publicOnly runs after DNS resolution, so it also covers hostnames that
// resolve to internal addresses.
func publicOnly(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return err
	}
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified() || addr.IsMulticast() {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, addr)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
