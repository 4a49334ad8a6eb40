package toolhost

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// blockedHostnames are always rejected regardless of what they resolve
// to.
var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

var blockedHostSuffixes = []string{".localhost", ".local", ".internal"}

func normalizeHostname(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimSuffix(h, ".")
	if strings.HasPrefix(h, "[") && strings.HasSuffix(h, "]") {
		h = h[1 : len(h)-1]
	}
	return h
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	return ip.IsPrivate()
}

// validatePublicHostname rejects hostnames that are blocked outright or
// that resolve to a private/internal address.
func validatePublicHostname(host string) error {
	normalized := normalizeHostname(host)
	if normalized == "" {
		return fmt.Errorf("web-fetch: empty hostname")
	}
	if blockedHostnames[normalized] {
		return fmt.Errorf("web-fetch: blocked hostname %q", host)
	}
	for _, suffix := range blockedHostSuffixes {
		if strings.HasSuffix(normalized, suffix) {
			return fmt.Errorf("web-fetch: blocked hostname %q", host)
		}
	}
	if ip := net.ParseIP(normalized); ip != nil {
		if isPrivateIP(ip) {
			return fmt.Errorf("web-fetch: blocked private address %q", host)
		}
		return nil
	}
	ips, err := net.LookupIP(normalized)
	if err != nil {
		return fmt.Errorf("web-fetch: resolve %q: %w", host, err)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("web-fetch: %q resolves to a private address", host)
		}
	}
	return nil
}

func webFetchHandler() Handler {
	client := &http.Client{Timeout: webFetchTimeout}
	return func(ctx context.Context, input map[string]any) (string, error) {
		raw := stringField(input, "url")
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("web-fetch: invalid url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", fmt.Errorf("web-fetch: unsupported scheme %q", u.Scheme)
		}
		if err := validatePublicHostname(u.Hostname()); err != nil {
			return "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
		if err != nil {
			return "", fmt.Errorf("web-fetch: build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("web-fetch: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return "", fmt.Errorf("web-fetch: read body: %w", err)
		}
		return string(body), nil
	}
}
