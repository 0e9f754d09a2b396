// Package joinlink builds the URL participants open on their own devices
// and renders it as a QR code. Nothing here touches auction state.
package joinlink

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// ErrInvalidBase is returned when a configured public URL cannot be used.
var ErrInvalidBase = errors.New("joinlink: invalid public url")

// DefaultSize is the QR image edge length in pixels.
const DefaultSize = 320

// Linker resolves the participant join URL. With no public base configured
// the URL is derived from the incoming request.
type Linker struct {
	base *url.URL
	path string
}

// New creates a linker. publicURL may be empty; path is the participant
// page, e.g. "/participant".
func New(publicURL, path string) (*Linker, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	l := &Linker{path: path}
	if publicURL == "" {
		return l, nil
	}

	u, err := url.Parse(publicURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %s (expected http(s)://host[:port])", ErrInvalidBase, publicURL)
	}
	l.base = u
	return l, nil
}

// URL returns the join URL for a request.
func (l *Linker) URL(r *http.Request) string {
	if l.base != nil {
		u := *l.base
		u.Path = strings.TrimSuffix(u.Path, "/") + l.path
		return u.String()
	}

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: r.Host, Path: l.path}
	return u.String()
}

// Static returns the configured join URL, or "" when it depends on the
// request host.
func (l *Linker) Static() string {
	if l.base == nil {
		return ""
	}
	u := *l.base
	u.Path = strings.TrimSuffix(u.Path, "/") + l.path
	return u.String()
}

// QR renders content as a PNG QR code.
func QR(content string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSize
	}
	png, err := qrcode.Encode(content, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}
