package media

import (
	"net/url"
	"strings"

	"sidehustle-chat/internal/apperr"
)

var ErrInvalidRef = apperr.InvalidArg("invalid media reference")

// URLResolver maps opaque media references to URLs under BaseURL. References
// that are already absolute http(s) URLs pass through untouched.
type URLResolver struct {
	BaseURL string
}

func NewURLResolver(baseURL string) *URLResolver {
	return &URLResolver{BaseURL: strings.TrimRight(baseURL, "/")}
}

func (r *URLResolver) ResolveMediaRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.Contains(ref, "..") {
		return "", ErrInvalidRef
	}
	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return ref, nil
	}
	if r.BaseURL == "" {
		return "", ErrInvalidRef
	}

	segments := strings.Split(strings.TrimLeft(ref, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return r.BaseURL + "/" + strings.Join(segments, "/"), nil
}
