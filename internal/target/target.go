// Package target normalizes user-supplied proxy targets into absolute URLs.
package target

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"embed-proxy-go/internal/model"
)

// DefaultScheme is assumed for targets given without a scheme.
const DefaultScheme = "https"

// schemePrefix matches any "scheme://" prefix.
var schemePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)

// InvalidTargetError is returned when a target cannot be turned into an
// absolute http(s) URL.
type InvalidTargetError struct {
	Target string
	Err    error
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid target %q: %v", e.Target, e.Err)
}

func (e *InvalidTargetError) Unwrap() error { return e.Err }

// Resolve parses raw into a ResolvedTarget. Targets that already carry an
// http:// or https:// prefix are parsed as-is; anything without a scheme is
// treated as a bare host or host/path and gets "https://" prepended.
func Resolve(raw string) (*model.ResolvedTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &InvalidTargetError{Target: raw, Err: errors.New("empty target")}
	}

	abs := raw
	if !HasScheme(raw) {
		if schemePrefix.MatchString(raw) {
			return nil, &InvalidTargetError{Target: raw, Err: errors.New("unsupported scheme")}
		}
		abs = DefaultScheme + "://" + raw
	}

	u, err := url.Parse(abs)
	if err != nil {
		return nil, &InvalidTargetError{Target: raw, Err: err}
	}
	if u.Hostname() == "" {
		return nil, &InvalidTargetError{Target: raw, Err: errors.New("empty host")}
	}

	scheme := strings.ToLower(u.Scheme)
	return &model.ResolvedTarget{
		Scheme: scheme,
		Origin: scheme + "://" + u.Host,
		Path:   u.Path,
		Query:  u.RawQuery,
		URL:    u,
	}, nil
}

// HasScheme reports whether s starts with http:// or https:// (case-insensitive).
func HasScheme(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}
