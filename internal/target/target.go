// Package target normalizes and validates scan targets. A target that
// resolves to loopback, RFC1918, or link-local space is rejected at run
// creation so the engine never points active tools at internal hosts.
package target

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

// ErrOutOfScope is returned for targets resolving to non-public address space.
var ErrOutOfScope = errors.New("target resolves to private or local address space")

var fqdnRe = regexp.MustCompile(`^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)

// Normalize lowercases the input and strips scheme, path, port, and
// surrounding whitespace, returning a bare FQDN.
func Normalize(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", errors.New("empty target")
	}
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	s = strings.TrimSuffix(s, ".")
	if !ValidFQDN(s) {
		return "", fmt.Errorf("not a valid FQDN: %q", raw)
	}
	return s, nil
}

// ValidFQDN reports whether s is a syntactically valid fully qualified
// domain name. Inputs are expected to be lowercase already.
func ValidFQDN(s string) bool {
	return len(s) <= 253 && fqdnRe.MatchString(s)
}

// Verify resolves fqdn and rejects it if any returned address is loopback,
// private, link-local, or unspecified. A target that does not resolve at
// all is allowed through: passive stages can still enumerate it.
func Verify(ctx context.Context, resolver *net.Resolver, fqdn string) error {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	addrs, err := resolver.LookupIPAddr(ctx, fqdn)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil
		}
		return nil // resolution trouble is not a scope violation
	}
	for _, a := range addrs {
		if a.IP.IsLoopback() || a.IP.IsPrivate() || a.IP.IsLinkLocalUnicast() ||
			a.IP.IsLinkLocalMulticast() || a.IP.IsUnspecified() {
			return fmt.Errorf("%s -> %s: %w", fqdn, a.IP, ErrOutOfScope)
		}
	}
	return nil
}

// Scope applies include and exclude regexes to a discovered hostname.
// An empty include set admits everything; excludes always win.
type Scope struct {
	Include []*regexp.Regexp
	Exclude []*regexp.Regexp
}

// NewScope compiles the given patterns. A bad pattern is a config error,
// reported before the run starts.
func NewScope(include, exclude []string) (*Scope, error) {
	s := &Scope{}
	for _, p := range include {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("bad include pattern %q: %w", p, err)
		}
		s.Include = append(s.Include, re)
	}
	for _, p := range exclude {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("bad exclude pattern %q: %w", p, err)
		}
		s.Exclude = append(s.Exclude, re)
	}
	return s, nil
}

// Admits reports whether host passes the scope filter.
func (s *Scope) Admits(host string) bool {
	for _, re := range s.Exclude {
		if re.MatchString(host) {
			return false
		}
	}
	if len(s.Include) == 0 {
		return true
	}
	for _, re := range s.Include {
		if re.MatchString(host) {
			return true
		}
	}
	return false
}
