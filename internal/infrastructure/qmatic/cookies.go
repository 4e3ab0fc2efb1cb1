package qmatic

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/net/publicsuffix"

	"github.com/example/qmatic-scheduler/internal/internaltypes"
)

// CookieExtractor obtains the session identifier for siteURL. ok is false
// when the cookie could not be found.
type CookieExtractor interface {
	ExtractSessionCookie(ctx context.Context, siteURL string) (value string, ok bool, err error)
}

// StaticCookie hands out a fixed value, typically copied from a browser.
type StaticCookie string

func (c StaticCookie) ExtractSessionCookie(context.Context, string) (string, bool, error) {
	v := strings.TrimSpace(string(c))
	return v, v != "", nil
}

// HTTPCookieExtractor loads siteURL through a fresh cookie jar and picks the
// named cookie, ignoring case.
type HTTPCookieExtractor struct {
	Name    string
	Timeout time.Duration
	// Transport is optional.
	Transport http.RoundTripper
}

func (x HTTPCookieExtractor) ExtractSessionCookie(ctx context.Context, siteURL string) (string, bool, error) {
	u, err := url.Parse(siteURL)
	if err != nil {
		return "", false, internaltypes.Mark(errors.Wrap(err, "parse site url"), internaltypes.ErrConfiguration)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return "", false, err
	}
	hc := &http.Client{Jar: jar, Timeout: x.Timeout, Transport: x.Transport}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, siteURL, nil)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("User-Agent", userAgent)
	res, err := hc.Do(req)
	if err != nil {
		return "", false, internaltypes.Mark(errors.Wrap(err, "load site"), internaltypes.ErrTransientNetwork)
	}
	_, _ = io.Copy(io.Discard, res.Body)
	res.Body.Close()

	for _, c := range append(jar.Cookies(u), res.Cookies()...) {
		if strings.EqualFold(c.Name, x.Name) && c.Value != "" {
			return c.Value, true, nil
		}
	}
	return "", false, nil
}

// CommandCookieExtractor runs an external helper (for example a headless
// browser script) with siteURL appended to Argv. The helper prints the
// cookie value, optionally as NAME=value, on stdout.
type CommandCookieExtractor struct {
	Argv    []string
	Name    string
	Timeout time.Duration
}

func (x CommandCookieExtractor) ExtractSessionCookie(ctx context.Context, siteURL string) (string, bool, error) {
	if len(x.Argv) == 0 {
		return "", false, internaltypes.Markf(internaltypes.ErrConfiguration, "cookie command is empty")
	}
	if x.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.Timeout)
		defer cancel()
	}
	args := append(append([]string{}, x.Argv[1:]...), siteURL)
	cmd := exec.CommandContext(ctx, x.Argv[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", false, errors.Wrapf(err, "cookie command: %s", strings.TrimSpace(stderr.String()))
	}

	v := strings.TrimSpace(string(out))
	if name, value, found := strings.Cut(v, "="); found && strings.EqualFold(name, x.Name) {
		v = value
	}
	return v, v != "", nil
}
