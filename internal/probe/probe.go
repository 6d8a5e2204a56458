// Package probe checks whether a station's stream URL answers.
package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"station-check/internal/models"
)

// DefaultTimeout bounds a single probe so one dead stream cannot stall a scan.
const DefaultTimeout = 5 * time.Second

// Outcome is the result class of a probe.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeHTTPFailure
	OutcomeTransportFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeHTTPFailure:
		return "http failure"
	case OutcomeTransportFailure:
		return "transport failure"
	}
	return "unknown"
}

// Transport names the category of a network-level failure.
type Transport string

const (
	TransportNone       Transport = ""
	TransportDNS        Transport = "dns"
	TransportRefused    Transport = "refused"
	TransportTimeout    Transport = "timeout"
	TransportInvalidURL Transport = "invalid-url"
	TransportTLS        Transport = "tls"
	TransportCanceled   Transport = "canceled"
	TransportOther      Transport = "other"
)

// Result is the typed outcome of one probe. StatusCode is set whenever the
// server answered; Transport is set only for transport failures.
type Result struct {
	URL        string
	Outcome    Outcome
	StatusCode int
	Transport  Transport
	Err        error
	Elapsed    time.Duration
}

// Verdict maps the outcome onto the value persisted in the station file.
func (r Result) Verdict() models.Verdict {
	switch r.Outcome {
	case OutcomeOK:
		return models.VerdictGood
	case OutcomeHTTPFailure:
		return models.VerdictFailedRequest
	}
	return models.VerdictUnreachable
}

// Canceled reports whether the probe was interrupted by its context rather
// than failing on its own.
func (r Result) Canceled() bool {
	return r.Transport == TransportCanceled
}

func (r Result) String() string {
	switch r.Outcome {
	case OutcomeOK:
		return fmt.Sprintf("%d in %s", r.StatusCode, r.Elapsed.Round(time.Millisecond))
	case OutcomeHTTPFailure:
		return fmt.Sprintf("http status %d", r.StatusCode)
	}
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.Transport, r.Err)
	}
	return string(r.Transport)
}

// Prober issues a single request against a stream URL.
type Prober interface {
	Probe(ctx context.Context, rawURL string) Result
}

// HTTPProber probes with a plain GET and never reads the response body.
type HTTPProber struct {
	client    *http.Client
	userAgent string
}

// NewHTTPProber returns a prober with the given per-request timeout. A
// non-positive timeout falls back to DefaultTimeout.
func NewHTTPProber(timeout time.Duration, userAgent string) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := cleanhttp.DefaultClient()
	client.Timeout = timeout
	return &HTTPProber{client: client, userAgent: userAgent}
}

// Probe performs one request. It never returns an error; every failure is
// folded into the result.
func (p *HTTPProber) Probe(ctx context.Context, rawURL string) (res Result) {
	res = Result{URL: rawURL}
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	target, err := parseStreamURL(rawURL)
	if err != nil {
		res.Outcome = OutcomeTransportFailure
		res.Transport = TransportInvalidURL
		res.Err = err
		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		res.Outcome = OutcomeTransportFailure
		res.Transport = TransportInvalidURL
		res.Err = err
		return res
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		res.Outcome = OutcomeTransportFailure
		res.Transport = classify(ctx, err)
		res.Err = err
		return res
	}
	// Streams never end; the status line is all that matters.
	resp.Body.Close()

	res.StatusCode = resp.StatusCode
	if resp.StatusCode >= http.StatusBadRequest {
		res.Outcome = OutcomeHTTPFailure
		return res
	}
	res.Outcome = OutcomeOK
	return res
}

func parseStreamURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("url has no host")
	}
	return u, nil
}

func classify(ctx context.Context, err error) Transport {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return TransportCanceled
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return TransportDNS
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return TransportRefused
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TransportTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TransportTimeout
	}

	var certErr *tls.CertificateVerificationError
	var recordErr tls.RecordHeaderError
	var authorityErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &recordErr) || errors.As(err, &authorityErr) || errors.As(err, &hostnameErr) {
		return TransportTLS
	}
	return TransportOther
}
