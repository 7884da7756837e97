// Package origin implements the terminal proxy handler: every request that
// survives the middleware pipeline is forwarded to the single downstream
// service and its response streamed back unchanged.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gatelabs/tollgate/internal/telemetry"
)

// defaultTimeout bounds a single origin call.
const defaultTimeout = 30 * time.Second

// hopByHopHeaders must not be forwarded between client and origin.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// NewTransport returns a tuned *http.Transport with connection pooling and
// optional DNS caching. Set forceHTTP2 to true for remote HTTPS origins,
// false for local HTTP/1.1 servers.
func NewTransport(resolver *dnscache.Resolver, forceHTTP2 bool) *http.Transport {
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   forceHTTP2,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}

// Config parameterizes the forwarder.
type Config struct {
	// BaseURL is the downstream base, scheme://host[:port][/prefix].
	BaseURL string
	// Timeout bounds each origin call; zero selects the default.
	Timeout time.Duration
}

// Forwarder is the innermost http.Handler of the pipeline. Any
// transport-level failure talking to the origin maps to 502; origin responses
// of every status pass through untouched.
type Forwarder struct {
	base    *url.URL
	client  *http.Client
	timeout time.Duration
	metrics *telemetry.Metrics
}

// New creates a forwarder for the configured downstream. metrics may be nil.
func New(cfg Config, resolver *dnscache.Resolver, metrics *telemetry.Metrics) (*Forwarder, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("origin: parse base URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Forwarder{
		base:    base,
		client:  &http.Client{Transport: NewTransport(resolver, base.Scheme == "https")},
		timeout: timeout,
		metrics: metrics,
	}, nil
}

// Pre-allocated 502 body and Content-Type header value.
var (
	badGatewayBody = []byte("{\"detail\":\"Bad Gateway\"}\n")
	jsonCT         = []string{"application/json"}
)

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), f.timeout)
	defer cancel()

	ctx, span := telemetry.Tracer("tollgate/origin").Start(ctx, "origin.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
		),
	)
	defer span.End()

	target := f.base.JoinPath(r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	out, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		f.fail(w, r, span, err)
		return
	}
	out.ContentLength = r.ContentLength
	// Host is not carried in r.Header; the client derives it from the target
	// URL, so the origin sees its own host.
	for key, vals := range r.Header {
		if _, hop := hopByHopHeaders[key]; hop {
			continue
		}
		out.Header[key] = vals
	}

	start := time.Now()
	resp, err := f.client.Do(out)
	if err != nil {
		f.fail(w, r, span, err)
		return
	}
	defer resp.Body.Close()

	if f.metrics != nil {
		f.metrics.OriginDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	for key, vals := range resp.Header {
		if _, hop := hopByHopHeaders[key]; hop {
			continue
		}
		for _, v := range vals {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if err := f.copyBody(w, resp); err != nil {
		// Headers are gone; all that is left is to log the broken stream.
		slog.LogAttrs(r.Context(), slog.LevelError, "origin response copy failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// copyBody streams the origin body to the client, flushing per read for
// event-stream content types so long-lived streams are not held back by
// buffering.
func (f *Forwarder) copyBody(w http.ResponseWriter, resp *http.Response) error {
	flusher, canFlush := w.(http.Flusher)
	ct := resp.Header.Get("Content-Type")
	needsFlush := canFlush && (strings.Contains(ct, "text/event-stream") ||
		strings.Contains(ct, "application/x-ndjson"))

	if needsFlush {
		buf := make([]byte, 32*1024)
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				if _, writeErr := w.Write(buf[:n]); writeErr != nil {
					return writeErr
				}
				flusher.Flush()
			}
			if readErr != nil {
				if readErr == io.EOF {
					return nil
				}
				return readErr
			}
		}
	}

	_, err := io.Copy(w, resp.Body)
	return err
}

// fail answers 502 for a request that never produced an origin response.
func (f *Forwarder) fail(w http.ResponseWriter, r *http.Request, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "origin unreachable")

	if f.metrics != nil {
		f.metrics.OriginErrors.WithLabelValues(failReason(err)).Inc()
	}
	slog.LogAttrs(r.Context(), slog.LevelError, "origin request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)

	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusBadGateway)
	w.Write(badGatewayBody)
}

func failReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "transport"
	}
}
