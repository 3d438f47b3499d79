package app

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/icholy/digest"
	"github.com/rs/zerolog"
)

// Verb selects the outbound HTTP call. Only the verbs the engine actually
// uses are enumerated.
type Verb int

const (
	VerbGet Verb = iota
	VerbPost
)

func (v Verb) String() string {
	if v == VerbPost {
		return http.MethodPost
	}
	return http.MethodGet
}

// RequestOptions configures a single Gateway.Send call.
type RequestOptions struct {
	Headers  map[string]string
	JSONBody any // marshaled and sent as application/json when non-nil

	// Timeout bounds the whole exchange, body included. With StreamBody it
	// bounds only the dial and the wait for response headers.
	Timeout time.Duration

	// StreamBody marks calls whose body the caller copies incrementally.
	// A recording download runs for as long as the recording is large, so
	// the body copy must not be cut off by Timeout.
	StreamBody bool

	// Digest credentials; both empty means no authentication.
	DigestUser string
	DigestPass string

	// InsecureTLS disables certificate verification. The device presents a
	// self-signed certificate, so its endpoints always set this.
	InsecureTLS bool

	// FailOnError makes any transport failure or non-success status a fatal
	// error carrying ErrorMsg. When unset those conditions yield (nil, nil)
	// and the caller applies its own fallback.
	FailOnError bool
	ErrorMsg    string
}

// Gateway is a thin resilience wrapper around outbound HTTP calls: uniform
// error classification, optional fail-fast, JSON body encoding. Clients are
// cached per configuration so repeated calls to the same service reuse
// connections instead of re-dialing every page.
type Gateway struct {
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[clientKey]*http.Client
}

func NewGateway(logger zerolog.Logger) *Gateway {
	return &Gateway{
		logger:  logger,
		clients: make(map[clientKey]*http.Client),
	}
}

type clientKey struct {
	insecure   bool
	stream     bool
	user, pass string
	timeout    time.Duration
}

const errBodyExcerptLimit = 2 << 10

// Send performs the call. On success the response is returned with its body
// open; the caller owns closing it. A tolerated failure returns (nil, nil).
func (g *Gateway) Send(ctx context.Context, verb Verb, url string, opts RequestOptions) (*http.Response, error) {
	var body io.Reader
	if opts.JSONBody != nil {
		b, err := json.Marshal(opts.JSONBody)
		if err != nil {
			return nil, &CodedError{Code: "invalid_params", Message: "failed to encode the request body", Err: err}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, verb.String(), url, body)
	if err != nil {
		return nil, &CodedError{Code: "invalid_params", Message: "failed to build the request", Err: err}
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if opts.JSONBody != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client(opts).Do(req)
	if err != nil {
		g.logger.Debug().Err(err).Str("url", url).Msg("transport failure")
		if opts.FailOnError {
			return nil, &CodedError{Code: "network_error", Message: opts.ErrorMsg, Err: err}
		}
		return nil, nil
	}

	if resp.StatusCode >= 400 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyExcerptLimit))
		_ = resp.Body.Close()
		g.logger.Debug().Int("status", resp.StatusCode).Str("url", url).Msg("http error status")
		if opts.FailOnError {
			msg := fmt.Sprintf("%s The status code was %q. The following was returned %q",
				opts.ErrorMsg, resp.Status, string(excerpt))
			return nil, &CodedError{Code: "http_status", Message: msg}
		}
		return nil, nil
	}

	return resp, nil
}

func (g *Gateway) client(opts RequestOptions) *http.Client {
	key := clientKey{
		insecure: opts.InsecureTLS,
		stream:   opts.StreamBody,
		user:     opts.DigestUser,
		pass:     opts.DigestPass,
		timeout:  opts.Timeout,
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[key]; ok {
		return c
	}

	var base http.RoundTripper
	if opts.InsecureTLS || opts.StreamBody {
		transport := &http.Transport{}
		if opts.InsecureTLS {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		if opts.StreamBody {
			transport.DialContext = (&net.Dialer{Timeout: opts.Timeout}).DialContext
			transport.ResponseHeaderTimeout = opts.Timeout
		}
		base = transport
	}
	var rt http.RoundTripper = base
	if opts.DigestUser != "" || opts.DigestPass != "" {
		rt = &digest.Transport{
			Username:  opts.DigestUser,
			Password:  opts.DigestPass,
			Transport: base,
		}
	}

	c := &http.Client{Transport: rt}
	if !opts.StreamBody {
		c.Timeout = opts.Timeout
	}
	g.clients[key] = c
	return c
}
