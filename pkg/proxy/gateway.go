package proxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-devsession/pkg/errors"
	"github.com/core-tools/hsu-devsession/pkg/logging"
)

const upstreamRequestTimeout = 30 * time.Second

// hopByHopHeaders never travel past a single hop, RFC 7230 section 6.1.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func isHopByHopHeader(name string) bool {
	return hopByHopHeaders[http.CanonicalHeaderKey(name)]
}

// Gateway is the local HTTP front of a development session. It forwards
// requests to the application service, rewrites HTML responses on the way
// back and tunnels websocket upgrades.
type Gateway struct {
	config Configuration
	markup string
	target *url.URL
	client *http.Client
	logger logging.Logger

	mutex    sync.Mutex
	listener net.Listener
	server   *http.Server
	serveErr chan error
	stopped  bool
}

// NewGateway prepares a gateway for the given configuration. The gateway
// does not listen until Start is called.
func NewGateway(config Configuration, logger logging.Logger) (*Gateway, error) {
	target, err := url.Parse(config.TargetOrigin)
	if err != nil {
		return nil, errors.NewValidationError("invalid target origin: "+config.TargetOrigin, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.NewValidationError("target origin must include scheme and host: "+config.TargetOrigin, nil)
	}

	return &Gateway{
		config: config,
		markup: InjectionMarkup(config),
		target: target,
		client: &http.Client{
			Timeout: upstreamRequestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Hand redirects back to the browser instead of following them
				return http.ErrUseLastResponse
			},
		},
		logger:   logger,
		serveErr: make(chan error, 1),
	}, nil
}

// Start binds the gateway listener and begins serving in the background.
func (g *Gateway) Start(port int) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.listener != nil {
		return errors.NewInternalError("proxy gateway is already started", nil)
	}

	addr := net.JoinHostPort(g.config.BindHost, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.NewProxyBindError("failed to bind proxy gateway to "+addr, err)
	}

	g.listener = listener
	g.server = &http.Server{Handler: g}

	go func() {
		// Serve returns on listener close
		err := g.server.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			g.serveErr <- errors.NewNetworkError("proxy gateway stopped serving", err)
		}
	}()

	g.logger.Infof("Proxy gateway listening on %s, forwarding to %s", addr, g.config.TargetOrigin)
	return nil
}

// Addr returns the bound listener address, empty before Start.
func (g *Gateway) Addr() string {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// ServeError reports an unexpected serve loop exit. Nothing is ever sent
// for a regular Stop.
func (g *Gateway) ServeError() <-chan error {
	return g.serveErr
}

// Stop shuts the gateway down, waiting for in-flight requests until the
// context expires. Calling Stop again or before Start is a no-op.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.server == nil || g.stopped {
		return nil
	}
	g.stopped = true

	g.logger.Infof("Stopping proxy gateway...")

	err := g.server.Shutdown(ctx)
	if err != nil {
		g.logger.Warnf("Proxy gateway shutdown did not drain in time, closing: %v", err)
		g.server.Close()
	}

	return nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isWebSocketUpgrade(r) {
		g.tunnelWebSocket(w, r)
		return
	}
	g.forwardHTTP(w, r)
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// forwardHTTP relays one plain HTTP request to the application service and
// writes the possibly rewritten response back.
func (g *Gateway) forwardHTTP(w http.ResponseWriter, r *http.Request) {
	targetURL := *g.target
	targetURL.Path = singleJoiningSlash(g.target.Path, r.URL.Path)
	targetURL.RawQuery = r.URL.RawQuery

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL.String(), r.Body)
	if err != nil {
		g.logger.Errorf("Failed to build upstream request for %s: %v", r.URL.Path, err)
		http.Error(w, "proxy error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	for key, values := range r.Header {
		if isHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			outReq.Header.Add(key, value)
		}
	}
	// The application sees itself as the request host
	outReq.Host = g.target.Host

	resp, err := g.client.Do(outReq)
	if err != nil {
		proxyErr := errors.NewUpstreamProxyError("upstream request failed: "+r.Method+" "+r.URL.Path, err)
		g.logger.Errorf("%v", proxyErr)
		http.Error(w, "upstream request failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	g.writeResponse(w, resp, r.URL.Path)
}

// writeResponse copies an upstream response to the client. HTML documents
// are buffered, decompressed and rewritten, everything else streams through.
func (g *Gateway) writeResponse(w http.ResponseWriter, resp *http.Response, path string) {
	for key, values := range resp.Header {
		if isHopByHopHeader(key) {
			continue
		}
		if strings.EqualFold(key, "Set-Cookie") {
			// Rewritten below so cookies stick to the gateway origin
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}

	// Cookies scoped to the upstream host would be dropped by the browser
	for _, cookie := range resp.Cookies() {
		cookie.Domain = ""
		cookie.Secure = false
		http.SetCookie(w, cookie)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") {
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
		return
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		g.logger.Errorf("Failed to read upstream response body for %s: %v", path, err)
		http.Error(w, "upstream request failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	encoding := resp.Header.Get("Content-Encoding")
	decoded, supported, err := DecodeBody(raw, encoding)
	if err != nil {
		g.logger.Warnf("Failed to decode %s response body for %s, passing through: %v", encoding, path, err)
		w.WriteHeader(resp.StatusCode)
		w.Write(raw)
		return
	}
	if !supported {
		g.logger.Debugf("Unsupported content encoding %s for %s, passing through", encoding, path)
		w.WriteHeader(resp.StatusCode)
		w.Write(raw)
		return
	}

	rewritten, injected := RewriteHTML(decoded, g.markup)
	if injected {
		g.logger.Debugf("Injected session markup into %s", path)
	}

	// The body was decompressed and possibly grew, the old headers lie
	w.Header().Set("Content-Length", strconv.Itoa(len(rewritten)))
	w.Header().Del("Content-Encoding")
	w.WriteHeader(resp.StatusCode)
	w.Write(rewritten)
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
