package proxy

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/core-tools/hsu-devsession/pkg/errors"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local development gateway, the page origin differs by port
		return true
	},
}

var wsDialer = &websocket.Dialer{
	Proxy:            http.ProxyFromEnvironment,
	HandshakeTimeout: 10 * time.Second,
}

// tunnelWebSocket upgrades the client connection and relays messages
// between it and the matching websocket endpoint of the application
// service until either side closes.
func (g *Gateway) tunnelWebSocket(w http.ResponseWriter, r *http.Request) {
	backendURL := *g.target
	if g.target.Scheme == "https" {
		backendURL.Scheme = "wss"
	} else {
		backendURL.Scheme = "ws"
	}
	backendURL.Path = singleJoiningSlash(g.target.Path, r.URL.Path)
	backendURL.RawQuery = r.URL.RawQuery

	requestHeader := http.Header{}
	for key, values := range r.Header {
		if isHopByHopHeader(key) || isHandshakeHeader(key) {
			continue
		}
		for _, value := range values {
			requestHeader.Add(key, value)
		}
	}

	dialer := *wsDialer
	dialer.Subprotocols = websocket.Subprotocols(r)

	backend, resp, err := dialer.Dial(backendURL.String(), requestHeader)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		proxyErr := errors.NewUpstreamProxyError("failed to reach upstream websocket: "+r.URL.Path, err)
		g.logger.Errorf("%v", proxyErr)
		http.Error(w, "upstream websocket unavailable: "+err.Error(), http.StatusInternalServerError)
		return
	}
	defer backend.Close()

	responseHeader := http.Header{}
	if backend.Subprotocol() != "" {
		responseHeader.Set("Sec-WebSocket-Protocol", backend.Subprotocol())
	}

	client, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		// Upgrade already answered the client
		g.logger.Errorf("Failed to upgrade client websocket for %s: %v", r.URL.Path, err)
		return
	}
	defer client.Close()

	g.logger.Debugf("Websocket tunnel open for %s", r.URL.Path)

	done := make(chan struct{}, 2)
	go func() {
		relayMessages(backend, client)
		done <- struct{}{}
	}()
	go func() {
		relayMessages(client, backend)
		done <- struct{}{}
	}()
	<-done

	g.logger.Debugf("Websocket tunnel closed for %s", r.URL.Path)
}

// isHandshakeHeader reports websocket handshake headers owned by the
// dialer, forwarding them twice breaks the upstream handshake.
func isHandshakeHeader(name string) bool {
	return strings.HasPrefix(http.CanonicalHeaderKey(name), "Sec-Websocket-")
}

// relayMessages pumps messages from src to dst until a read or write
// fails, propagating the close code when the peer sent one.
func relayMessages(src, dst *websocket.Conn) {
	for {
		messageType, payload, err := src.ReadMessage()
		if err != nil {
			closeCode := websocket.CloseNormalClosure
			if closeErr, ok := err.(*websocket.CloseError); ok && closeErr.Code != websocket.CloseNoStatusReceived {
				closeCode = closeErr.Code
			}
			dst.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, ""))
			return
		}
		if err := dst.WriteMessage(messageType, payload); err != nil {
			return
		}
	}
}
