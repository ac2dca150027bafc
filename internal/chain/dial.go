package chain

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"
)

// DialOptions controls how the RPC endpoint is reached
type DialOptions struct {
	URL string
	// ProxyURL routes traffic through a SOCKS5 proxy, e.g. socks5://127.0.0.1:9050
	ProxyURL string
	// RateLimit caps requests per second; 0 disables limiting
	RateLimit float64
	Timeout   time.Duration
}

type contextDialer func(ctx context.Context, network, addr string) (net.Conn, error)

// dialRPC opens an rpc.Client over HTTP or WebSocket honoring proxy and rate limit settings
func dialRPC(ctx context.Context, opts DialOptions) (*rpc.Client, error) {
	dial, err := proxyDialer(opts.ProxyURL)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var clientOpts []rpc.ClientOption
	switch {
	case strings.HasPrefix(opts.URL, "ws://"), strings.HasPrefix(opts.URL, "wss://"):
		clientOpts = append(clientOpts, rpc.WithWebsocketDialer(websocket.Dialer{
			NetDialContext:   dial,
			HandshakeTimeout: timeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		}))
	default:
		var rt http.RoundTripper = &http.Transport{
			DialContext:         dial,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
		if opts.RateLimit > 0 {
			burst := int(opts.RateLimit)
			if burst < 1 {
				burst = 1
			}
			rt = &rateLimitedTransport{
				next:    rt,
				limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), burst),
			}
		}
		clientOpts = append(clientOpts, rpc.WithHTTPClient(&http.Client{
			Transport: rt,
			Timeout:   timeout,
		}))
	}

	client, err := rpc.DialOptions(ctx, opts.URL, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", opts.URL, err)
	}
	return client, nil
}

// proxyDialer returns a direct dialer, or a SOCKS5 dialer for proxyURL
func proxyDialer(proxyURL string) (contextDialer, error) {
	direct := &net.Dialer{Timeout: 15 * time.Second, KeepAlive: 30 * time.Second}
	if proxyURL == "" {
		return direct.DialContext, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	d, err := proxy.FromURL(u, direct)
	if err != nil {
		return nil, fmt.Errorf("unsupported proxy %s: %w", u.Scheme, err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}, nil
}

// rateLimitedTransport delays requests to stay under the provider's quota
type rateLimitedTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}
