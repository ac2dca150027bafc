package devchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/lsdlabs/lsdctl/internal/logging"
	"github.com/lsdlabs/lsdctl/internal/metrics"
	"github.com/lsdlabs/lsdctl/internal/util"
)

// ClientVersion is reported by web3_clientVersion
const ClientVersion = "lsdctl-devchain/v1"

// NodeConfig configures the JSON-RPC dev node
type NodeConfig struct {
	// Addr is the listen address of the RPC endpoint, e.g. "127.0.0.1:8545"
	Addr string `yaml:"addr"`
	// MetricsAddr serves /metrics on its own listener when set. Otherwise
	// metrics share the RPC listener.
	MetricsAddr string `yaml:"metrics_addr"`
	// Accounts are returned by eth_accounts
	Accounts []common.Address `yaml:"-"`
	// AllowedOrigins for websocket upgrades, "*" allows any
	AllowedOrigins []string `yaml:"allowed_origins"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
}

// DefaultNodeConfig listens where hardhat's node does
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		Addr:              "127.0.0.1:8545",
		AllowedOrigins:    []string{"*"},
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Node serves a Chain over HTTP and websocket JSON-RPC
type Node struct {
	config  *NodeConfig
	chain   *Chain
	metrics *metrics.PrometheusCollector

	rpcServer     *rpc.Server
	httpServer    *http.Server
	metricsServer *http.Server
	listener      net.Listener
	mu            sync.RWMutex
	running       bool
}

// NewNode wraps chain in a JSON-RPC node
func NewNode(chain *Chain, cfg *NodeConfig) *Node {
	if cfg == nil {
		cfg = DefaultNodeConfig()
	}
	return &Node{config: cfg, chain: chain, metrics: chain.metrics}
}

func (n *Node) registerAPIs(srv *rpc.Server) error {
	apis := []struct {
		namespace string
		service   any
	}{
		{"eth", &ethAPI{chain: n.chain, accounts: n.config.Accounts}},
		{"net", &netAPI{chain: n.chain}},
		{"web3", &web3API{version: ClientVersion}},
		{"evm", &evmAPI{chain: n.chain}},
	}
	for _, api := range apis {
		if err := srv.RegisterName(api.namespace, api.service); err != nil {
			return fmt.Errorf("register %s api: %w", api.namespace, err)
		}
	}
	return nil
}

func (n *Node) buildRouter() http.Handler {
	ws := n.rpcServer.WebsocketHandler(n.config.AllowedOrigins)
	mux := http.NewServeMux()
	mux.Handle("/", n.countRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			ws.ServeHTTP(w, r)
			return
		}
		n.rpcServer.ServeHTTP(w, r)
	})))
	if n.config.MetricsAddr == "" {
		n.mountMetrics(mux)
	}
	return mux
}

func (n *Node) mountMetrics(mux *http.ServeMux) {
	mux.Handle("/metrics", n.metrics.PrometheusHandler())
	mux.Handle("/metrics.json", n.metrics.JSONHandler())
}

// countRequests records the JSON-RPC methods of plain HTTP requests
func (n *Node) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 5*1024*1024))
		r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		start := time.Now()
		next.ServeHTTP(w, r)
		elapsed := time.Since(start)
		for _, method := range requestMethods(body) {
			n.metrics.RecordRequest(method, elapsed)
		}
	})
}

// requestMethods extracts the method names of a single or batch request
func requestMethods(body []byte) []string {
	type call struct {
		Method string `json:"method"`
	}
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var batch []call
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil
		}
		methods := make([]string, 0, len(batch))
		for _, c := range batch {
			methods = append(methods, c.Method)
		}
		return methods
	}
	var c call
	if err := json.Unmarshal(body, &c); err != nil || c.Method == "" {
		return nil
	}
	return []string{c.Method}
}

// Start begins serving. A port of 0 picks a free one, see Addr.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return fmt.Errorf("node already running")
	}

	n.rpcServer = rpc.NewServer()
	if err := n.registerAPIs(n.rpcServer); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", n.config.Addr)
	if err != nil {
		n.rpcServer.Stop()
		return fmt.Errorf("listen %s: %w", n.config.Addr, err)
	}
	n.listener = ln
	n.httpServer = &http.Server{
		Handler:           n.buildRouter(),
		ReadHeaderTimeout: n.config.ReadHeaderTimeout,
		IdleTimeout:       n.config.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	util.SafeGoWithName("devchain-rpc", func() {
		logging.Info("devchain node listening",
			"addr", ln.Addr().String(),
			"chain_id", n.chain.ChainIDValue().String(),
			logging.Component("devchain"))
		if err := n.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Error("devchain node error", logging.Err(err), logging.Component("devchain"))
		}
	})

	if n.config.MetricsAddr != "" {
		mux := http.NewServeMux()
		n.mountMetrics(mux)
		n.metricsServer = &http.Server{
			Addr:              n.config.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: n.config.ReadHeaderTimeout,
		}
		util.SafeGoWithName("devchain-metrics", func() {
			logging.Info("devchain metrics listening",
				"addr", n.config.MetricsAddr,
				logging.Component("devchain"))
			if err := n.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("devchain metrics error", logging.Err(err), logging.Component("devchain"))
			}
		})
	}

	n.running = true
	return nil
}

// Addr returns the bound listen address
func (n *Node) Addr() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.listener == nil {
		return n.config.Addr
	}
	return n.listener.Addr().String()
}

// URL returns the HTTP endpoint of the node
func (n *Node) URL() string {
	return "http://" + n.Addr()
}

// WSURL returns the websocket endpoint of the node
func (n *Node) WSURL() string {
	return "ws://" + n.Addr()
}

// Stop shuts the node down, closing open websocket sessions
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	n.mu.Unlock()

	var errs []error
	n.rpcServer.Stop()
	if err := n.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("rpc server shutdown: %w", err))
	}
	if n.metricsServer != nil {
		if err := n.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	logging.Info("devchain node stopped", logging.Component("devchain"))

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
