// Command orchestrator runs the MCP tier-0 gateway: the Unix-domain-socket
// transport agents dial into, the HTTP/WebSocket ingress clients submit
// tasks through, and the registry/router/executor machinery connecting
// them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cartrita/mcp/internal/budget"
	"github.com/cartrita/mcp/internal/config"
	"github.com/cartrita/mcp/internal/executor"
	"github.com/cartrita/mcp/internal/extstore"
	"github.com/cartrita/mcp/internal/ingress"
	"github.com/cartrita/mcp/internal/maintenance"
	"github.com/cartrita/mcp/internal/registry"
	"github.com/cartrita/mcp/internal/router"
	"github.com/cartrita/mcp/internal/security"
	"github.com/cartrita/mcp/internal/telemetry"
	"github.com/cartrita/mcp/internal/trace"
	"github.com/cartrita/mcp/internal/transport"
	"github.com/cartrita/mcp/internal/wire"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s                 Run the orchestrator gateway in the foreground
  %s -version         Print the version and exit

ENVIRONMENT:
  MCP_HOME                   Orchestrator state directory (default ~/.cartrita-mcp)
  MCP_SOCKET_PATH             Unix-domain-socket path agents dial into
  MCP_MAX_FRAME_BYTES         Wire frame size cap
  MCP_MAX_DEPTH               Supervisor delegation depth cap
  MCP_MAX_CONCURRENT          Router queue capacity
  MCP_LOG_LEVEL               debug|info|warn|error
  MCP_LISTEN_ADDR             Ingress HTTP/WebSocket bind address
  MCP_RATE_LIMIT_PER_MINUTE   Ingress rate limit
  MCP_AUTH_SECRET             HMAC key for bearer-token signing (name configurable via security.hmac_key_env)
`, os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	versionFlag := flag.Bool("version", false, "print version and exit")
	helpFlag := flag.Bool("help", false, "print usage and exit")
	flag.Usage = printUsage
	flag.Parse()

	if *helpFlag {
		printUsage()
		return
	}
	if *versionFlag {
		fmt.Println(Version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir, "fingerprint", cfg.Fingerprint(), "genesis", cfg.NeedsGenesis)

	store, err := extstore.Open(filepath.Join(cfg.HomeDir, cfg.Persistence.DBPath))
	if err != nil {
		fatalStartup(logger, "E_MCP_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "idempotency_store_open", "path", cfg.Persistence.DBPath)

	reg := registry.New(registry.Config{
		HeartbeatInterval: time.Duration(cfg.Registry.HeartbeatIntervalSeconds) * time.Second,
	})

	rtr := router.New(reg, router.Config{
		Weights: router.Weights{
			Capability: cfg.Router.CapabilityWeight,
			Load:       cfg.Router.LoadWeight,
			Cost:       cfg.Router.CostWeight,
			Latency:    cfg.Router.LatencyWeight,
			Affinity:   cfg.Router.AffinityWeight,
		},
		QueueCap: cfg.Router.QueueCap,
	})

	gate := security.NewGate(security.Config{
		HMACKey:     cfg.AuthSecret(),
		MisuseLimit: cfg.Security.MisuseLimit,
	})
	for _, a := range cfg.Security.Agents {
		gate.Register(security.AgentCredential{AgentID: a.AgentID, Secret: a.Secret, ToolAllow: a.ToolAllow})
	}
	logger.Info("startup phase", "phase", "security_gate_ready", "provisioned_agents", len(cfg.Security.Agents))

	rl := budget.NewRateLimiter(cfg.Budget.RateLimitPerMinute, cfg.Budget.RateLimitBurst)
	rl.StartEviction(ctx, time.Minute, 30*time.Minute)

	provider, err := trace.InitProvider(ctx, trace.Config{
		Enabled:        cfg.Tracing.Enabled,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceName:    cfg.Tracing.ServiceName,
		SampleRate:     cfg.Tracing.SampleRate,
		MetricsEnabled: &cfg.Tracing.MetricsEnabled,
	})
	if err != nil {
		fatalStartup(logger, "E_MCP_TRACE_INIT", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()
	logger.Info("startup phase", "phase", "tracing_ready", "enabled", cfg.Tracing.Enabled, "exporter", cfg.Tracing.Exporter)

	hub := transport.NewHub()

	listener, err := transport.Listen(cfg.Transport.SocketPath, uint32(cfg.Transport.MaxFrameBytes))
	if err != nil {
		fatalStartup(logger, "E_MCP_SOCKET_BIND", err)
	}
	defer listener.Close()
	logger.Info("startup phase", "phase", "agent_socket_bound", "path", cfg.Transport.SocketPath)

	exec := executor.New(hub, store, executor.Config{
		DefaultTimeoutMs: int64(cfg.Executor.DefaultTimeoutMs),
		MaxProcessingMs:  int64(cfg.Executor.MaxProcessingMs),
		MaxRetries:       cfg.Executor.MaxRetries,
		CancelGrace:      time.Duration(cfg.Executor.CancelGraceMs) * time.Millisecond,
		StreamWindow:     cfg.Executor.StreamWindow,
		IdempotencyTTL:   time.Duration(cfg.Executor.IdempotencyTTLMs) * time.Millisecond,
		Router:           rtr,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		acceptLoop(ctx, listener, hub, reg, gate, exec, logger)
	}()

	sched := maintenance.New(maintenance.Config{
		Logger: logger,
		Jobs: []maintenance.Job{
			{
				Name:     "registry-sweep",
				CronExpr: "* * * * *",
				Run: func(ctx context.Context) error {
					if stale := reg.Sweep(time.Now()); len(stale) > 0 {
						logger.Warn("registry sweep marked agents unhealthy", "agents", stale)
					}
					return nil
				},
			},
			{
				Name:     "idempotency-sweep",
				CronExpr: "*/5 * * * *",
				Run: func(ctx context.Context) error {
					removed, err := store.Sweep()
					if err != nil {
						return err
					}
					if removed > 0 {
						logger.Info("idempotency sweep removed expired records", "removed", removed)
					}
					return nil
				},
			},
		},
	})
	sched.Start(ctx)
	defer sched.Stop()
	logger.Info("startup phase", "phase", "maintenance_scheduler_started")

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher failed to start, hot-reload disabled", "error", err)
	} else {
		go watchConfigReloads(ctx, watcher, gate, logger)
	}

	ingressSrv := ingress.New(ingress.Config{
		Executor:         exec,
		Router:           rtr,
		Gate:             gate,
		RateLimiter:      rl,
		AllowOrigins:     cfg.Ingress.AllowOrigins,
		DefaultMaxUSD:    cfg.Budget.DefaultMaxUSD,
		DefaultMaxTokens: cfg.Budget.DefaultMaxTokens,
	})

	httpServer := &http.Server{
		Addr:    cfg.Ingress.ListenAddr,
		Handler: ingressSrv.Handler(),
	}
	serverErr := make(chan error, 1)
	lc := &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
	ln, err := lc.Listen(ctx, "tcp", cfg.Ingress.ListenAddr)
	if err != nil {
		if isAddrInUse(err) {
			fatalStartup(logger, "E_MCP_INGRESS_BIND", fmt.Errorf("%w (is another orchestrator already running on %s?)", err, cfg.Ingress.ListenAddr))
		}
		fatalStartup(logger, "E_MCP_INGRESS_BIND", err)
	}
	logger.Info("startup phase", "phase", "ingress_listener_bound", "addr", cfg.Ingress.ListenAddr)

	go func() {
		logger.Info("ingress listening", "addr", cfg.Ingress.ListenAddr)
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("ingress server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ingress shutdown did not complete cleanly", "error", err)
	}

	stop()
	wg.Wait()
	logger.Info("orchestrator stopped")
}

// acceptLoop accepts agent socket connections until ctx is cancelled,
// handing each one to handleConn in its own goroutine.
func acceptLoop(ctx context.Context, ln *transport.Listener, hub *transport.Hub, reg *registry.Registry, gate *security.Gate, exec *executor.Executor, logger *slog.Logger) {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("agent accept failed", "error", err)
			continue
		}
		go handleConn(ctx, conn, hub, reg, gate, exec, logger)
	}
}

// registerEvent is the payload of the EVENT frame a newly connected agent
// must send before it is admitted to StateReady (spec §4.2's AuthPending
// state accepts only this frame).
type registerEvent struct {
	Event         string   `msgpack:"event"`
	Capabilities  []string `msgpack:"capabilities"`
	Tags          []string `msgpack:"tags"`
	CostHint      float64  `msgpack:"cost_hint"`
	LatencyHintMs int64    `msgpack:"latency_hint_ms"`
}

// heartbeatEvent is the payload of a periodic liveness EVENT frame.
type heartbeatEvent struct {
	Event string  `msgpack:"event"`
	Load  float64 `msgpack:"load"`
}

func handleConn(ctx context.Context, conn *transport.SocketConn, hub *transport.Hub, reg *registry.Registry, gate *security.Gate, exec *executor.Executor, logger *slog.Logger) {
	conn.SetState(transport.StateAuthPending)

	handshakeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	msg, err := conn.Recv(handshakeCtx)
	cancel()
	if err != nil {
		logger.Warn("agent handshake failed", "error", err)
		_ = conn.Close()
		return
	}
	if msg.MessageType != wire.EventType {
		logger.Warn("agent sent non-EVENT frame before registering", "message_type", msg.MessageType)
		_ = conn.Close()
		return
	}

	var reg_ registerEvent
	if err := wire.DecodePayload(msg.Payload, &reg_); err != nil || reg_.Event != "register" {
		logger.Warn("agent sent malformed register event", "error", err)
		_ = conn.Close()
		return
	}

	agentID := msg.Sender
	if agentID == "" {
		logger.Warn("agent register event missing sender id")
		_ = conn.Close()
		return
	}
	if err := gate.Authenticate(agentID, msg.SecurityToken); err != nil {
		logger.Warn("agent authentication failed", "agent_id", agentID, "error", err)
		_ = conn.Close()
		return
	}

	if err := reg.Register(registry.Info{
		AgentID:       agentID,
		Capabilities:  reg_.Capabilities,
		Tags:          reg_.Tags,
		CostHint:      reg_.CostHint,
		LatencyHintMs: reg_.LatencyHintMs,
	}); err != nil {
		logger.Warn("agent registration rejected", "agent_id", agentID, "error", err)
		_ = conn.Close()
		return
	}
	hub.Register(agentID, conn)
	conn.SetState(transport.StateReady)
	logger.Info("agent connected", "agent_id", agentID, "capabilities", reg_.Capabilities)

	defer func() {
		conn.SetState(transport.StateDraining)
		hub.Deregister(agentID, conn)
		reg.Deregister(agentID)
		_ = conn.Close()
		logger.Info("agent disconnected", "agent_id", agentID)
	}()

	for {
		m, err := conn.Recv(ctx)
		if err != nil {
			return
		}
		switch m.MessageType {
		case wire.TaskResponseType, wire.StreamStartType, wire.StreamChunkType, wire.StreamEndType:
			exec.HandleResponse(m)
		case wire.EventType:
			var hb heartbeatEvent
			if err := wire.DecodePayload(m.Payload, &hb); err == nil && hb.Event == "heartbeat" {
				if err := reg.Heartbeat(agentID, hb.Load); err != nil {
					logger.Warn("heartbeat for unregistered agent", "agent_id", agentID, "error", err)
				}
			}
		case wire.ErrorType:
			logger.Warn("agent reported protocol error", "agent_id", agentID, "correlation_id", m.CorrelationID)
		}
	}
}

// watchConfigReloads re-reads config.yaml on every change notification and
// re-provisions agent credentials into gate. Only the security-agents
// section is live-reloadable this way; everything else (socket path, router
// weights, listen address) requires a restart to take effect.
func watchConfigReloads(ctx context.Context, watcher *config.Watcher, gate *security.Gate, logger *slog.Logger) {
	for range watcher.Events() {
		cfg, err := config.Load()
		if err != nil {
			logger.Warn("config reload failed, keeping previous agent credentials", "error", err)
			continue
		}
		for _, a := range cfg.Security.Agents {
			gate.Register(security.AgentCredential{AgentID: a.AgentID, Secret: a.Secret, ToolAllow: a.ToolAllow})
		}
		logger.Info("config reloaded", "provisioned_agents", len(cfg.Security.Agents))
	}
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr, "startup failure: %s: %s\n", reasonCode, message)
	}
	os.Exit(1)
}

func isAddrInUse(err error) bool {
	if opErr, ok := err.(*net.OpError); ok {
		if sysErr, ok := opErr.Err.(*os.SyscallError); ok {
			return sysErr.Err == syscall.EADDRINUSE
		}
	}
	return strings.Contains(err.Error(), "address already in use")
}
