// Command broker runs the agent collaboration broker: a bidirectional
// websocket and HTTP polling surface in front of the messagecore router
// and the Room Engine. Wiring here mirrors the teacher's cmd/server main:
// load config, build the dependency graph bottom-up, register Gin routes,
// then block on a signal-driven graceful shutdown.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/agentbus/broker/internal/v1/auth"
	"github.com/agentbus/broker/internal/v1/bus"
	"github.com/agentbus/broker/internal/v1/config"
	"github.com/agentbus/broker/internal/v1/health"
	"github.com/agentbus/broker/internal/v1/logging"
	"github.com/agentbus/broker/internal/v1/messagecore"
	"github.com/agentbus/broker/internal/v1/middleware"
	"github.com/agentbus/broker/internal/v1/ratelimit"
	"github.com/agentbus/broker/internal/v1/room"
	"github.com/agentbus/broker/internal/v1/sandbox"
	"github.com/agentbus/broker/internal/v1/session"
	"github.com/agentbus/broker/internal/v1/store"
	"github.com/agentbus/broker/internal/v1/tracing"
	"github.com/agentbus/broker/internal/v1/transport"
	"github.com/agentbus/broker/internal/v1/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	for _, path := range []string{".env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 2
	}

	logging.Initialize(cfg.LogFormat != "json")
	logger := logging.GetLogger()
	defer logger.Sync()
	logging.Info(context.Background(), "starting broker", zap.Any("config", cfg.Redacted()))

	shutdownTracing, err := tracing.InitTracer(context.Background(), os.Getenv("OTLP_ENDPOINT"), "agentbus-broker", os.Getenv("OTLP_INSECURE") == "true")
	if err != nil {
		logging.Warn(context.Background(), "tracing init failed, continuing without it")
		shutdownTracing = func(context.Context) error { return nil }
	}

	persist, err := store.Open(cfg.DataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "store:", err)
		return 1
	}
	defer persist.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	busSvc, err := bus.NewService(ctx, cfg.RedisAddr)
	if err != nil {
		logging.Warn(ctx, "bus unavailable, running single-instance")
		busSvc = nil
	}
	defer busSvc.Close()

	var redisClient = busSvc.RedisClient()
	rl, err := ratelimit.NewRateLimiter(redisClient, cfg.RateLimitPerMinute)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ratelimit:", err)
		return 1
	}

	var validator transport.TokenValidator
	if cfg.AuthEnabled {
		validator = auth.NewValidator(persist)
	} else {
		validator = &auth.MockValidator{}
	}

	var sb sandbox.Sandbox
	if cfg.CodeExecEnabled {
		sb = sandbox.NewHTTPSandbox(cfg.SandboxEndpoint)
	} else {
		sb = sandbox.NewRefusingSandbox()
	}

	heartbeat := time.Duration(cfg.HeartbeatIntervalSeconds) * time.Second
	registry := session.NewRegistry(cfg.MaxConnections, cfg.MaxConnectionsPerClient, heartbeat)

	engine := room.NewEngine(persist, sb, registry)
	if busSvc != nil {
		engine.OnBroadcast = func(roomID, kind string, payload map[string]any) {
			_ = busSvc.Publish(ctx, roomID, kind, payload, "")
		}
		engine.OnRoomReady = func(roomID string) {
			busSvc.Subscribe(ctx, roomID, func(ev bus.Event) {
				var payload map[string]any
				if err := json.Unmarshal(ev.Payload, &payload); err != nil {
					return
				}
				engine.DeliverLocal(roomID, ev.Kind, payload)
			})
		}
	}
	if err := engine.LoadFromStore(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "room recovery:", err)
		return 1
	}

	queue := messagecore.NewPriorityQueue()
	pending := messagecore.NewPendingTracker(persist)
	router := messagecore.NewRouter(queue, pending, persist, registry)
	router.OnFailure = func(sender types.ClientID, messageID string) {
		for _, rec := range registry.SessionsFor(sender) {
			rec.Sender.SendFrame(types.PriorityHigh, "delivery_failed", map[string]any{"message_id": messageID})
		}
		if busSvc != nil {
			_ = busSvc.PublishDirect(ctx, string(sender), "delivery_failed", map[string]any{"message_id": messageID}, "")
		}
	}
	ttlSweeper := messagecore.NewTTLSweeper(persist, nil)

	handle := buildFrameHandler(rl, router, ttlSweeper, engine)

	hub := transport.NewHub(validator, cfg.AuthEnabled, registry, handle, cfg.CORSAllowedOrigins, heartbeat)
	polling := transport.NewPollingSurface(registry, handle)
	healthHandler := health.NewHandler(busSvc, persist, sb)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(otelgin.Middleware("agentbus-broker"))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSAllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.HeaderXRequestID},
		AllowCredentials: true,
	}))

	r.GET("/ws", hub.ServeWs)
	r.POST("/v1/send", authMiddleware(cfg, validator), polling.Send)
	r.GET("/v1/fetch", authMiddleware(cfg, validator), polling.Fetch)
	r.GET("/health/live", healthHandler.Liveness)
	r.GET("/health/ready", healthHandler.Readiness)
	r.GET("/health/startup", healthHandler.Startup)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port),
		Handler: r,
	}

	go router.Run(ctx)
	go router.RetryLoop(ctx, 10*time.Second)
	go runTicker(ctx, 2*time.Minute, func() { pending.Sweep(ctx) })
	go runTicker(ctx, time.Minute, func() { ttlSweeper.Sweep(ctx) })
	go runTicker(ctx, 15*time.Second, func() { registry.SweepDeadConnections(closeDeadRecipient) })
	go runTicker(ctx, 10*time.Second, func() { engine.SweepTimedOutExecutions(ctx) })

	serveErr := make(chan error, 1)
	go func() {
		logging.Info(ctx, "listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serveErr:
		fmt.Fprintln(os.Stderr, "listen:", err)
		return 1
	case sig := <-sigCh:
		logging.Info(ctx, "shutdown signal received", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn(ctx, "graceful shutdown exceeded deadline")
	}
	cancel()
	router.Stop()
	engine.Shutdown()
	_ = shutdownTracing(shutdownCtx)
	return 0
}

func runTicker(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// authMiddleware resolves client_id for the polling HTTP surface the same
// way the websocket Hub does, storing it in the Gin context for the
// handler to read back.
func authMiddleware(cfg *config.Config, validator transport.TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.AuthEnabled {
			c.Set("client_id", c.Query("client_id"))
			c.Next()
			return
		}
		token := c.GetHeader("Authorization")
		if token == "" {
			token = c.Query("token")
		}
		clientID, err := validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"code": "auth_invalid", "message": "invalid token"})
			c.Abort()
			return
		}
		c.Set("client_id", clientID)
		c.Next()
	}
}

// buildFrameHandler dispatches the three inbound frame kinds a client may
// send over either the websocket or the polling surface: send (a routed
// message), ack (clears a pending delivery), and room_op (a Room Engine
// operation). Rate limiting is applied uniformly here so both transports
// share the same enforcement point.
func buildFrameHandler(rl *ratelimit.RateLimiter, router *messagecore.Router, ttl *messagecore.TTLSweeper, engine *room.Engine) transport.FrameHandler {
	return func(ctx context.Context, clientID types.ClientID, connID types.ConnectionID, sender types.Sender, frame transport.Frame) {
		if res, err := rl.Check(ctx, string(clientID)); err == nil && !res.Allowed {
			sender.SendFrame(types.PriorityHigh, "error", map[string]any{
				"code": "rate_limited", "message": "too many requests", "request_id": frame.RequestID,
			})
			return
		}

		switch frame.Kind {
		case "send":
			var body transport.SendBody
			if err := json.Unmarshal(frame.Body, &body); err != nil {
				sendError(sender, "validation_failed", err.Error(), frame.RequestID)
				return
			}
			msg := &types.Message{
				FromClient: clientID, To: body.To, Type: body.Type, Payload: body.Payload,
				Priority: types.Priority(body.Priority), ReplyTo: body.ReplyTo,
				TTLSeconds: body.TTLSeconds, Metadata: body.Metadata,
			}
			if err := router.Ingest(ctx, msg); err != nil {
				sendError(sender, "overloaded", err.Error(), frame.RequestID)
				return
			}
			ttl.Track(msg)
			sender.SendFrame(types.PriorityNormal, "ack", map[string]any{"message_id": msg.ID, "seq": msg.Seq})

		case "ack":
			var body transport.AckBody
			if err := json.Unmarshal(frame.Body, &body); err != nil {
				sendError(sender, "validation_failed", err.Error(), frame.RequestID)
				return
			}
			router.Ack(ctx, body.MessageID)

		case "room_op":
			var body transport.RoomOpBody
			if err := json.Unmarshal(frame.Body, &body); err != nil {
				sendError(sender, "validation_failed", err.Error(), frame.RequestID)
				return
			}
			result, err := engine.Dispatch(ctx, string(clientID), body.Action, body.Fields)
			if err != nil {
				if opErr, ok := room.AsOpError(err); ok {
					sendError(sender, opErr.Code, opErr.Message, frame.RequestID)
				} else {
					sendError(sender, "internal_error", err.Error(), frame.RequestID)
				}
				return
			}
			sender.SendFrame(types.PriorityNormal, "room_op_result", map[string]any{
				"action": body.Action, "request_id": frame.RequestID, "result": result,
			})

		default:
			sendError(sender, "validation_failed", "unknown frame kind: "+frame.Kind, frame.RequestID)
		}
	}
}

// disconnecter is implemented by transport.Client; closeDeadRecipient uses
// it instead of a direct transport import so the session package's narrow
// types.Sender interface doesn't need a Disconnect method just for this.
type disconnecter interface {
	Disconnect()
}

func closeDeadRecipient(rec types.Recipient) {
	if d, ok := rec.Sender.(disconnecter); ok {
		d.Disconnect()
	}
}

func sendError(sender types.Sender, code, message, requestID string) {
	sender.SendFrame(types.PriorityHigh, "error", map[string]any{
		"code": code, "message": message, "request_id": requestID,
	})
}
