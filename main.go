// Command chatpilot is the live chat monitor service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs migrations.
//   - Builds the chat source for the configured platform (YouTube or Twitch) and the
//     optional AI responder, greeter, shayari requests and Discord mirror.
//   - Runs the monitor, the optional auto-start poller and the OAuth token refreshers.
//   - Exposes the HTTP API with health, status, metrics, admin control and a live stream.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"github.com/onnwee/chatpilot/chat"
	"github.com/onnwee/chatpilot/compose"
	"github.com/onnwee/chatpilot/config"
	"github.com/onnwee/chatpilot/db"
	"github.com/onnwee/chatpilot/discord"
	"github.com/onnwee/chatpilot/greeter"
	"github.com/onnwee/chatpilot/oauth"
	"github.com/onnwee/chatpilot/responder"
	"github.com/onnwee/chatpilot/server"
	"github.com/onnwee/chatpilot/shayari"
	"github.com/onnwee/chatpilot/telemetry"
	"github.com/onnwee/chatpilot/twitchapi"
	"github.com/onnwee/chatpilot/youtubeapi"
)

// platform bundles what the monitor needs from one chat platform.
type platform struct {
	source       chat.Source
	resolver     chat.LiveResolver
	resolveVideo func(ctx context.Context, videoID string) (string, error)
	defaultID    string
	close        func() error
}

func main() {
	// local dev convenience only; production relies on real env
	_ = godotenv.Load(".env")

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	// tracing is optional; requires OTEL_EXPORTER_OTLP_ENDPOINT
	shutdown, err := telemetry.InitTracing("chatpilot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	migrate(database)

	tokens, err := db.NewTokens(database)
	if err != nil {
		slog.Error("token store init failed", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var p *platform
	switch cfg.Platform {
	case config.PlatformTwitch:
		p, err = twitchPlatform(ctx, cfg, tokens)
	default:
		p = youtubePlatform(ctx, cfg, tokens)
	}
	if err != nil {
		slog.Error("chat source init failed", slog.String("platform", cfg.Platform), slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if p.close == nil {
			return
		}
		if err := p.close(); err != nil {
			slog.Warn("failed to close chat source", slog.Any("err", err))
		}
	}()

	resp, err := responder.New(ctx, cfg)
	if err != nil {
		slog.Error("responder init failed", slog.Any("err", err))
		os.Exit(1)
	}
	if resp == nil {
		slog.Info("no responder configured; automated replies disabled")
	}

	m := chat.New(cfg, p.source, resp)
	broadcaster := chat.NewBroadcaster(64)
	m.Subscribe(chat.NewRecorder(database, cfg.Platform))
	m.Subscribe(broadcaster)
	if cfg.GreetEnabled {
		opts := greeter.Options{
			Templates:      cfg.GreetTemplates,
			MinInterval:    cfg.GreetMinInterval,
			SessionTimeout: cfg.GreetSessionTimeout,
		}
		if cfg.GreetAI {
			tiers := compose.Tiers{Premium: greeter.Premium, Standard: greeter.Standard, Simple: cfg.GreetTemplates}
			opts.Composer = compose.New(resp, tiers, compose.Options{
				Name:        "greeter",
				Timeout:     cfg.GreetAITimeout,
				MaxFailures: cfg.ComposeMaxFailures,
				Cooldown:    cfg.ComposeCooldown,
				MinLength:   5,
				CacheSize:   20,
				ReuseChance: 0.3,
			})
		}
		m.Subscribe(greeter.New(m, m.Gate(), opts))
	}
	if cfg.ShayariEnabled {
		c := compose.New(resp, shayari.Tiers, compose.Options{
			Name:        "shayari",
			Timeout:     cfg.ShayariAITimeout,
			MaxFailures: cfg.ComposeMaxFailures,
			Cooldown:    cfg.ComposeCooldown,
			MinLength:   20,
			CacheSize:   30,
			ReuseChance: 0.2,
		})
		m.Subscribe(shayari.New(m, m.Gate(), c, shayari.Options{
			Triggers:     cfg.ShayariTriggers,
			MinInterval:  cfg.ShayariMinInterval,
			UserCooldown: cfg.ShayariUserCooldown,
		}))
	}
	if cfg.DiscordMirrorChannelID != "" {
		mirror, err := discord.NewMirror(cfg.DiscordToken, cfg.DiscordMirrorChannelID, cfg.Platform, cfg.DiscordMirrorRate)
		if err != nil {
			slog.Warn("discord mirror disabled", slog.Any("err", err))
		} else {
			m.Subscribe(mirror)
		}
	}

	go func() {
		if err := m.Run(ctx); err != nil {
			slog.Error("chat monitor exited with error", slog.Any("err", err))
		}
	}()
	if cfg.AutoStart {
		go chat.StartAutoMonitor(ctx, m, p.resolver, cfg.AutoPollInterval)
	} else if p.defaultID != "" {
		if err := m.Start(p.defaultID); err != nil {
			slog.Warn("initial monitor start failed", slog.Any("err", err))
		}
	}

	startRefreshers(ctx, cfg, tokens)
	startPprof()

	h := server.NewHandlers(ctx, server.Deps{
		DB:           database,
		Config:       cfg,
		Monitor:      m,
		Pending:      m.Sender().Pending,
		Broadcaster:  broadcaster,
		Tokens:       tokens,
		ResolveVideo: p.resolveVideo,
	})
	go func() {
		if err := server.Start(ctx, server.NewMux(ctx, h), cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}

// setupLogging configures the default logger from LOG_LEVEL and LOG_FORMAT.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

// migrate applies versioned migrations, falling back to the idempotent schema.
func migrate(database *sql.DB) {
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func youtubePlatform(ctx context.Context, cfg *config.Config, tokens *db.Tokens) *platform {
	if err := cfg.ValidateYouTubeReady(); err != nil {
		slog.Warn("youtube oauth client not configured; reads will fail until it is", slog.Any("err", err))
	}
	svc := youtubeapi.New(cfg, tokens)
	p := &platform{
		source:   youtubeapi.NewLiveChat(svc),
		resolver: &youtubeapi.Resolver{Client: svc.Client, VideoID: cfg.YTVideoID},
		resolveVideo: func(ctx context.Context, videoID string) (string, error) {
			return youtubeapi.ResolveVideo(ctx, svc.Client, videoID)
		},
	}
	if cfg.YTVideoID != "" && !cfg.AutoStart {
		id, err := p.resolveVideo(ctx, cfg.YTVideoID)
		if err != nil {
			slog.Warn("could not resolve YT_VIDEO_ID", slog.String("video_id", cfg.YTVideoID), slog.Any("err", err))
		} else {
			p.defaultID = id
		}
	}
	return p
}

func twitchPlatform(ctx context.Context, cfg *config.Config, tokens *db.Tokens) (*platform, error) {
	token := cfg.TwitchOAuthToken
	if token == "" {
		tok, _, err := tokens.Load(ctx, "twitch")
		if err != nil {
			return nil, err
		}
		if tok != nil {
			token = tok.AccessToken
		}
	}
	if cfg.TwitchBotUsername == "" || token == "" {
		return nil, errors.New("twitch needs TWITCH_BOT_USERNAME and a bot token (TWITCH_OAUTH_TOKEN or /auth/twitch/start)")
	}
	src := twitchapi.NewIRCSource(cfg.TwitchBotUsername, token, 0)
	p := &platform{source: src, close: src.Close, defaultID: cfg.TwitchChannel}
	if cfg.AutoStart {
		ts, err := twitchapi.AppTokenSource(ctx, cfg.TwitchClientID, cfg.TwitchClientSecret, "", nil)
		if err != nil {
			slog.Warn("twitch auto start disabled", slog.Any("err", err))
		} else {
			p.resolver = &twitchapi.StreamResolver{
				Helix:   &twitchapi.HelixClient{Tokens: ts, ClientID: cfg.TwitchClientID},
				Channel: cfg.TwitchChannel,
			}
		}
	}
	return p, nil
}

// startRefreshers keeps stored user tokens fresh for whichever providers are configured.
func startRefreshers(ctx context.Context, cfg *config.Config, tokens *db.Tokens) {
	if oc, err := twitchapi.OAuthConfig(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURI, cfg.TwitchScopes); err == nil {
		oauth.StartRefresher(ctx, tokens, "twitch", 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (*oauth2.Token, error) {
			return twitchapi.Refresh(rctx, oc, refreshToken)
		})
	}
	if cfg.YTClientID != "" {
		svc := youtubeapi.New(cfg, tokens)
		oauth.StartRefresher(ctx, tokens, youtubeapi.Provider, 10*time.Minute, 20*time.Minute, svc.Refresh)
	}
}

// startPprof serves profiling endpoints when ENABLE_PPROF=1.
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	addr := os.Getenv("PPROF_ADDR")
	if addr == "" {
		addr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", addr))
		srv := &http.Server{
			Addr:              addr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
