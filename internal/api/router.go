package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/zlingapp/server-sub000/internal/auth"
	"github.com/zlingapp/server-sub000/internal/config"
	"github.com/zlingapp/server-sub000/internal/db"
	"github.com/zlingapp/server-sub000/internal/media"
	"github.com/zlingapp/server-sub000/internal/metrics"
	"github.com/zlingapp/server-sub000/internal/pubsub"
	"github.com/zlingapp/server-sub000/internal/voice"
)

const maxRequestBodyBytes = 1 << 20

// Server owns the HTTP surface and the realtime services behind it.
type Server struct {
	router *chi.Mux
	config *config.Config
	events *pubsub.Service
	voice  *voice.Service
	log    *slog.Logger
}

// NewServer builds the stores, services and routes. The media pool is
// passed in because its lifetime (bound ports) belongs to the caller.
func NewServer(cfg *config.Config, database *db.DB, pool *media.Pool, m *metrics.Metrics) (*Server, error) {
	users := db.NewUserStore(database)
	guilds := db.NewGuildStore(database)
	channels := db.NewChannelStore(database)
	messages := db.NewMessageStore(database)
	friends := db.NewFriendStore(database)
	invites := db.NewInviteStore(database)
	bots := db.NewBotStore(database)
	refreshTokens := db.NewRefreshTokenStore(database)

	tokens := auth.NewTokenService(cfg.Auth.TokenKey, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	events := pubsub.NewService(m)
	voiceService := voice.NewService(pool, events, m)

	ips, err := NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}

	authHandler := NewAuthHandler(users, refreshTokens, tokens)
	userHandler := NewUserHandler(users, channels, friends)
	guildHandler := NewGuildHandler(guilds, invites, events)
	channelHandler := NewChannelHandler(channels, guilds, events)
	messageHandler := NewMessageHandler(messages, channels, users, events)
	friendHandler := NewFriendHandler(friends, users, events)
	botHandler := NewBotHandler(bots, refreshTokens, tokens)
	eventsHandler := NewEventsHandler(tokens, events, cfg.Server.AllowedOrigins)
	voiceHandler := NewVoiceHandler(voiceService, channels, users, cfg.Server.AllowedOrigins)
	healthHandler := NewHealthHandler(database)

	r := chi.NewRouter()
	r.Use(slogRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(cfg.Server.AllowedOrigins))
	r.Use(securityHeadersMiddleware)
	r.Use(maxBodySizeMiddleware(maxRequestBodyBytes))
	r.Use(requestMetrics(m))

	r.Get("/health", healthHandler.Check)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	// Credential endpoints get a tight budget; everything here either
	// grinds bcrypt or mints tokens.
	authLimiter := NewRateLimiter(10, time.Minute)
	r.Group(func(r chi.Router) {
		r.Use(rateLimitMiddleware(authLimiter, ips))
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/reissue", authHandler.Reissue)
	})

	// Websocket dials authenticate inside the handler, not via bearer
	// headers, since browsers cannot set those on upgrade requests.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(30, time.Minute))
		r.Get("/events/ws", eventsHandler.ServeWS)
		r.Get("/voice/ws", voiceHandler.ServeWS)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireAuth(tokens))

		r.Post("/auth/logout", authHandler.Logout)

		r.Get("/users/me", userHandler.GetMe)
		r.Patch("/users/me", userHandler.UpdateMe)
		r.Get("/users/{id}", userHandler.GetByID)
		r.Get("/users/{id}/dm", userHandler.GetDMChannel)

		r.Post("/guilds", guildHandler.Create)
		r.Get("/guilds", guildHandler.List)
		r.Delete("/guilds/{id}", guildHandler.Delete)
		r.Post("/guilds/{id}/leave", guildHandler.Leave)
		r.Get("/guilds/{id}/members", guildHandler.ListMembers)
		r.Get("/guilds/{id}/channels", channelHandler.ListByGuild)
		r.Post("/guilds/{id}/channels", channelHandler.Create)
		r.Post("/guilds/{id}/invites", guildHandler.CreateInvite)
		r.Get("/guilds/{id}/invites", guildHandler.ListInvites)
		r.Delete("/guilds/{id}/invites/{code}", guildHandler.DeleteInvite)
		r.Post("/invites/{code}/join", guildHandler.JoinByInvite)

		r.Delete("/channels/{id}", channelHandler.Delete)
		r.Get("/channels/{id}/messages", messageHandler.History)
		r.Post("/channels/{id}/messages", messageHandler.Create)
		r.Delete("/channels/{id}/messages/{mid}", messageHandler.Delete)
		r.Post("/channels/{id}/typing", messageHandler.Typing)

		r.Get("/friends", friendHandler.List)
		r.Get("/friends/requests", friendHandler.ListRequests)
		r.Post("/friends/requests", friendHandler.CreateRequest)
		r.Post("/friends/requests/{uid}/accept", friendHandler.AcceptRequest)
		r.Delete("/friends/requests/{uid}", friendHandler.DeleteRequest)
		r.Delete("/friends/{uid}", friendHandler.RemoveFriend)

		r.Post("/bots", botHandler.Create)
		r.Get("/bots", botHandler.List)
		r.Delete("/bots/{id}", botHandler.Delete)

		r.Get("/voice/join", voiceHandler.Join)
		r.Group(func(r chi.Router) {
			r.Use(voiceHandler.requireRTCCredentials)
			r.Get("/voice/leave", voiceHandler.Leave)
			r.Get("/voice/peers", voiceHandler.Peers)
			r.Post("/voice/transport/create", voiceHandler.CreateTransport)
			r.Post("/voice/transport/connect", voiceHandler.ConnectTransport)
			r.Post("/voice/produce", voiceHandler.Produce)
			r.Post("/voice/consume", voiceHandler.Consume)
		})
	})

	return &Server{
		router: r,
		config: cfg,
		events: events,
		voice:  voiceService,
		log:    slog.With("component", "api"),
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Shutdown tears down the realtime surfaces: every event socket, then
// every voice session. Stopping the HTTP listener is the caller's job.
func (s *Server) Shutdown() {
	s.events.Shutdown()
	s.voice.Shutdown()
}

func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !originAllowed(origin, allowedOrigins) {
				writeError(w, http.StatusForbidden, "origin not allowed")
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, RTC-Identity, RTC-Token")
			h.Set("Access-Control-Max-Age", "300")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// originAllowed accepts configured origins plus loopback, which keeps
// local tooling working against a server with an empty allow list.
func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if originMatchesAllowed(origin, a) {
			return true
		}
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// originMatchesAllowed compares an Origin header value against one allow
// list entry. A trailing * matches any suffix, which is how desktop
// builds with app:// origins get in.
func originMatchesAllowed(origin, allowed string) bool {
	if strings.HasSuffix(allowed, "*") {
		return strings.HasPrefix(origin, strings.TrimSuffix(allowed, "*"))
	}
	return strings.EqualFold(origin, allowed)
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func maxBodySizeMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
