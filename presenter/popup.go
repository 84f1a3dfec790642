package presenter

import (
	"context"
	"embed"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jrsteele09/go-ride-session/internal/config"
	"github.com/jrsteele09/go-ride-session/internal/errors"
	"github.com/jrsteele09/go-ride-session/oauthflow"
	"github.com/rs/zerolog"
)

// Loopback routes served while a popup login is in progress.
const (
	RouteCallback = "/callback"
	RouteMessage  = "/message"
	RouteClosed   = "/closed"
)

const maxMessageBytes = 64 << 10

//go:embed templates/*
var templateFiles embed.FS

// Popup presents the authorization URL in a browser window and listens on a
// loopback address for the provider redirect and for messages posted by the
// landing page.
type Popup struct {
	addr    string
	opener  Opener
	logger  zerolog.Logger
	appName string
	env     string

	page     *template.Template
	surfaces *registry
	router   chi.Router

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	baseURL  string
}

func NewPopup(cfg config.EnvConfig, opts ...Option) (*Popup, error) {
	o := newOptions(append([]Option{func(o *options) {
		o.appName = cfg.GetAppName()
		o.env = cfg.GetEnv()
	}}, opts...))

	page, err := parseTemplate("callback.html")
	if err != nil {
		return nil, errors.Wrapf(err, "[NewPopup] parsing callback page")
	}

	p := &Popup{
		addr:     cfg.GetCallbackAddr(),
		opener:   o.opener,
		logger:   o.logger.With().Str("component", "presenter").Str("presenter", "popup").Logger(),
		appName:  o.appName,
		env:      o.env,
		page:     page,
		surfaces: newRegistry(),
	}
	p.router = p.routes()
	return p, nil
}

func (p *Popup) Platform() string {
	return config.PlatformWeb
}

// RedirectURI starts the loopback listener if needed and returns its callback URL.
func (p *Popup) RedirectURI(ctx context.Context) (string, error) {
	base, err := p.start()
	if err != nil {
		return "", err
	}
	return base + RouteCallback, nil
}

func (p *Popup) Present(ctx context.Context, authURL string) (oauthflow.Surface, error) {
	if _, err := p.start(); err != nil {
		return nil, errors.Wrapf(errors.ErrPopupBlocked, "[Popup Present] %v", err)
	}
	s := p.surfaces.open(stateOf(authURL))
	if err := p.opener(authURL); err != nil {
		_ = s.Close()
		return nil, errors.Wrapf(errors.ErrPopupBlocked, "[Popup Present] %v", err)
	}
	p.logger.Debug().Msg("popup opened")
	return s, nil
}

// Handler exposes the loopback routes without starting a listener.
func (p *Popup) Handler() http.Handler {
	return p.router
}

// Shutdown stops the loopback listener and dismisses any open surfaces.
func (p *Popup) Shutdown(ctx context.Context) error {
	for _, s := range p.surfaces.all() {
		s.markClosed()
	}

	p.mu.Lock()
	server := p.server
	p.server = nil
	p.listener = nil
	p.baseURL = ""
	p.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (p *Popup) start() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.server != nil {
		return p.baseURL, nil
	}

	listener, err := net.Listen("tcp", p.addr)
	if err != nil {
		return "", errors.Wrapf(err, "[Popup start] listening on %s", p.addr)
	}
	p.listener = listener
	p.baseURL = "http://" + listener.Addr().String()
	p.server = &http.Server{
		Handler:           p.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func(server *http.Server, l net.Listener) {
		if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error().Err(err).Msg("loopback server stopped")
		}
	}(p.server, listener)

	p.logger.Info().Str("addr", p.baseURL).Msg("loopback callback server listening")
	return p.baseURL, nil
}

func (p *Popup) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(p.loggingMiddleware)
	r.Use(frameSecurityMiddleware)

	r.Get(RouteCallback, p.CallbackHandler())
	r.Group(func(r chi.Router) {
		r.Use(p.sameOriginMiddleware)
		r.Post(RouteMessage, p.MessageHandler())
		r.Post(RouteClosed, p.ClosedHandler())
	})
	return r
}

// sameOriginMiddleware only lets through requests made by a page this
// listener served. Browsers always send Origin on a POST; requests without it
// must carry Sec-Fetch-Site: same-origin.
func (p *Popup) sameOriginMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.sameOrigin(r) {
			p.logger.Warn().
				Str("origin", r.Header.Get("Origin")).
				Str("path", r.URL.Path).
				Msg("rejecting cross-origin request")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *Popup) sameOrigin(r *http.Request) bool {
	if origin := r.Header.Get("Origin"); origin != "" {
		p.mu.Lock()
		base := p.baseURL
		p.mu.Unlock()
		return base != "" && origin == base
	}
	return r.Header.Get("Sec-Fetch-Site") == "same-origin"
}

func (p *Popup) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.env == "DEV" {
			p.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("loopback request")
		}
		next.ServeHTTP(w, r)
	})
}

func frameSecurityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func parseTemplate(name string) (*template.Template, error) {
	content, err := fs.ReadFile(templateFiles, "templates/"+name)
	if err != nil {
		return nil, err
	}
	return template.New(name).Parse(string(content))
}
