package presenter

import (
	"io"
	"net/http"

	"github.com/jrsteele09/go-ride-session/oauthmodel"
)

type callbackPage struct {
	AppName     string
	State       string
	Delivered   bool
	Failed      bool
	Message     string
	MessagePath string
	ClosedPath  string
}

// CallbackHandler is the provider redirect landing page. Query-string
// payloads are delivered here; fragment payloads are posted back to
// RouteMessage by the page itself.
func (p *Popup) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := callbackPage{
			AppName:     p.appName,
			State:       r.URL.Query().Get("state"),
			MessagePath: RouteMessage,
			ClosedPath:  RouteClosed,
		}

		payload, err := oauthmodel.ParseValues(r.URL.Query())
		if err == nil {
			page.State = payload.State
			page.Delivered = p.deliver(payload)
			if payload.Kind() == oauthmodel.PayloadError {
				page.Failed = true
				page.Message = firstNonEmpty(payload.ErrorDescription, payload.Error)
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := p.page.Execute(w, page); err != nil {
			p.logger.Error().Err(err).Msg("rendering callback page")
		}
	}
}

// MessageHandler accepts {"type":"auth-complete","authData":{...}} from the
// landing page. Payloads without a state are routed by the state query
// parameter the page adds.
func (p *Popup) MessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
		if err != nil {
			http.Error(w, "unreadable body", http.StatusBadRequest)
			return
		}
		payload, err := oauthmodel.ParseMessage(raw)
		if err != nil {
			p.logger.Warn().Err(err).Msg("ignoring popup message")
			http.Error(w, "not an auth message", http.StatusBadRequest)
			return
		}
		if !p.deliverTo(firstNonEmpty(payload.State, r.URL.Query().Get("state")), payload) {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ClosedHandler receives the landing page's unload beacon.
func (p *Popup) ClosedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s := p.surfaces.lookup(r.URL.Query().Get("state")); s != nil {
			s.markClosed()
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (p *Popup) deliver(payload oauthmodel.ExchangePayload) bool {
	return p.deliverTo(payload.State, payload)
}

func (p *Popup) deliverTo(state string, payload oauthmodel.ExchangePayload) bool {
	s := p.surfaces.lookup(state)
	if s == nil {
		p.logger.Warn().Msg("no login waiting for this payload")
		return false
	}
	if !s.deliver(payload) {
		p.logger.Warn().Msg("login is not accepting more payloads")
		return false
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
