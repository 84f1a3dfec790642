package oauthflow

import (
	"context"
	"time"

	"github.com/jrsteele09/go-ride-session/internal/errors"
	"github.com/jrsteele09/go-ride-session/internal/race"
	"github.com/jrsteele09/go-ride-session/oauthmodel"
)

// Signal indices, in the order they are raced.
const (
	signalMessage = iota
	signalPoll
	signalClosed
	signalTimeout
)

var signalNames = []string{"message", "poll", "closed", "timeout"}

// await races the ways a login can complete and returns the first payload.
// Losing signals are cancelled before it returns.
func (c *Controller) await(ctx context.Context, surface Surface, token string) (oauthmodel.ExchangePayload, error) {
	payload, idx, err := race.First(ctx,
		c.messageSignal(surface, token),
		c.pollSignal(token),
		c.closedSignal(surface, token),
		c.timeoutSignal(),
	)
	if idx >= 0 {
		c.logger.Debug().Str("signal", signalNames[idx]).Err(err).Msg("login race settled")
	}
	return payload, err
}

// messageSignal waits for a usable payload posted by the surface.
func (c *Controller) messageSignal(surface Surface, token string) race.Source[oauthmodel.ExchangePayload] {
	return func(ctx context.Context) (oauthmodel.ExchangePayload, error) {
		messages := surface.Messages()
		for {
			select {
			case <-ctx.Done():
				return oauthmodel.ExchangePayload{}, ctx.Err()
			case p, ok := <-messages:
				if !ok {
					messages = nil
					continue
				}
				if p.Kind() == oauthmodel.PayloadInvalid {
					c.logger.Warn().Msg("ignoring message without auth data")
					continue
				}
				if p.State != "" && p.State != token {
					c.logger.Warn().Msg("ignoring message for another login attempt")
					continue
				}
				return p, nil
			}
		}
	}
}

// pollSignal asks the backend every PollEveryTicks ticks whether the provider
// redirect has landed for this correlation token. Failed polls are retried on
// the next poll tick.
func (c *Controller) pollSignal(token string) race.Source[oauthmodel.ExchangePayload] {
	return func(ctx context.Context) (oauthmodel.ExchangePayload, error) {
		ticker := time.NewTicker(c.tick)
		defer ticker.Stop()

		for n := 0; ; n++ {
			select {
			case <-ctx.Done():
				return oauthmodel.ExchangePayload{}, ctx.Err()
			case <-ticker.C:
			}
			if n%c.pollEvery != 0 {
				continue
			}
			if p, ok := c.checkStatus(ctx, token); ok {
				return p, nil
			}
		}
	}
}

// closedSignal settles once the user dismisses the surface. After a grace
// period one last status check decides between success and abandonment.
func (c *Controller) closedSignal(surface Surface, token string) race.Source[oauthmodel.ExchangePayload] {
	return func(ctx context.Context) (oauthmodel.ExchangePayload, error) {
		select {
		case <-ctx.Done():
			return oauthmodel.ExchangePayload{}, ctx.Err()
		case <-surface.Closed():
		}
		c.logger.Debug().Msg("authentication surface closed")

		grace := time.NewTimer(c.closedGrace)
		defer grace.Stop()
		select {
		case <-ctx.Done():
			return oauthmodel.ExchangePayload{}, ctx.Err()
		case <-grace.C:
		}

		if p, ok := c.checkStatus(ctx, token); ok {
			return p, nil
		}
		if ctx.Err() != nil {
			return oauthmodel.ExchangePayload{}, ctx.Err()
		}
		return oauthmodel.ExchangePayload{}, errors.ErrFlowAbandoned
	}
}

func (c *Controller) timeoutSignal() race.Source[oauthmodel.ExchangePayload] {
	return func(ctx context.Context) (oauthmodel.ExchangePayload, error) {
		timer := time.NewTimer(c.tick * time.Duration(c.maxTicks))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return oauthmodel.ExchangePayload{}, ctx.Err()
		case <-timer.C:
			return oauthmodel.ExchangePayload{}, errors.ErrFlowTimeout
		}
	}
}

// checkStatus reports a payload once the backend holds credentials for token.
func (c *Controller) checkStatus(ctx context.Context, token string) (oauthmodel.ExchangePayload, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.backend.Status(reqCtx, token)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn().Err(err).Msg("auth status check failed")
		}
		return oauthmodel.ExchangePayload{}, false
	}
	if !resp.IsAuthenticated {
		return oauthmodel.ExchangePayload{}, false
	}
	if !resp.HasCredentials() {
		c.logger.Warn().Msg("auth status is authenticated but carries no credentials")
		return oauthmodel.ExchangePayload{}, false
	}
	bundle := resp.CredentialBundle
	return oauthmodel.ExchangePayload{Credentials: &bundle}, true
}
