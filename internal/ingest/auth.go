package ingest

import (
	"context"
	"errors"

	"hsexport/internal/hubspot"
	"hsexport/internal/logging"
	"hsexport/internal/tokens"
)

// Refresher renews the credentials a hubspot.Client reads per request.
type Refresher interface {
	Refresh(ctx context.Context) error
	CanRefresh() bool
}

// withAuthRetry runs fn, and when it fails with an expired token refreshes once and runs it again.
// A failed refresh is reported as a transport error.
func withAuthRetry(ctx context.Context, r Refresher, op string, fn func() error) error {
	err := fn()
	if err == nil || !hubspot.IsAuthExpired(err) || r == nil || !r.CanRefresh() {
		return err
	}
	logging.Warn("auth_expired", map[string]any{"op": op})
	if rerr := r.Refresh(ctx); rerr != nil {
		if !errors.Is(rerr, tokens.ErrPersistFailed) {
			return &hubspot.APIError{Kind: hubspot.KindTransport, Endpoint: op, Message: "token refresh failed", Err: rerr}
		}
		logging.Warn("auth_retry_with_unsaved_tokens", map[string]any{"op": op, "error": rerr.Error()})
	}
	return fn()
}
