package oauthflow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"hsexport/internal/logging"
	"hsexport/internal/model"
)

// Outcome is how the flow ended.
type Outcome string

const (
	OutcomeValid      Outcome = "valid"
	OutcomeRefreshed  Outcome = "refreshed"
	OutcomeAuthorized Outcome = "authorized"
)

// ErrListen means the callback listener could not be started.
var ErrListen = errors.New("callback listener failed")

// TokenManager is the part of tokens.Manager the flow drives.
type TokenManager interface {
	Tokens() model.TokenSet
	Expired() bool
	CanRefresh() bool
	Refresh(ctx context.Context) error
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) error
}

// Flow checks the stored tokens, refreshes them when expired, and otherwise
// runs the browser authorization-code flow against a local callback listener.
type Flow struct {
	Tokens     TokenManager
	ListenAddr string
	// Grace is how long the listener stays up after success so the page can render.
	Grace time.Duration
	// OpenBrowser is called with the start page URL; nil disables it.
	OpenBrowser func(url string) error

	once  sync.Once
	state string
	done  chan struct{}
	mu    sync.Mutex
}

// Check runs the non-interactive part of the flow. ok is false when an
// interactive authorization is required.
func (f *Flow) Check(ctx context.Context) (Outcome, bool) {
	ts := f.Tokens.Tokens()
	if ts.AccessToken == "" {
		logging.Info("auth_tokens_absent", nil)
		return "", false
	}
	if !f.Tokens.Expired() {
		logging.Info("auth_tokens_valid", map[string]any{"expires_at": ts.ExpiresAt})
		return OutcomeValid, true
	}
	if !f.Tokens.CanRefresh() {
		logging.Info("auth_tokens_expired", map[string]any{"refresh": false})
		return "", false
	}
	if err := f.Tokens.Refresh(ctx); err != nil {
		logging.Warn("auth_refresh_failed", map[string]any{"error": err.Error()})
		return "", false
	}
	return OutcomeRefreshed, true
}

// Run completes the whole flow.
func (f *Flow) Run(ctx context.Context) (Outcome, error) {
	if out, ok := f.Check(ctx); ok {
		return out, nil
	}
	if err := f.Interactive(ctx); err != nil {
		return "", err
	}
	return OutcomeAuthorized, nil
}

// Interactive serves the start page and callback until tokens are exchanged and
// persisted or ctx is cancelled. Failed exchanges can be retried from the start page.
func (f *Flow) Interactive(ctx context.Context) error {
	if err := f.init(); err != nil {
		return err
	}
	addr := f.ListenAddr
	if addr == "" {
		addr = ":3000"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrListen, err)
	}
	srv := &http.Server{Handler: f.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	start := "http://" + browserHost(ln.Addr()) + "/"
	fmt.Printf("\nOpen %s to authorize hsexport with HubSpot.\n\n", start)
	logging.Info("auth_listening", map[string]any{"addr": ln.Addr().String()})
	if f.OpenBrowser != nil {
		if err := f.OpenBrowser(start); err != nil {
			logging.Warn("browser_open_failed", map[string]any{"error": err.Error()})
		}
	}

	select {
	case <-f.done:
		grace := f.Grace
		t := time.NewTimer(grace)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
		shutdown(srv)
		return nil
	case err := <-errCh:
		shutdown(srv)
		return fmt.Errorf("%w: %w", ErrListen, err)
	case <-ctx.Done():
		shutdown(srv)
		return ctx.Err()
	}
}

// Handler serves GET / and GET /oauth-callback.
func (f *Flow) Handler() http.Handler {
	if err := f.init(); err != nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "failed to generate state", http.StatusInternalServerError)
		})
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", f.handleStart)
	mux.HandleFunc("/oauth-callback", f.handleCallback)
	return mux
}

// Done is closed once tokens have been exchanged and persisted.
func (f *Flow) Done() <-chan struct{} {
	_ = f.init()
	return f.done
}

func (f *Flow) init() error {
	var err error
	f.once.Do(func() {
		f.done = make(chan struct{})
		f.state, err = generateState()
	})
	if err == nil && f.state == "" {
		err = errors.New("oauth state unavailable")
	}
	return err
}

func (f *Flow) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	render(w, http.StatusOK, startPage, pageData{AuthURL: f.Tokens.AuthCodeURL(f.state)})
}

func (f *Flow) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		msg := e
		if d := q.Get("error_description"); d != "" {
			msg += ": " + d
		}
		logging.Warn("auth_callback_denied", map[string]any{"error": msg})
		render(w, http.StatusBadRequest, errorPage, pageData{Message: msg})
		return
	}
	if q.Get("state") != f.state {
		render(w, http.StatusBadRequest, errorPage, pageData{Message: "The authorization state did not match. Start again."})
		return
	}
	code := q.Get("code")
	if code == "" {
		render(w, http.StatusBadRequest, errorPage, pageData{Message: "No authorization code was received."})
		return
	}

	// serialize exchanges; a second callback after success is a no-op
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		render(w, http.StatusOK, successPage, pageData{})
		return
	default:
	}
	if err := f.Tokens.Exchange(r.Context(), code); err != nil {
		logging.Error("auth_exchange_failed", map[string]any{"error": err.Error()})
		render(w, http.StatusInternalServerError, errorPage, pageData{Message: err.Error()})
		return
	}
	logging.Info("auth_authorized", map[string]any{"expires_at": f.Tokens.Tokens().ExpiresAt})
	render(w, http.StatusOK, successPage, pageData{})
	close(f.done)
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// browserHost turns a listen address like [::]:3000 into localhost:3000.
func browserHost(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.String()
	}
	if tcp.IP.IsUnspecified() || tcp.IP.IsLoopback() {
		return fmt.Sprintf("localhost:%d", tcp.Port)
	}
	return tcp.String()
}
