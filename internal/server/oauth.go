package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/desertthunder/ytscrobble/internal/models"
	"github.com/desertthunder/ytscrobble/internal/services"
	"github.com/desertthunder/ytscrobble/internal/shared"
	"golang.org/x/oauth2"
)

const (
	GoogleCallbackPath = "/callback"
	LastFMCallbackPath = "/lastfm/callback"
)

// CallbackResult carries the outcome of an authorization callback.
type CallbackResult[T any] struct {
	Value T
	err   error
}

func (c *CallbackResult[T]) Error() error {
	return c.err
}

// ExchangeFunc turns the callback query into credentials.
type ExchangeFunc[T any] func(ctx context.Context, query url.Values) (T, error)

// CallbackHandler handles the redirect at the end of a browser authorization flow.
//
// The state parameter is checked before exchanging. Only the first callback is processed,
// later ones are rejected.
type CallbackHandler[T any] struct {
	path        string
	state       string
	exchange    ExchangeFunc[T]
	resultChan  chan CallbackResult[T]
	once        sync.Once
	callbackHit bool
	mu          sync.Mutex
}

// NewCallbackHandler creates a handler for path. The state token should be cryptographically random.
func NewCallbackHandler[T any](path, state string, exchange ExchangeFunc[T]) *CallbackHandler[T] {
	return &CallbackHandler[T]{
		path:       path,
		state:      state,
		exchange:   exchange,
		resultChan: make(chan CallbackResult[T], 1),
	}
}

// NewGoogleCallback exchanges the authorization code for a YouTube Music grant.
func NewGoogleCallback(cfg *oauth2.Config, state string) *CallbackHandler[models.YouTubeCredentials] {
	return NewCallbackHandler(GoogleCallbackPath, state, func(ctx context.Context, q url.Values) (models.YouTubeCredentials, error) {
		code := q.Get("code")
		if code == "" {
			return models.YouTubeCredentials{}, fmt.Errorf("%w: authorization failed: %s - %s",
				shared.ErrAuthFailed, q.Get("error"), q.Get("error_description"))
		}
		return services.ExchangeGoogleCode(ctx, cfg, code)
	})
}

// NewLastFMCallback exchanges the token Last.fm appends to the callback URL for a session key.
func NewLastFMCallback(auth *services.LastFMAuth, state string) *CallbackHandler[models.LastFMCredentials] {
	return NewCallbackHandler(LastFMCallbackPath, state, func(_ context.Context, q url.Values) (models.LastFMCredentials, error) {
		token := q.Get("token")
		if token == "" {
			return models.LastFMCredentials{}, fmt.Errorf("%w: callback carried no token", shared.ErrAuthFailed)
		}
		return auth.Session(token)
	})
}

// Routes returns the HTTP routes this handler serves.
func (h *CallbackHandler[T]) Routes() []string {
	return []string{h.path}
}

// ServeHTTP validates the state parameter, runs the exchange and publishes the result.
func (h *CallbackHandler[T]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.callbackHit {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.callbackHit = true
	h.mu.Unlock()

	query := r.URL.Query()
	if query.Get("state") != h.state {
		h.Send(CallbackResult[T]{err: fmt.Errorf("%w: invalid state parameter", shared.ErrAuthFailed)})
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	value, err := h.exchange(r.Context(), query)
	if err != nil {
		h.Send(CallbackResult[T]{err: err})
		http.Error(w, "Authorization failed", http.StatusBadGateway)
		return
	}

	h.Send(CallbackResult[T]{Value: value})

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, successPage)
}

// Send publishes the result (only once).
func (h *CallbackHandler[T]) Send(result CallbackResult[T]) {
	h.once.Do(func() {
		h.resultChan <- result
		close(h.resultChan)
	})
}

// Result returns the result channel for receiving flow completion.
//
// Channel will receive exactly one result and then be closed.
func (h *CallbackHandler[T]) Result() <-chan CallbackResult[T] {
	return h.resultChan
}

const successPage = `
<!DOCTYPE html>
<html>
<head>
    <title>Authorization Successful</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #d51007; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>✓ Authorization Successful</h1>
        <p>You can close this window and return to the terminal.</p>
    </div>
</body>
</html>
`
