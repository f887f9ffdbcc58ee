// Package services implements the upstream clients used by the sync engine.
//
// # YouTube Music
//
// [YouTubeService] communicates with the FastAPI proxy server (music/) wrapping ytmusicapi.
// The proxy handles YouTube Music authentication complexities: the browser.json path is sent
// via the X-Auth-File header, or a Google OAuth bearer token is refreshed through
// [oauth2.Config] and forwarded.
//
// # Last.fm
//
// [LastFMService] signs track.scrobble calls with the application keys and the user's session
// key. [LastFMAuth] runs the desktop token flow that produces the session key.
//
// # Resilience
//
// Every upstream call passes a token bucket limiter and a circuit breaker. Transient failures
// (timeouts, 5xx, rate limits) trip the breaker; auth and rejection errors do not.
//
// # Error Handling
//
// Errors wrap the sentinels from the shared package so callers can classify them with
// [shared.Categorize]:
//   - [shared.ErrAuthFailed] : 401/403 from the proxy, Last.fm codes 4, 9, 10, 14, 26
//   - [shared.ErrRateLimited] : 429 from the proxy, Last.fm code 29
//   - [shared.ErrUpstreamUnavailable] : 5xx, network failures, open breaker
//   - [shared.ErrTimeout] : deadline exceeded
//   - [shared.ErrSubmitRejected] : a scrobble Last.fm refused or ignored
package services
