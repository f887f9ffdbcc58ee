// Package server provides HTTP routing, authorization callbacks and the daemon's health endpoints.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Authorization Callbacks
//
// [CallbackHandler] receives the browser redirect at the end of an authorization flow.
// [NewGoogleCallback] exchanges a Google OAuth code for a YouTube Music grant and
// [NewLastFMCallback] exchanges a Last.fm token for a session key.
//
// The handler validates the state parameter, runs the exchange and sends the result through a channel.
// It only processes one callback. The setup commands start a temporary [Server] on the configured
// address, wait for the result and shut it down.
//
// # Daemon Endpoints
//
// [NewDaemonRouter] serves /healthz ([HealthHandler]) and /metrics. [Server.Serve] follows the
// suture service signature so the daemon supervises it next to the batch scheduler.
package server
