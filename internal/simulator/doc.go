// Package simulator is a self-contained stand-in for the dashboard
// backend: identity endpoints issuing HS256 access tokens with the
// WS-identity claim layout, a bearer-authenticated device API backed by
// SQLite, and a websocket hub broadcasting per-device measurement
// events. It exists for local development and end-to-end tests of the
// client stack; it is not a production service.
package simulator
