// Package auth verifies operator bearer tokens.
//
// Tokens are JWTs signed with HS256 (shared secret) or RS256 (PEM public
// key) carrying a "roles" claim. A viewer receives telemetry only; a
// controller may also command the vehicle. Browsers cannot set headers on a
// WebSocket upgrade, so the token is also accepted as the "token" query
// parameter.
package auth
