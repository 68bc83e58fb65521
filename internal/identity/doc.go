// Package identity resolves connection credentials to user IDs.
//
// # Overview
//
// During the websocket handshake the gateway collects the Authorization,
// X-API-Key, and X-Client-Key headers into a Credentials value and asks a
// Resolver for the user ID. Two resolvers exist:
//
//   - HTTPResolver: POSTs the credentials to an external identity service
//     and reads {"user_id": "..."} from the response.
//   - JWTResolver: verifies the bearer token locally as an HS256 JWT and
//     uses the "sub" claim. Selected when no identity service URL is
//     configured.
//
// # Error Handling
//
// Every failure mode — unreachable service, non-2xx status, malformed
// response, missing user_id, invalid token — collapses to ErrNoIdentity.
// The gateway treats all of them identically: the connection is refused
// with a single authentication error. Details are logged, never sent to
// the client.
package identity
