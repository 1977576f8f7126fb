package pinguard

import (
	"context"

	"github.com/pinguard/pinguard/internal/wire"
)

// Sender delivers a serialized ClientRequest to a realm and returns its
// response. The host owns the actual transport (HTTP, gRPC, or otherwise);
// this package never opens a socket itself. Any network error, timeout, or
// non-success status the host cannot otherwise classify should be
// returned as err; Client folds that into a Transient error.
type Sender interface {
	Send(ctx context.Context, realm Realm, req wire.ClientRequest) (wire.ClientResponse, error)
}

// TokenProvider supplies a fresh auth token for a realm. It must be safe
// for concurrent invocation; Client may request tokens for different
// realms concurrently. Client calls Token on every request and does not
// cache tokens; a host that wishes to avoid refetching caches them per
// realm id inside its own implementation.
//
// A (zero value, false) return means no token is available for that realm,
// which Client surfaces as InvalidAuth.
type TokenProvider interface {
	Token(ctx context.Context, realm RealmID) (wire.AuthToken, bool)
}
