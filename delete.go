package pinguard

import (
	"context"

	"github.com/pinguard/pinguard/internal/fanout"
	"github.com/pinguard/pinguard/internal/wire"
)

// Delete erases the caller's registration from every reachable realm.
// Delete is idempotent: a realm with no existing registration still
// reports success. It succeeds once RegisterThreshold realms confirm, the
// same bar Register itself requires to consider a registration durable.
func (c *Client) Delete(ctx context.Context) *DeleteError {
	cfg := c.configuration
	realms := cfg.Realms
	n := len(realms)

	if _, err := fanout.JoinAtLeastThreshold(ctx, n, cfg.RegisterThreshold,
		func(ctx context.Context, i int) (struct{}, error) {
			return struct{}{}, c.deleteOnRealm(ctx, realms[i])
		}, requestErrorPriority); err != nil {
		return deleteErrorFromRequest(err)
	}

	return nil
}

func (c *Client) deleteOnRealm(ctx context.Context, realm Realm) error {
	resp, err := c.makeRequest(ctx, realm, wire.SecretsRequest{
		Kind:   wire.DeleteKind,
		Delete: &wire.DeleteRequest{},
	})
	if err != nil {
		return err
	}
	if resp.Kind != wire.DeleteRespKind {
		return &requestError{kind: requestAssertion}
	}
	return nil
}
