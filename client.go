package pinguard

import (
	"github.com/pinguard/pinguard/internal/noisesession"
)

// Client is the entry point of this package: it holds a Configuration, a
// set of previous configurations to fall back to during recovery, and the
// host-supplied Sender/TokenProvider collaborators. A Client exclusively
// owns its session state for its configured realms; the host must keep
// its Sender and TokenProvider alive for the Client's lifetime.
type Client struct {
	configuration         Configuration
	previousConfigurations []Configuration
	sender                Sender
	tokenProvider         TokenProvider

	sessions *noisesession.Table
}

// NewClient constructs a Client. previousConfigurations, if non-empty, are
// tried in order during recovery after the current configuration reports
// NotRegistered, so that migrating a realm set or threshold doesn't
// strand existing registrations.
func NewClient(configuration Configuration, previousConfigurations []Configuration, tokenProvider TokenProvider, sender Sender) (*Client, error) {
	if err := configuration.verify(); err != nil {
		return nil, err
	}
	for i := range previousConfigurations {
		if err := previousConfigurations[i].verify(); err != nil {
			return nil, err
		}
	}

	return &Client{
		configuration:           configuration,
		previousConfigurations:  previousConfigurations,
		sender:                  sender,
		tokenProvider:           tokenProvider,
		sessions:                noisesession.NewTable(),
	}, nil
}

// Destroy discards all session state. The Client must not be used
// afterward.
func (c *Client) Destroy() {
	c.sessions = noisesession.NewTable()
}

func realmPublicKey(realms []Realm, id RealmID) []byte {
	for _, r := range realms {
		if r.ID == id {
			return r.PublicKey
		}
	}
	return nil
}

func findRealm(realms []Realm, id RealmID) (Realm, bool) {
	for _, r := range realms {
		if r.ID == id {
			return r, true
		}
	}
	return Realm{}, false
}
