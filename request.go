package pinguard

import (
	"context"

	"github.com/pinguard/pinguard/internal/noisesession"
	"github.com/pinguard/pinguard/internal/wire"
)

// maxHandshakeRetries bounds the automatic re-handshake spec section 4.3
// allows after a MissingSession/SessionError response: one retry per
// logical request, further failures surface as Transient.
const maxHandshakeRetries = 1

// makeRequest implements the request pipeline of spec section 4.4: resolve
// or establish a session honoring the forward-secrecy rule, attach an auth
// token, dispatch via the host Sender, and classify the result.
func (c *Client) makeRequest(ctx context.Context, realm Realm, req wire.SecretsRequest) (wire.SecretsResponse, error) {
	token, ok := c.tokenProvider.Token(ctx, realm.ID)
	if !ok {
		return wire.SecretsResponse{}, &requestError{kind: requestInvalidAuth}
	}

	for attempt := 0; attempt <= maxHandshakeRetries; attempt++ {
		sess, ok := c.sessions.Get(realm.ID)
		established := ok && sess.State() == noisesession.Established

		if !established {
			resp, payload, err := c.establishAndMaybeSend(ctx, realm, token, req)
			if err != nil {
				return wire.SecretsResponse{}, err
			}
			if payload != nil {
				return *payload, nil
			}
			// HandshakeOnly path: session is now established; fall
			// through to send the real request over transport.
			_ = resp
			sess, _ = c.sessions.Get(realm.ID)
		}

		resp, err := c.sendOverTransport(ctx, realm, token, sess, req)
		switch {
		case err == nil:
			return resp, nil
		case isMissingOrSessionError(err):
			c.sessions.Discard(realm.ID)
			continue
		default:
			return wire.SecretsResponse{}, err
		}
	}

	return wire.SecretsResponse{}, &requestError{kind: requestTransient}
}

// errMissingOrSessionError is a sentinel wrapped to signal the pipeline
// should retry with a fresh handshake rather than fail outright.
type errMissingOrSessionError struct{}

func (errMissingOrSessionError) Error() string { return "pinguard: session missing or invalid" }

func isMissingOrSessionError(err error) bool {
	_, ok := err.(errMissingOrSessionError)
	return ok
}

// establishAndMaybeSend opens a new session. When req does not require
// forward secrecy, it piggy-backs req on the handshake message itself and
// returns the decoded response directly (payload != nil). When req does
// require forward secrecy, it sends a HandshakeOnly request and returns
// (resp, nil, nil) so the caller sends the real request over the now
// established transport.
func (c *Client) establishAndMaybeSend(ctx context.Context, realm Realm, token wire.AuthToken, req wire.SecretsRequest) (wire.ClientResponse, *wire.SecretsResponse, error) {
	lock := c.sessions.HandshakeLock(realm.ID)
	lock.Lock()
	defer lock.Unlock()

	if req.Kind.NeedsForwardSecrecy() {
		sess, msg, err := noisesession.StartHandshake(realm.PublicKey)
		if err != nil {
			return wire.ClientResponse{}, nil, &requestError{kind: requestAssertion}
		}

		clientReq := wire.ClientRequest{
			Realm:     realm.ID,
			AuthToken: token,
			SessionID: sess.ID,
			Kind:      wire.HandshakeOnlyKind,
			Encrypted: wire.NoiseRequest{Handshake: msg},
		}

		resp, err := c.sender.Send(ctx, realm, clientReq)
		if err != nil {
			return wire.ClientResponse{}, nil, &requestError{kind: requestTransient}
		}

		if err := statusError(resp.Status); err != nil {
			return wire.ClientResponse{}, nil, err
		}

		if _, err := sess.FinishHandshake(resp.Response.Handshake, resp.Response.SessionLifetime); err != nil {
			return wire.ClientResponse{}, nil, &requestError{kind: requestAssertion}
		}

		c.sessions.Put(realm.ID, sess)
		return resp, nil, nil
	}

	payload, err := wire.Marshal(req)
	if err != nil {
		return wire.ClientResponse{}, nil, &requestError{kind: requestAssertion}
	}

	sess, msg, err := noisesession.StartHandshakeWithPayload(realm.PublicKey, payload)
	if err != nil {
		return wire.ClientResponse{}, nil, &requestError{kind: requestAssertion}
	}

	clientReq := wire.ClientRequest{
		Realm:     realm.ID,
		AuthToken: token,
		SessionID: sess.ID,
		Kind:      wire.SecretsRequestKind,
		Encrypted: wire.NoiseRequest{Handshake: msg},
	}

	resp, err := c.sender.Send(ctx, realm, clientReq)
	if err != nil {
		return wire.ClientResponse{}, nil, &requestError{kind: requestTransient}
	}

	if err := statusError(resp.Status); err != nil {
		return wire.ClientResponse{}, nil, err
	}

	respPayload, err := sess.FinishHandshake(resp.Response.Handshake, resp.Response.SessionLifetime)
	if err != nil {
		return wire.ClientResponse{}, nil, &requestError{kind: requestAssertion}
	}
	c.sessions.Put(realm.ID, sess)

	var decoded wire.SecretsResponse
	if err := wire.Unmarshal(respPayload, &decoded); err != nil {
		return wire.ClientResponse{}, nil, &requestError{kind: requestAssertion}
	}

	return resp, &decoded, nil
}

func (c *Client) sendOverTransport(ctx context.Context, realm Realm, token wire.AuthToken, sess *noisesession.Session, req wire.SecretsRequest) (wire.SecretsResponse, error) {
	payload, err := wire.Marshal(req)
	if err != nil {
		return wire.SecretsResponse{}, &requestError{kind: requestAssertion}
	}

	ciphertext, err := sess.Encrypt(payload)
	if err != nil {
		return wire.SecretsResponse{}, errMissingOrSessionError{}
	}

	clientReq := wire.ClientRequest{
		Realm:     realm.ID,
		AuthToken: token,
		SessionID: sess.ID,
		Kind:      wire.SecretsRequestKind,
		Encrypted: wire.NoiseRequest{Ciphertext: ciphertext},
	}

	resp, err := c.sender.Send(ctx, realm, clientReq)
	if err != nil {
		return wire.SecretsResponse{}, &requestError{kind: requestTransient}
	}

	switch resp.Status {
	case wire.StatusMissingSession, wire.StatusSessionError:
		return wire.SecretsResponse{}, errMissingOrSessionError{}
	}

	if err := statusError(resp.Status); err != nil {
		return wire.SecretsResponse{}, err
	}

	plaintext, err := sess.Decrypt(resp.Response.Ciphertext)
	if err != nil {
		return wire.SecretsResponse{}, errMissingOrSessionError{}
	}

	var decoded wire.SecretsResponse
	if err := wire.Unmarshal(plaintext, &decoded); err != nil {
		return wire.SecretsResponse{}, &requestError{kind: requestAssertion}
	}

	if responseMatchesRequest(req.Kind, decoded.Kind) {
		return decoded, nil
	}

	return wire.SecretsResponse{}, &requestError{kind: requestAssertion}
}

func statusError(status wire.ClientResponseStatus) error {
	switch status {
	case wire.StatusOk:
		return nil
	case wire.StatusInvalidAuth:
		return &requestError{kind: requestInvalidAuth}
	case wire.StatusUnavailable:
		return &requestError{kind: requestTransient}
	case wire.StatusMissingSession, wire.StatusSessionError:
		return errMissingOrSessionError{}
	case wire.StatusDecodingError:
		return &requestError{kind: requestAssertion}
	default:
		return &requestError{kind: requestAssertion}
	}
}

func responseMatchesRequest(reqKind wire.SecretsRequestKind, respKind wire.SecretsResponseKind) bool {
	switch reqKind {
	case wire.Register1Kind:
		return respKind == wire.Register1RespKind
	case wire.Register2Kind:
		return respKind == wire.Register2RespKind
	case wire.Recover1Kind:
		return respKind == wire.Recover1RespKind
	case wire.Recover2Kind:
		return respKind == wire.Recover2RespKind
	case wire.DeleteKind:
		return respKind == wire.DeleteRespKind
	default:
		return false
	}
}
