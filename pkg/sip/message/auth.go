package message

import (
	"github.com/icholy/digest"
	"github.com/pkg/errors"
)

// Authorize answers a 401/407 challenge: it adds the matching Authorization
// or Proxy-Authorization header to req and increments its CSeq.
func Authorize(req, challenge *Message, username, password string) error {
	if req.kind != KindRequest {
		return ErrNotRequest
	}

	challengeHeader, authHeader := "WWW-Authenticate", "Authorization"
	if challenge.StatusCode() == 407 {
		challengeHeader, authHeader = "Proxy-Authenticate", "Proxy-Authorization"
	}

	raw, ok := challenge.Headers.Lookup(challengeHeader)
	if !ok {
		return ErrNoChallenge
	}
	chal, err := digest.ParseChallenge(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid challenge %q", raw)
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   req.Method(),
		URI:      req.RequestURI(),
		Username: username,
		Password: password,
	})
	if err != nil {
		return errors.Wrap(err, "compute digest")
	}

	req.Headers.Set(authHeader, cred.String())
	seq, method := req.CSeq()
	req.SetCSeq(seq+1, method)
	return nil
}

// NewChallenge returns a WWW-Authenticate value for realm and nonce.
func NewChallenge(realm, nonce string) string {
	chal := &digest.Challenge{Realm: realm, Nonce: nonce, Algorithm: "MD5"}
	return chal.String()
}

// Verify checks the Authorization header of req against the nonce the
// caller issued and the password of the user it names. It returns that
// user even when the check fails.
func Verify(req *Message, nonce string, password func(username string) (string, bool)) (string, bool) {
	raw, ok := req.Headers.Lookup("Authorization")
	if !ok {
		return "", false
	}
	cred, err := digest.ParseCredentials(raw)
	if err != nil || cred.Nonce != nonce {
		return "", false
	}
	secret, ok := password(cred.Username)
	if !ok {
		return cred.Username, false
	}

	want, err := digest.Digest(&digest.Challenge{
		Realm:     cred.Realm,
		Nonce:     cred.Nonce,
		Opaque:    cred.Opaque,
		Algorithm: cred.Algorithm,
	}, digest.Options{
		Method:   req.Method(),
		URI:      cred.URI,
		Username: cred.Username,
		Password: secret,
	})
	if err != nil {
		return cred.Username, false
	}
	return cred.Username, want.Response == cred.Response
}
