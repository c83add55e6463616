package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
)

// ErrTransactionDied is returned when a client transaction completes
// without ever delivering a response.
var ErrTransactionDied = errors.New("sip transaction died")

// awaitResponse blocks until tx yields a final response, the transaction
// completes without one, or ctx is cancelled. Provisional (1xx) responses
// are skipped. It is the mechanical half of the Response Handler: reading
// the transaction, not interpreting it.
func awaitResponse(ctx context.Context, tx interface {
	Responses() <-chan *sip.Response
	Done() <-chan struct{}
}) (*sip.Response, error) {
	for {
		select {
		case res := <-tx.Responses():
			if res != nil && res.StatusCode < 200 {
				continue
			}
			return res, nil
		case <-tx.Done():
			return nil, ErrTransactionDied
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// challengeResponse computes the credentials header line for a 401/407
// challenge in res: "Authorization: ..." for a WWW-Authenticate challenge,
// "Proxy-Authorization: ..." for a Proxy-Authenticate one. The caller
// (retryWithAuth) re-issues the request with it. GIN re-registration
// authenticates the same way as ordinary SIP digest auth.
func challengeResponse(res *sip.Response, method, uri, username, password string) (string, error) {
	wwwAuth := res.GetHeader("WWW-Authenticate")
	header := "Authorization"
	if wwwAuth == nil {
		wwwAuth = res.GetHeader("Proxy-Authenticate")
		header = "Proxy-Authorization"
	}
	if wwwAuth == nil {
		return "", fmt.Errorf("%d response carried no authenticate header", res.StatusCode)
	}

	chal, err := digest.ParseChallenge(wwwAuth.Value())
	if err != nil {
		return "", fmt.Errorf("parsing digest challenge: %w", err)
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   method,
		URI:      uri,
		Username: username,
		Password: password,
	})
	if err != nil {
		return "", fmt.Errorf("computing digest credentials: %w", err)
	}

	return header + ": " + cred.String(), nil
}

// isAuthChallenge reports whether status is 401 or 407: handled entirely
// within the response path, not surfaced as an error to the control loop.
func isAuthChallenge(status int) bool {
	return status == sip.StatusUnauthorized || status == sip.StatusProxyAuthRequired
}
