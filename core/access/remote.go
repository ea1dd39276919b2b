package access

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/gardenbase/core/logger"
)

// RemoteVerifier asks an identity API to verify tokens. The API is called with the
// token as bearer and answers http.StatusOK with the identity as JSON,
// {"user_id": "...", "email": "..."}. Any other status rejects the token.
type RemoteVerifier struct {
	URL    string
	Client *http.Client
}

// NewRemoteVerifier returns a verifier for the identity API at url
func NewRemoteVerifier(url string) *RemoteVerifier {
	return &RemoteVerifier{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

// Verify implements Verifier
func (v *RemoteVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	rlog := logger.FromContext(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := v.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity request failed: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return nil, fmt.Errorf("%w: identity api returned %d", ErrUnauthorized, res.StatusCode)
	default:
		return nil, fmt.Errorf("identity api returned unexpected status %d", res.StatusCode)
	}

	identity := &Identity{}
	if err := json.NewDecoder(res.Body).Decode(identity); err != nil {
		return nil, fmt.Errorf("cannot decode identity: %w", err)
	}
	if len(identity.UserID) == 0 {
		rlog.Warnln("identity api returned an identity without user id")
		return nil, fmt.Errorf("%w: no user id", ErrUnauthorized)
	}
	return identity, nil
}
