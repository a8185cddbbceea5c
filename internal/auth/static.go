package auth

import "context"

// Static is an in-memory Authenticator built from a fixed list of
// plaintext passwords supplied by configuration. It is immutable after
// construction, so reads require no locking. Stat is a no-op: static
// deployments have no back-end to report traffic to.
type Static struct {
	store map[string]struct{}
}

// NewStatic builds a Static authenticator, hashing each plaintext
// password into its wire credential.
func NewStatic(passwords []string) *Static {
	store := make(map[string]struct{}, len(passwords))
	for _, p := range passwords {
		store[Derive(p)] = struct{}{}
	}
	return &Static{store: store}
}

// Auth implements Authenticator.
func (s *Static) Auth(_ context.Context, credential string) (bool, error) {
	if !ValidCredential(credential) {
		return false, nil
	}
	for stored := range s.store {
		if constantTimeEqual(stored, credential) {
			return true, nil
		}
	}
	return false, nil
}

// Stat implements Authenticator; static credential stores do not track
// traffic.
func (s *Static) Stat(_ context.Context, _ string, _, _ uint64) error {
	return nil
}
