package auth

import "context"

// Composite dispatches Auth to each backend in order, succeeding as
// soon as one returns true, and dispatches Stat to the first backend
// that recognizes the credential. The config-file store is expected to
// come first so the remote store is only consulted for credentials the
// local list does not carry.
type Composite struct {
	backends []Authenticator
}

// NewComposite builds a Composite trying backends in the given order.
func NewComposite(backends ...Authenticator) *Composite {
	return &Composite{backends: backends}
}

// Auth implements Authenticator.
func (c *Composite) Auth(ctx context.Context, credential string) (bool, error) {
	for _, b := range c.backends {
		ok, err := b.Auth(ctx, credential)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Stat implements Authenticator. It re-checks Auth on each backend (in
// order) to find the one that owns the credential, then forwards the
// stat update to it. If none recognize the credential, it returns
// ErrUserNotFound.
func (c *Composite) Stat(ctx context.Context, credential string, upload, download uint64) error {
	for _, b := range c.backends {
		ok, err := b.Auth(ctx, credential)
		if err != nil {
			return err
		}
		if ok {
			return b.Stat(ctx, credential, upload, download)
		}
	}
	return ErrUserNotFound
}
