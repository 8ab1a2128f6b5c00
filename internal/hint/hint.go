// Package hint persists the last active document id per owner so selection survives restarts.
package hint

import "context"

// Store loads and saves the last active document id under a key (the owner id).
// Load returns "" when nothing is stored.
type Store interface {
	Load(ctx context.Context, key string) (string, error)
	Save(ctx context.Context, key, id string) error
	Clear(ctx context.Context, key string) error
}
