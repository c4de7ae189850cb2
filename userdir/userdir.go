// Package userdir abstracts the user directory consulted before a session is
// created. The session service only needs an existence check; account
// management lives elsewhere in the cluster.
package userdir

import "context"

// Directory answers whether a user is known to the cluster.
type Directory interface {
	Exists(ctx context.Context, user string) (bool, error)
}
