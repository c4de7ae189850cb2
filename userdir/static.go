package userdir

import "context"

// Static is a fixed in-memory Directory used by tests and single-node
// deployments.
type Static struct {
	users map[string]struct{}
}

var _ Directory = (*Static)(nil)

func NewStatic(users ...string) *Static {
	m := make(map[string]struct{}, len(users))
	for _, u := range users {
		m[u] = struct{}{}
	}
	return &Static{users: m}
}

func (s *Static) Exists(ctx context.Context, user string) (bool, error) {
	_, ok := s.users[user]
	return ok, nil
}
