package auth

import "github.com/pkg/errors"

// ErrUnauthorized marks a request from a user outside the authorization set.
var ErrUnauthorized = errors.New("unauthorized")

type Repository interface {
	LoadAll() ([]int64, error)
}

// Service answers whether a user may talk to the bot. The set is fixed at
// construction; a Service without a set lets everyone in. Safe for
// concurrent reads.
type Service struct {
	allowedUsers map[int64]struct{}
}

// Unrestricted returns a Service that allows every user.
func Unrestricted() *Service { return &Service{} }

// NewWithRepo builds the set from the repository plus the ids given on the
// environment. With neither source the service is unrestricted.
func NewWithRepo(repo Repository, initial []int64) (*Service, error) {
	if repo == nil && len(initial) == 0 {
		return Unrestricted(), nil
	}
	s := &Service{allowedUsers: make(map[int64]struct{}, len(initial))}
	if repo != nil {
		ids, err := repo.LoadAll()
		if err != nil {
			return nil, errors.Wrap(err, "load authorised users")
		}
		for _, id := range ids {
			s.allowedUsers[id] = struct{}{}
		}
	}
	for _, id := range initial {
		s.allowedUsers[id] = struct{}{}
	}
	return s, nil
}

func (s *Service) Restricted() bool { return s.allowedUsers != nil }

func (s *Service) IsAllowed(userID int64) bool {
	if s.allowedUsers == nil {
		return true
	}
	_, ok := s.allowedUsers[userID]
	return ok
}

// Authorize is IsAllowed in error form.
func (s *Service) Authorize(userID int64) error {
	if !s.IsAllowed(userID) {
		return errors.Wrapf(ErrUnauthorized, "user %d", userID)
	}
	return nil
}

func (s *Service) Len() int { return len(s.allowedUsers) }
