package services

import (
	"context"
	"errors"
)

type IdentityStore interface {
	FindIdentity(ctx context.Context, group, member string) (*Identity, error)
	// CreateIdentity inserts unless (group, member) already exists and returns the stored row either way.
	CreateIdentity(ctx context.Context, id *Identity) (*Identity, error)
	UpdateConsent(ctx context.Context, identityID int64, consent string) error
}

type IdentityInput struct {
	Name      string
	StudentID string
	Group     string
	Member    string
	Consent   string
}

type IdentityService struct {
	store IdentityStore
}

func NewIdentityService(store IdentityStore) *IdentityService {
	return &IdentityService{store: store}
}

// Resolve returns the identity for (group, member), creating it on first contact.
// Name and student id keep their first written values; a new non-empty consent replaces the stored one.
func (s *IdentityService) Resolve(ctx context.Context, in IdentityInput) (*Identity, error) {
	if s.store == nil {
		return nil, errors.New("identity service store is nil")
	}
	id, err := s.store.FindIdentity(ctx, in.Group, in.Member)
	if err != nil {
		return nil, err
	}
	if id == nil {
		id, err = s.store.CreateIdentity(ctx, &Identity{
			Name:        in.Name,
			StudentID:   in.StudentID,
			GroupNumber: in.Group,
			Member:      in.Member,
			Consent:     in.Consent,
		})
		if err != nil {
			return nil, err
		}
		if id == nil {
			return nil, errors.New("identity store returned no row after create")
		}
	}
	if in.Consent != "" && id.Consent != in.Consent {
		if err := s.store.UpdateConsent(ctx, id.ID, in.Consent); err != nil {
			return nil, err
		}
		id.Consent = in.Consent
	}
	return id, nil
}
