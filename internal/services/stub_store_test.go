package services

import (
	"context"
	"errors"
	"sync"
)

// memStore is an in-memory IdentityStore and TranscriptStore.
type memStore struct {
	mu         sync.Mutex
	identities []*Identity
	turns      []Turn
	nextTurn   int64

	consentUpdates int
	appendErr      error
}

func newMemStore() *memStore { return &memStore{} }

func (m *memStore) FindIdentity(ctx context.Context, group, member string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.identities {
		if id.GroupNumber == group && id.Member == member {
			cp := *id
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateIdentity(ctx context.Context, in *Identity) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.identities {
		if id.GroupNumber == in.GroupNumber && id.Member == in.Member {
			cp := *id
			return &cp, nil
		}
	}
	row := *in
	row.ID = int64(len(m.identities) + 1)
	m.identities = append(m.identities, &row)
	cp := row
	return &cp, nil
}

func (m *memStore) UpdateConsent(ctx context.Context, identityID int64, consent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.identities {
		if id.ID == identityID {
			id.Consent = consent
			m.consentUpdates++
			return nil
		}
	}
	return errors.New("identity not found")
}

func (m *memStore) append(identityID int64, role Role, content *string, image []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return 0, m.appendErr
	}
	m.nextTurn++
	m.turns = append(m.turns, Turn{ID: m.nextTurn, IdentityID: identityID, Role: role, Content: content, Image: image})
	return m.nextTurn, nil
}

func (m *memStore) AppendText(ctx context.Context, identityID int64, role Role, content string) (int64, error) {
	return m.append(identityID, role, &content, nil)
}

func (m *memStore) AppendImage(ctx context.Context, identityID int64, role Role, image []byte) (int64, error) {
	return m.append(identityID, role, nil, image)
}

func (m *memStore) History(ctx context.Context, identityID int64) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Turn
	for _, t := range m.turns {
		if t.IdentityID == identityID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) HasTurns(ctx context.Context, identityID int64) (bool, error) {
	h, err := m.History(ctx, identityID)
	return len(h) > 0, err
}
