package storage

import "github.com/akrin/handoff-backend/internal/types"

// Store is the persistence collaborator: a durable append of transcripts
// and session summaries. The in-memory registry stays authoritative for
// routing decisions; the store exists for audit and history replay.
type Store interface {
	SaveMessageRecord(record types.MessageRecord) error
	SaveSessionRecord(record types.SessionRecord) error
	GetSessionMessages(sessionID string) ([]types.MessageRecord, error)
	GetSessionsByDate(dateKey string) ([]types.SessionRecord, error)
	GetAgentSessionsByDate(agentID, date string) ([]types.SessionRecord, error)
	TruncateAll() error
}

// NoopStore is a no-op implementation when DynamoDB is disabled
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (s *NoopStore) SaveMessageRecord(_ types.MessageRecord) error { return nil }
func (s *NoopStore) SaveSessionRecord(_ types.SessionRecord) error { return nil }
func (s *NoopStore) GetSessionMessages(_ string) ([]types.MessageRecord, error) {
	return nil, nil
}
func (s *NoopStore) GetSessionsByDate(_ string) ([]types.SessionRecord, error) { return nil, nil }
func (s *NoopStore) GetAgentSessionsByDate(_, _ string) ([]types.SessionRecord, error) {
	return nil, nil
}
func (s *NoopStore) TruncateAll() error { return nil }
