package store

import (
	"pillar.vc/assistant/core/db/queries"
)

type Stores struct {
	queries *queries.Queries
}

func NewStores(q *queries.Queries) *Stores {
	return &Stores{queries: q}
}

func (s *Stores) Agendas() AgendaStore {
	return newAgendaStore(s.queries)
}

func (s *Stores) Watermarks() WatermarkStore {
	return newWatermarkStore(s.queries)
}

func (s *Stores) Credentials() CredentialStore {
	return newCredentialStore(s.queries)
}
