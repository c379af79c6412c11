package records

import (
	"context"
	"fmt"

	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/model"
)

// Disabled stands in for the records store when Airtable is not configured.
// Lookups find nothing and archiving is skipped.
type Disabled struct{}

func (Disabled) FindCompany(_ context.Context, name string) (*model.Company, error) {
	return nil, &domain.NotFoundError{What: fmt.Sprintf("a portfolio company named %q", name), Note: "the records store is not configured"}
}

func (Disabled) ListCompanies(context.Context) ([]model.Company, error) {
	return nil, nil
}

func (Disabled) CompanyNames(context.Context) ([]string, error) {
	return nil, nil
}

func (Disabled) UpsertAgendaRecord(context.Context, model.AgendaRecord) error {
	return nil
}
