package service

import (
	"context"
	"fmt"

	"tintbook/internal/domain"
	"tintbook/internal/models"

	"github.com/rs/zerolog"
)

type StaffService struct {
	repo   domain.StaffRepository
	logger *zerolog.Logger
}

func NewStaffService(repo domain.StaffRepository, logger *zerolog.Logger) *StaffService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &StaffService{repo: repo, logger: logger}
}

// SeedStaff upserts the configured staff list.
func (s *StaffService) SeedStaff(ctx context.Context, staff []models.Staff) error {
	for i := range staff {
		member := staff[i]
		if err := s.repo.UpsertStaff(ctx, &member); err != nil {
			return fmt.Errorf("seed staff %s: %w", member.ID, err)
		}
	}
	s.logger.Info().Int("count", len(staff)).Msg("Staff seeded")
	return nil
}

func (s *StaffService) ListEligible(ctx context.Context) ([]*models.Staff, error) {
	return s.repo.ListStaffEligibleForAppointments(ctx)
}

func (s *StaffService) ListStaff(ctx context.Context) ([]*models.Staff, error) {
	return s.repo.ListStaff(ctx)
}

func (s *StaffService) GetStaff(ctx context.Context, id string) (*models.Staff, error) {
	return s.repo.GetStaff(ctx, id)
}
