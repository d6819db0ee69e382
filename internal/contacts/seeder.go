package contacts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/HerbHall/phonebook/internal/apierr"
	"github.com/HerbHall/phonebook/internal/services"
	"github.com/HerbHall/phonebook/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SeedResult summarizes one seeding run.
type SeedResult struct {
	Version        int
	Created        int
	Skipped        int  // Contacts rejected as duplicates.
	AlreadyApplied bool // Nothing was done because Version was applied before.
}

// Seeder loads a versioned set of sample contacts through the Service, so
// seeded records obey the same validation and uniqueness rules as the API.
type Seeder struct {
	svc     *Service
	meta    services.MetaRepository
	logger  *zap.Logger
	workers int
	now     func() time.Time
}

// NewSeeder returns a Seeder recording applied versions in meta.
func NewSeeder(svc *Service, meta services.MetaRepository, logger *zap.Logger) *Seeder {
	return &Seeder{
		svc:     svc,
		meta:    meta,
		logger:  logger,
		workers: 4,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Apply creates contacts unless data set version was already applied and
// force is false. Duplicates are skipped; any other failure aborts the run
// and leaves the recorded version unchanged.
func (s *Seeder) Apply(ctx context.Context, version int, contacts []models.ContactInput, force bool) (*SeedResult, error) {
	res := &SeedResult{Version: version}

	if !force {
		e, err := s.meta.Get(ctx, services.MetaSeedVersion)
		switch {
		case err == nil && e.Value == strconv.Itoa(version):
			res.AlreadyApplied = true
			return res, nil
		case err != nil && !errors.Is(err, services.ErrNotFound):
			return nil, fmt.Errorf("read seed version: %w", err)
		}
	}

	var created, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, in := range contacts {
		g.Go(func() error {
			_, err := s.svc.Create(gctx, in)
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, apierr.ErrConflict):
				skipped.Add(1)
				s.logger.Debug("seed contact skipped", zap.String("name", in.Name), zap.Error(err))
			default:
				return fmt.Errorf("seed contact %q: %w", in.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res.Created = int(created.Load())
	res.Skipped = int(skipped.Load())

	if err := s.meta.Set(ctx, services.MetaSeedVersion, strconv.Itoa(version)); err != nil {
		return nil, fmt.Errorf("record seed version: %w", err)
	}
	if err := s.meta.Set(ctx, services.MetaSeedAppliedAt, s.now().Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("record seed time: %w", err)
	}

	s.logger.Info("seed data applied",
		zap.Int("version", version),
		zap.Int("created", res.Created),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}
