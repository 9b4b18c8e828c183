package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/referral-ledger/generic"
)

// Service runs check-ins, recharges, withdrawals and account changes.
type Service struct {
	Store    generic.Store
	Mutator  *generic.Mutator
	Calendar generic.Calendar
	Schedule Schedule
	Limits   Limits
	Log      *zap.Logger

	Now        func() time.Time
	NewID      func() string
	HashCost   int
	NewRefCode func() string
}

// NewService wires a Service with default schedule, limits and clock.
func NewService(s generic.Store, cal generic.Calendar, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		Store:      s,
		Mutator:    generic.NewMutator(),
		Calendar:   cal,
		Schedule:   DefaultSchedule(),
		Limits:     DefaultLimits(),
		Log:        log.Named("rewards"),
		Now:        time.Now,
		NewID:      uuid.NewString,
		HashCost:   bcrypt.DefaultCost,
		NewRefCode: newReferralCode,
	}
}

func (s *Service) now() time.Time { return s.Now().UTC() }

// activeUser loads a user and refuses suspended accounts.
func (s *Service) activeUser(ctx context.Context, id generic.UserID) (*generic.User, error) {
	u, err := s.Store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, fmt.Errorf("account suspended: %w", generic.ErrForbidden)
	}
	return u, nil
}

// CheckAdmin returns nil if id is an active admin.
func (s *Service) CheckAdmin(ctx context.Context, id generic.UserID) error {
	u, err := s.Store.GetUser(ctx, id)
	if err != nil {
		if generic.IsNotFound(err) {
			return generic.ErrUnauthenticated
		}
		return err
	}
	if !u.IsAdmin || !u.IsActive {
		return fmt.Errorf("admin access required: %w", generic.ErrForbidden)
	}
	return nil
}
