package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"domainvault/auth"
)

var (
	// ErrModerationForbidden signals the actor may not moderate listings.
	ErrModerationForbidden = errors.New("listing: moderation forbidden")
	// ErrInvalidModeration signals an unsupported moderation decision.
	ErrInvalidModeration = errors.New("listing: invalid moderation decision")
)

// Service exposes marketplace listing operations.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger}
}

// Create submits a new domain listing on behalf of a seller. The listing
// enters the moderation queue with verification_status=pending.
func (s *Service) Create(ctx context.Context, params CreateParams) (Listing, error) {
	params.Name = strings.ToLower(strings.TrimSpace(params.Name))
	if params.Name == "" || !strings.Contains(params.Name, ".") {
		return Listing{}, fmt.Errorf("listing: invalid domain name %q", params.Name)
	}
	if params.SellerID == "" {
		return Listing{}, fmt.Errorf("listing: missing seller id")
	}
	if params.PriceCents <= 0 {
		return Listing{}, fmt.Errorf("listing: price must be positive")
	}
	if params.Category == "" {
		params.Category = "other"
	}

	created, err := s.repo.Create(ctx, params)
	if err != nil {
		return Listing{}, err
	}

	s.logger.Info("listing submitted",
		zap.String("listing_id", created.ID),
		zap.String("name", created.Name),
		zap.String("seller_id", created.SellerID),
	)
	return created, nil
}

// Get returns a single listing by id.
func (s *Service) Get(ctx context.Context, id string) (Listing, error) {
	return s.repo.GetByID(ctx, id)
}

// ListResult bundles a page of listings with the unpaged total.
type ListResult struct {
	Items []Listing
	Total int
}

// List returns visible listings matching the filters.
func (s *Service) List(ctx context.Context, filters Filters) (ListResult, error) {
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

// ModerateParams describes an admin verification decision.
type ModerateParams struct {
	ListingID string
	ActorRole auth.Role
	Decision  VerificationStatus
}

// Moderate applies an admin verification decision to a listing. Only the
// verified and failed outcomes may be set this way.
func (s *Service) Moderate(ctx context.Context, params ModerateParams) (Listing, error) {
	if params.ActorRole != auth.RoleAdmin {
		return Listing{}, ErrModerationForbidden
	}
	if params.Decision != VerificationVerified && params.Decision != VerificationFailed {
		return Listing{}, ErrInvalidModeration
	}

	updated, err := s.repo.SetVerificationStatus(ctx, params.ListingID, params.Decision)
	if err != nil {
		return Listing{}, err
	}

	s.logger.Info("listing moderated",
		zap.String("listing_id", updated.ID),
		zap.String("decision", string(params.Decision)),
	)
	return updated, nil
}
