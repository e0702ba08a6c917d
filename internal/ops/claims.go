package ops

import (
	"context"
	"strings"
	"time"

	"github.com/hpungsan/claimdesk/internal/claim"
	"github.com/hpungsan/claimdesk/internal/db"
	"github.com/hpungsan/claimdesk/internal/errors"
)

// CreateClaimInput contains parameters for the CreateClaim operation.
type CreateClaimInput struct {
	Title           string  // required
	ReferenceNumber *string // optional
}

// CreateClaim stores a new claim.
func CreateClaim(_ context.Context, d *Deps, input CreateClaimInput) (*claim.Claim, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errors.NewInvalidRequest("title is required")
	}

	now := time.Now().Unix()
	c := &claim.Claim{
		Title:           title,
		ReferenceNumber: cleanOptionalString(input.ReferenceNumber),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := db.InsertClaim(d.DB, c); err != nil {
		return nil, err
	}

	d.Logger.Info("claim created", "claim_id", c.ID)
	return c, nil
}

// GetClaim retrieves a claim by id.
func GetClaim(_ context.Context, d *Deps, claimID int64) (*claim.Claim, error) {
	if err := requireID("claim_id", claimID); err != nil {
		return nil, err
	}
	return db.GetClaim(d.DB, claimID)
}

// ListClaimsInput contains parameters for the ListClaims operation.
type ListClaimsInput struct {
	Limit  int // default: 20, max: 100
	Offset int // default: 0
}

// ListClaimsOutput contains the result of the ListClaims operation.
type ListClaimsOutput struct {
	Items      []*claim.Claim `json:"items"`
	Pagination Pagination     `json:"pagination"`
}

// ListClaims returns claims newest first with pagination.
func ListClaims(_ context.Context, d *Deps, input ListClaimsInput) (*ListClaimsOutput, error) {
	limit, offset := boundLimit(input.Limit, input.Offset)

	claims, err := db.ListClaims(d.DB, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := db.CountClaims(d.DB)
	if err != nil {
		return nil, err
	}

	return &ListClaimsOutput{
		Items: claims,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(claims) < total,
			Total:   total,
		},
	}, nil
}
