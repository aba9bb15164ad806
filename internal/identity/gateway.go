package identity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

// ErrSelfBlock is returned when a user tries to block themselves.
var ErrSelfBlock = errors.New("cannot block yourself")

// Reason explains why a contact attempt is refused.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonBlocked            Reason = "blocked"
	ReasonContactUnavailable Reason = "contact_unavailable"
	ReasonRedirect           Reason = "redirect"
)

// Decision is the outcome of CanContact.
type Decision struct {
	Allowed    bool
	RedirectTo *int64
	Reason     Reason
}

// Gateway answers contact questions from the current block and profile rows.
type Gateway struct {
	profiles repositories.ProfileRepository
	blocks   repositories.BlockRepository
	log      *zap.Logger
}

// NewGateway constructs a Gateway.
func NewGateway(profiles repositories.ProfileRepository, blocks repositories.BlockRepository, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{profiles: profiles, blocks: blocks, log: log}
}

// CanContact decides whether initiator may open or continue a direct
// conversation with target. Blocks win over contact policy.
func (g *Gateway) CanContact(ctx context.Context, initiatorID, targetID int64) (Decision, error) {
	blocked, err := g.blocks.IsBlockedEither(ctx, initiatorID, targetID)
	if err != nil {
		return Decision{}, fmt.Errorf("check block: %w", err)
	}
	if blocked {
		return Decision{Reason: ReasonBlocked}, nil
	}

	target, err := g.profiles.GetProfile(ctx, targetID)
	if errors.Is(err, repositories.ErrProfileNotFound) {
		return Decision{Reason: ReasonContactUnavailable}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("load target profile: %w", err)
	}
	if target.DeletedAt != nil {
		return Decision{Reason: ReasonContactUnavailable}, nil
	}

	policy := target.ContactPolicy()
	if policy.AcceptsDirectContact {
		return Decision{Allowed: true}, nil
	}
	if policy.PreferredContactID == nil {
		return Decision{Reason: ReasonContactUnavailable}, nil
	}
	if *policy.PreferredContactID == initiatorID {
		return Decision{Allowed: true}, nil
	}
	redirect := *policy.PreferredContactID
	return Decision{RedirectTo: &redirect, Reason: ReasonRedirect}, nil
}

// Block records that blocker no longer wants contact with blocked.
func (g *Gateway) Block(ctx context.Context, blockerID, blockedID int64) error {
	if blockerID == blockedID {
		return ErrSelfBlock
	}
	if err := g.blocks.Block(ctx, blockerID, blockedID); err != nil {
		return fmt.Errorf("block user: %w", err)
	}
	g.log.Info("user blocked", zap.Int64("blocker_id", blockerID), zap.Int64("blocked_id", blockedID))
	return nil
}

// Unblock removes the blocker's block on blocked. Blocks in the other direction stay.
func (g *Gateway) Unblock(ctx context.Context, blockerID, blockedID int64) error {
	if err := g.blocks.Unblock(ctx, blockerID, blockedID); err != nil {
		return fmt.Errorf("unblock user: %w", err)
	}
	g.log.Info("user unblocked", zap.Int64("blocker_id", blockerID), zap.Int64("blocked_id", blockedID))
	return nil
}

// BlockedPeers reports, per peer, whether a block exists in either direction with userID.
func (g *Gateway) BlockedPeers(ctx context.Context, userID int64, peerIDs []int64) (map[int64]bool, error) {
	if len(peerIDs) == 0 {
		return map[int64]bool{}, nil
	}
	return g.blocks.BlockedAmong(ctx, userID, peerIDs)
}

// Profile returns a single profile.
func (g *Gateway) Profile(ctx context.Context, userID int64) (models.Profile, error) {
	return g.profiles.GetProfile(ctx, userID)
}

// Profiles returns the profiles found for ids; missing ids are absent from the map.
func (g *Gateway) Profiles(ctx context.Context, userIDs []int64) (map[int64]models.Profile, error) {
	if len(userIDs) == 0 {
		return map[int64]models.Profile{}, nil
	}
	return g.profiles.GetProfiles(ctx, userIDs)
}

// FindRecipients resolves a broadcast filter to user ids.
func (g *Gateway) FindRecipients(ctx context.Context, filter models.RecipientFilter) ([]int64, error) {
	query, err := recipientQuery(filter)
	if err != nil {
		return nil, err
	}
	return g.profiles.FindRecipients(ctx, query)
}

func recipientQuery(filter models.RecipientFilter) (repositories.RecipientQuery, error) {
	switch f := filter.(type) {
	case models.AllUsers:
		return repositories.RecipientQuery{}, nil
	case models.ByProfileType:
		if len(f.Types) == 0 {
			return repositories.RecipientQuery{}, fmt.Errorf("%w: no profile types", models.ErrInvalidRecipientFilter)
		}
		return repositories.RecipientQuery{ProfileTypes: f.Types}, nil
	case models.PublicOnly:
		return repositories.RecipientQuery{ProfileTypes: f.Types, PublicOnly: true}, nil
	case nil:
		return repositories.RecipientQuery{}, fmt.Errorf("%w: missing filter", models.ErrInvalidRecipientFilter)
	default:
		return repositories.RecipientQuery{}, fmt.Errorf("%w: unsupported filter %T", models.ErrInvalidRecipientFilter, filter)
	}
}
