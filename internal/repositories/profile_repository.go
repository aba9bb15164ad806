package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/models"
)

var ErrProfileNotFound = errors.New("profile not found")

const profileColumns = `id, display_name, profile_type, is_public, accepts_direct_contact, preferred_contact_id, deleted_at`

// RecipientQuery is the store-level form of a broadcast recipient filter.
type RecipientQuery struct {
	ProfileTypes []models.ProfileType
	PublicOnly   bool
}

// ProfileRepository reads profiles owned by the identity service.
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID int64) (models.Profile, error)
	GetProfiles(ctx context.Context, userIDs []int64) (map[int64]models.Profile, error)
	FindRecipients(ctx context.Context, query RecipientQuery) ([]int64, error)
}

// ProfileRepo is a sqlx implementation of ProfileRepository.
type ProfileRepo struct {
	db *sqlx.DB
}

// NewProfileRepo constructs a ProfileRepo.
func NewProfileRepo(db *sqlx.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// GetProfile fetches one profile, including soft-deleted ones.
func (r *ProfileRepo) GetProfile(ctx context.Context, userID int64) (models.Profile, error) {
	var profile models.Profile
	err := r.db.GetContext(ctx, &profile, `SELECT `+profileColumns+` FROM profiles WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrProfileNotFound
	}
	return profile, err
}

// GetProfiles fetches profiles in one call; missing ids are absent from the map.
func (r *ProfileRepo) GetProfiles(ctx context.Context, userIDs []int64) (map[int64]models.Profile, error) {
	result := make(map[int64]models.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}
	var profiles []models.Profile
	if err := r.db.SelectContext(ctx, &profiles, `SELECT `+profileColumns+` FROM profiles WHERE id = ANY($1)`, pq.Array(userIDs)); err != nil {
		return nil, err
	}
	for _, p := range profiles {
		result[p.ID] = p
	}
	return result, nil
}

// FindRecipients returns ids of live, non-admin profiles matching the query, ordered by id.
func (r *ProfileRepo) FindRecipients(ctx context.Context, query RecipientQuery) ([]int64, error) {
	conds := []string{"deleted_at IS NULL", "profile_type <> 'admin'"}
	args := []any{}
	if query.PublicOnly {
		conds = append(conds, "is_public = TRUE")
	}
	if len(query.ProfileTypes) > 0 {
		types := make([]string, 0, len(query.ProfileTypes))
		for _, t := range query.ProfileTypes {
			types = append(types, string(t))
		}
		args = append(args, pq.Array(types))
		conds = append(conds, "profile_type = ANY($1)")
	}

	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `SELECT id FROM profiles WHERE `+strings.Join(conds, " AND ")+` ORDER BY id`, args...)
	return ids, err
}
