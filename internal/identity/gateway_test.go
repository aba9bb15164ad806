package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

func int64Ptr(v int64) *int64 { return &v }

func newTestGateway(profiles ...models.Profile) (*Gateway, *repositories.MemoryStore) {
	store := repositories.NewMemoryStore()
	for _, p := range profiles {
		store.PutProfile(p)
	}
	return NewGateway(store, store, nil), store
}

func openProfile(id int64, t models.ProfileType) models.Profile {
	return models.Profile{ID: id, DisplayName: "user", ProfileType: t, IsPublic: true, AcceptsDirectContact: true}
}

func TestCanContactAllowed(t *testing.T) {
	gw, _ := newTestGateway(openProfile(1, models.ProfileArtist), openProfile(2, models.ProfileVenue))

	decision, err := gw.CanContact(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Nil(t, decision.RedirectTo)
}

func TestCanContactBlockIsSymmetric(t *testing.T) {
	ctx := context.Background()
	gw, _ := newTestGateway(openProfile(1, models.ProfileArtist), openProfile(2, models.ProfileVenue))
	require.NoError(t, gw.Block(ctx, 2, 1))

	for _, pair := range [][2]int64{{1, 2}, {2, 1}} {
		decision, err := gw.CanContact(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonBlocked, decision.Reason)
	}

	require.NoError(t, gw.Unblock(ctx, 2, 1))
	decision, err := gw.CanContact(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCanContactBlockWinsOverPolicy(t *testing.T) {
	ctx := context.Background()
	guarded := openProfile(2, models.ProfileArtist)
	guarded.AcceptsDirectContact = false
	guarded.PreferredContactID = int64Ptr(3)
	gw, _ := newTestGateway(openProfile(1, models.ProfileVenue), guarded)
	require.NoError(t, gw.Block(ctx, 1, 2))

	decision, err := gw.CanContact(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, ReasonBlocked, decision.Reason)
	assert.Nil(t, decision.RedirectTo)
}

func TestCanContactRedirect(t *testing.T) {
	guarded := openProfile(2, models.ProfileArtist)
	guarded.AcceptsDirectContact = false
	guarded.PreferredContactID = int64Ptr(3)
	gw, _ := newTestGateway(openProfile(1, models.ProfileVenue), guarded, openProfile(3, models.ProfileManager))

	decision, err := gw.CanContact(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonRedirect, decision.Reason)
	require.NotNil(t, decision.RedirectTo)
	assert.Equal(t, int64(3), *decision.RedirectTo)

	decision, err = gw.CanContact(context.Background(), 3, 2)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "the preferred contact reaches the person it guards")
}

func TestCanContactUnavailable(t *testing.T) {
	closed := openProfile(2, models.ProfileArtist)
	closed.AcceptsDirectContact = false
	deletedAt := time.Now()
	deleted := openProfile(4, models.ProfileAgent)
	deleted.DeletedAt = &deletedAt
	gw, _ := newTestGateway(openProfile(1, models.ProfileVenue), closed, deleted)

	for _, target := range []int64{2, 4, 99} {
		decision, err := gw.CanContact(context.Background(), 1, target)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonContactUnavailable, decision.Reason, "target %d", target)
	}
}

func TestCanContactStoreError(t *testing.T) {
	gw, store := newTestGateway(openProfile(1, models.ProfileVenue), openProfile(2, models.ProfileVenue))
	store.InjectFault("IsBlockedEither", repositories.ErrStoreUnavailable)

	_, err := gw.CanContact(context.Background(), 1, 2)
	assert.True(t, errors.Is(err, repositories.ErrStoreUnavailable))
}

func TestBlockSelf(t *testing.T) {
	gw, _ := newTestGateway()
	assert.ErrorIs(t, gw.Block(context.Background(), 5, 5), ErrSelfBlock)
}

func TestFindRecipients(t *testing.T) {
	ctx := context.Background()
	private := openProfile(3, models.ProfileVenue)
	private.IsPublic = false
	gw, _ := newTestGateway(
		openProfile(1, models.ProfileAdmin),
		openProfile(2, models.ProfileArtist),
		private,
		openProfile(4, models.ProfileVenue),
	)

	all, err := gw.FindRecipients(ctx, models.AllUsers{})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 4}, all)

	venues, err := gw.FindRecipients(ctx, models.ByProfileType{Types: []models.ProfileType{models.ProfileVenue}})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, venues)

	public, err := gw.FindRecipients(ctx, models.PublicOnly{Types: []models.ProfileType{models.ProfileVenue}})
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, public)

	_, err = gw.FindRecipients(ctx, nil)
	assert.ErrorIs(t, err, models.ErrInvalidRecipientFilter)
}

func TestBlockedPeers(t *testing.T) {
	ctx := context.Background()
	gw, _ := newTestGateway()
	require.NoError(t, gw.Block(ctx, 1, 2))
	require.NoError(t, gw.Block(ctx, 3, 1))

	blocked, err := gw.BlockedPeers(ctx, 1, []int64{2, 3, 4})
	require.NoError(t, err)
	assert.True(t, blocked[2])
	assert.True(t, blocked[3])
	assert.False(t, blocked[4])
}
