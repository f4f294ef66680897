package store

import (
	"context"
	"testing"
	"time"

	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := CreateUser(ctx, db, "  Mixed@Example.COM ", "Mixed", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "mixed@example.com", user.Email)
	assert.Equal(t, models.RoleCustomer, user.Role)
	assert.True(t, CheckPassword(user, "correct-horse"))

	_, err = CreateUser(ctx, db, "mixed@example.com", "Again", "correct-horse")
	assert.ErrorIs(t, err, database.ErrEmailTaken)

	_, err = CreateUser(ctx, db, "short@example.com", "Short", "abc")
	assert.ErrorIs(t, err, models.ErrPasswordTooShort)

	page, err := ListUsers(ctx, db, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Total)
}

func TestPasswordReset(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := CreateUser(ctx, db, "forgot@example.com", "Forgot", "old-password")
	require.NoError(t, err)

	stale, _, err := RequestPasswordReset(ctx, db, "forgot@example.com", time.Hour)
	require.NoError(t, err)
	token, owner, err := RequestPasswordReset(ctx, db, "FORGOT@example.com", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, user.ID, owner.ID)

	assert.ErrorIs(t, ResetPassword(ctx, db, stale, "new-password"), database.ErrResetTokenInvalid, "older token invalidated")
	require.NoError(t, ResetPassword(ctx, db, token, "new-password"))
	assert.ErrorIs(t, ResetPassword(ctx, db, token, "another-one"), database.ErrResetTokenInvalid, "single use")

	reloaded, err := GetUser(ctx, db, user.ID)
	require.NoError(t, err)
	assert.True(t, CheckPassword(reloaded, "new-password"))

	_, _, err = RequestPasswordReset(ctx, db, "nobody@example.com", time.Hour)
	assert.ErrorIs(t, err, database.ErrUserNotFound)
}

func TestPasswordResetExpires(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := CreateUser(ctx, db, "slow@example.com", "Slow", "old-password")
	require.NoError(t, err)

	token, _, err := RequestPasswordReset(ctx, db, "slow@example.com", -time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, ResetPassword(ctx, db, token, "new-password"), database.ErrResetTokenInvalid)
}

func TestReviewModerationUpdatesRating(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	product := createShoe(t, db, "REV-001", 1000, 5)
	alice := createCustomer(t, db, "alice@example.com")
	bob := createCustomer(t, db, "bob@example.com")

	r1, err := CreateReview(ctx, db, product.ID, alice.ID, 5, "Great", "Fits well")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusPending, r1.Status)
	r2, err := CreateReview(ctx, db, product.ID, bob.ID, 2, "Meh", "")
	require.NoError(t, err)

	_, err = CreateReview(ctx, db, product.ID, alice.ID, 4, "Again", "")
	assert.ErrorIs(t, err, database.ErrDuplicateReview)
	_, err = CreateReview(ctx, db, product.ID, bob.ID, 6, "", "")
	assert.ErrorIs(t, err, models.ErrInvalidRating)

	_, err = ModerateReview(ctx, db, r1.ID, models.ReviewStatusApproved)
	require.NoError(t, err)
	_, err = ModerateReview(ctx, db, r2.ID, models.ReviewStatusApproved)
	require.NoError(t, err)

	rated, err := GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rated.ReviewCount)
	assert.Equal(t, "3.5", rated.AverageRating.String())

	_, err = ModerateReview(ctx, db, r2.ID, models.ReviewStatusRejected)
	require.NoError(t, err)

	page, err := ListApprovedReviews(ctx, db, product.ID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Total)

	require.NoError(t, DeleteReview(ctx, db, r1.ID))
	rated, err = GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Zero(t, rated.ReviewCount)
	assert.True(t, rated.AverageRating.IsZero())
}

func TestBannersWindow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	second, err := CreateBanner(ctx, db, BannerInput{Title: "Sale", ImageURL: "/sale.png", Position: 2, IsActive: true})
	require.NoError(t, err)
	first, err := CreateBanner(ctx, db, BannerInput{Title: "New", ImageURL: "/new.png", Position: 1, IsActive: true, StartsAt: &past})
	require.NoError(t, err)
	_, err = CreateBanner(ctx, db, BannerInput{Title: "Soon", ImageURL: "/soon.png", IsActive: true, StartsAt: &future})
	require.NoError(t, err)
	_, err = CreateBanner(ctx, db, BannerInput{Title: "Off", ImageURL: "/off.png"})
	require.NoError(t, err)

	live, err := ListLiveBanners(ctx, db, time.Now())
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, first.ID, live[0].ID)
	assert.Equal(t, second.ID, live[1].ID)

	_, err = UpdateBanner(ctx, db, second.ID, BannerInput{Title: "Sale", ImageURL: "/sale.png", IsActive: false})
	require.NoError(t, err)
	require.NoError(t, DeleteBanner(ctx, db, first.ID))
	assert.ErrorIs(t, DeleteBanner(ctx, db, first.ID), database.ErrBannerNotFound)

	live, err = ListLiveBanners(ctx, db, time.Now())
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestNewsletterSubscription(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	sub, err := Subscribe(ctx, db, "News@Example.com")
	require.NoError(t, err)
	assert.True(t, sub.IsSubscribed)

	again, err := Subscribe(ctx, db, "news@example.com")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID)

	out, err := Unsubscribe(ctx, db, "news@example.com")
	require.NoError(t, err)
	assert.False(t, out.IsSubscribed)
	assert.NotNil(t, out.UnsubscribedAt)

	back, err := Subscribe(ctx, db, "news@example.com")
	require.NoError(t, err)
	assert.True(t, back.IsSubscribed)
	assert.Nil(t, back.UnsubscribedAt)

	_, err = Subscribe(ctx, db, "not-an-email")
	assert.ErrorIs(t, err, ErrInvalidEmail)
	_, err = Unsubscribe(ctx, db, "ghost@example.com")
	assert.ErrorIs(t, err, database.ErrSubscriberNotFound)
}

func TestWishlist(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := createCustomer(t, db, "wish@example.com")
	product := createShoe(t, db, "WSH-001", 1000, 5)

	require.NoError(t, AddToWishlist(ctx, db, user.ID, product.ID))
	require.NoError(t, AddToWishlist(ctx, db, user.ID, product.ID))

	items, err := ListWishlist(ctx, db, user.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, product.SKU, items[0].Product.SKU)

	assert.ErrorIs(t, AddToWishlist(ctx, db, user.ID, 424242), database.ErrProductNotFound)
	require.NoError(t, RemoveFromWishlist(ctx, db, user.ID, product.ID))
	assert.ErrorIs(t, RemoveFromWishlist(ctx, db, user.ID, product.ID), database.ErrWishlistItemNotFound)
}
