package store

import (
	"context"
	"sync"
	"testing"

	"github.com/safar/solestore/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func homeAddress(street string, isDefault bool) AddressInput {
	return AddressInput{
		FullName:   "Asha Rao",
		Street:     street,
		City:       "Pune",
		State:      "MH",
		PostalCode: "411001",
		IsDefault:  isDefault,
	}
}

func countDefaults(t *testing.T, userID int64) int {
	t.Helper()
	var n int
	err := sharedDB.QueryRow(`SELECT COUNT(*) FROM addresses WHERE user_id = $1 AND is_default`, userID).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestFirstAddressBecomesDefault(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := CreateUser(ctx, db, "first@example.com", "First", "correct-horse")
	require.NoError(t, err)

	first, err := CreateAddress(ctx, db, user.ID, homeAddress("1 FC Road", false))
	require.NoError(t, err)
	assert.True(t, first.IsDefault)
	assert.Equal(t, "IN", first.Country)

	second, err := CreateAddress(ctx, db, user.ID, homeAddress("2 JM Road", false))
	require.NoError(t, err)
	assert.False(t, second.IsDefault)
	assert.Equal(t, 1, countDefaults(t, user.ID))
}

func TestNewDefaultUnsetsPrevious(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := CreateUser(ctx, db, "switch@example.com", "Switch", "correct-horse")
	require.NoError(t, err)

	first, err := CreateAddress(ctx, db, user.ID, homeAddress("1 FC Road", false))
	require.NoError(t, err)

	second, err := CreateAddress(ctx, db, user.ID, homeAddress("2 JM Road", true))
	require.NoError(t, err)
	assert.True(t, second.IsDefault)

	reloaded, err := GetAddress(ctx, db, first.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsDefault)

	updated, err := UpdateAddress(ctx, db, user.ID, first.ID, homeAddress("1A FC Road", true))
	require.NoError(t, err)
	assert.True(t, updated.IsDefault)
	assert.Equal(t, "1A FC Road", updated.Street)

	def, err := GetDefaultAddress(ctx, db, user.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, def.ID)
	assert.Equal(t, 1, countDefaults(t, user.ID))
}

func TestUpdateCannotDropOnlyDefault(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := CreateUser(ctx, db, "keep@example.com", "Keep", "correct-horse")
	require.NoError(t, err)

	only, err := CreateAddress(ctx, db, user.ID, homeAddress("1 FC Road", true))
	require.NoError(t, err)

	updated, err := UpdateAddress(ctx, db, user.ID, only.ID, homeAddress("1 FC Road", false))
	require.NoError(t, err)
	assert.True(t, updated.IsDefault)
}

func TestDeleteDefaultPromotesAnother(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := CreateUser(ctx, db, "delete@example.com", "Delete", "correct-horse")
	require.NoError(t, err)

	first, err := CreateAddress(ctx, db, user.ID, homeAddress("1 FC Road", false))
	require.NoError(t, err)
	second, err := CreateAddress(ctx, db, user.ID, homeAddress("2 JM Road", false))
	require.NoError(t, err)

	require.NoError(t, DeleteAddress(ctx, db, user.ID, first.ID))

	promoted, err := GetAddress(ctx, db, second.ID)
	require.NoError(t, err)
	assert.True(t, promoted.IsDefault)

	err = DeleteAddress(ctx, db, user.ID, first.ID)
	assert.ErrorIs(t, err, database.ErrAddressNotFound)
}

func TestAddressesArePrivate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	owner, err := CreateUser(ctx, db, "owner@example.com", "Owner", "correct-horse")
	require.NoError(t, err)
	intruder, err := CreateUser(ctx, db, "intruder@example.com", "Intruder", "correct-horse")
	require.NoError(t, err)

	address, err := CreateAddress(ctx, db, owner.ID, homeAddress("1 FC Road", false))
	require.NoError(t, err)

	_, err = SetDefaultAddress(ctx, db, intruder.ID, address.ID)
	assert.ErrorIs(t, err, database.ErrAddressNotFound)
	assert.ErrorIs(t, DeleteAddress(ctx, db, intruder.ID, address.ID), database.ErrAddressNotFound)
}

func TestConcurrentSetDefaultKeepsOne(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := CreateUser(ctx, db, "race@example.com", "Race", "correct-horse")
	require.NoError(t, err)

	var ids []int64
	for _, street := range []string{"1 A St", "2 B St", "3 C St", "4 D St", "5 E St"} {
		a, err := CreateAddress(ctx, db, user.ID, homeAddress(street, false))
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			SetDefaultAddress(ctx, db, user.ID, id)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, countDefaults(t, user.ID))

	addresses, err := ListAddresses(ctx, db, user.ID)
	require.NoError(t, err)
	require.Len(t, addresses, 5)
	assert.True(t, addresses[0].IsDefault, "default listed first")
}
