package auth

import (
	"context"
	"testing"

	"commissions-backend/internal/domain"
	"commissions-backend/internal/infrastructure/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestVerifyUser_Nil(t *testing.T) {
	u, err := VerifyUser(nil)
	assert.Nil(t, u)
	assert.Equal(t, ErrNotAuthenticated, err)
}

func TestVerifyUser_NoUserID(t *testing.T) {
	u, err := VerifyUser(map[string]interface{}{
		"fullname": "Test",
		"email":    "a@b.com",
	})
	assert.Nil(t, u)
	assert.Equal(t, ErrNotAuthenticated, err)
}

func TestVerifyUser_Valid(t *testing.T) {
	u, err := VerifyUser(map[string]interface{}{
		"user_id":  "550e8400-e29b-41d4-a716-446655440000",
		"fullname": "Test User",
		"email":    "test@example.com",
		"role":     "client",
	})
	require.NoError(t, err)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", u.UserID)
	assert.Equal(t, "Test User", u.Fullname)
	assert.Equal(t, "client", u.Role)
}

func TestGormUserFinder(t *testing.T) {
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.User{}))
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret!pw"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, db.Create(&domain.User{Email: "ana@example.com", Fullname: "Ana", PasswordHash: string(hash), Role: "client"}).Error)

	finder := &GormUserFinder{DB: db}
	ctx := context.Background()

	u, err := finder.FindByEmailAndPassword(ctx, "  ANA@example.com", "s3cret!pw")
	require.NoError(t, err)
	assert.Equal(t, "Ana", u.Fullname)

	_, err = finder.FindByEmailAndPassword(ctx, "ana@example.com", "wrong")
	assert.ErrorIs(t, err, ErrIncorrectPassword)

	_, err = finder.FindByEmailAndPassword(ctx, "bob@example.com", "s3cret!pw")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = finder.FindByEmailAndPassword(ctx, "", "")
	assert.ErrorIs(t, err, ErrEmailPasswordRequired)
}
