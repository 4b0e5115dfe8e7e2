package database

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hassanrakib/zitbo-server/internal/domain"
)

func TestUserRepo_Create(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewUserRepo(pool)
	ctx := context.Background()

	user, err := repo.Create(ctx, "rakib", "$2a$10$fakehashfakehashfakehash")

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.Equal(t, "rakib", user.Username)
	assert.Equal(t, "$2a$10$fakehashfakehashfakehash", user.PasswordHash)
	assert.False(t, user.CreatedAt.IsZero())
}

func TestUserRepo_Create_UsernameTaken(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewUserRepo(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, "rakib", "hash1")
	require.NoError(t, err)

	_, err = repo.Create(ctx, "rakib", "hash2")
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)
}

func TestUserRepo_GetByUsername(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewUserRepo(pool)
	ctx := context.Background()

	created, err := repo.Create(ctx, "rakib", "somehash")
	require.NoError(t, err)

	user, err := repo.GetByUsername(ctx, "rakib")
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)
	assert.Equal(t, "rakib", user.Username)
	assert.Equal(t, "somehash", user.PasswordHash)
}

func TestUserRepo_GetByUsername_NotFound(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewUserRepo(pool)
	ctx := context.Background()

	user, err := repo.GetByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.Nil(t, user)
}

func TestUserRepo_Exists(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewUserRepo(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, "rakib", "somehash")
	require.NoError(t, err)

	exists, err := repo.Exists(ctx, "rakib")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.Exists(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, exists)
}
