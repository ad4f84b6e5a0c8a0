package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/hourglass/internal/model"
)

func TestPostgresSubscriberRepo_Create(t *testing.T) {
	db := openMigratedDB(t)
	repo := NewPostgresSubscriberRepo(db)
	ctx := context.Background()

	sub := &model.Subscriber{Email: "a@x.com"}
	require.NoError(t, repo.Create(ctx, sub))
	assert.NotEmpty(t, sub.ID)
	assert.False(t, sub.CreatedAt.IsZero())

	err := repo.Create(ctx, &model.Subscriber{Email: "a@x.com"})
	assert.ErrorIs(t, err, ErrDuplicate)
}
