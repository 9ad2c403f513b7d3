package documents

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db/models"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
)

func setupRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:documents_repo_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Customer{},
		&models.ProductVariant{},
		&models.VariantPrice{},
		&models.SalesDocument{},
		&models.DocumentLine{},
		&models.DocumentTransition{},
	))
	return db
}

func seedDocument(t *testing.T, repo Repository, branchID uuid.UUID, stage enums.DocumentStage) *models.SalesDocument {
	t.Helper()
	document := &models.SalesDocument{
		BranchID:   branchID,
		CustomerID: uuid.New(),
		Stage:      stage,
		Lines: []models.DocumentLine{
			{VariantID: uuid.New(), Qty: 2, UnitPriceCents: 500, TotalCents: 1000},
		},
	}
	require.NoError(t, repo.Create(context.Background(), document))
	return document
}

func TestRepositoryCreateAssignsLineIDs(t *testing.T) {
	repo := NewRepository(setupRepoDB(t))

	document := seedDocument(t, repo, uuid.New(), enums.DocumentStageDraft)

	assert.NotEqual(t, uuid.Nil, document.ID)
	require.Len(t, document.Lines, 1)
	assert.NotEqual(t, uuid.Nil, document.Lines[0].ID)
	assert.Equal(t, document.ID, document.Lines[0].DocumentID)

	loaded, err := repo.GetByID(context.Background(), document.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Len(t, loaded.Lines, 1)
}

func TestRepositoryGetByIDReturnsNilWhenMissing(t *testing.T) {
	repo := NewRepository(setupRepoDB(t))

	loaded, err := repo.GetByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRepositoryGetEffectivePrice(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewRepository(db)
	variantID := uuid.New()
	now := time.Now().UTC()

	price, err := repo.GetEffectivePrice(context.Background(), variantID, now)
	require.NoError(t, err)
	assert.Nil(t, price)

	records := []models.VariantPrice{
		{ID: uuid.New(), VariantID: variantID, UnitPriceCents: 700, EffectiveFrom: now.Add(-48 * time.Hour)},
		{ID: uuid.New(), VariantID: variantID, UnitPriceCents: 900, EffectiveFrom: now.Add(-time.Minute)},
		{ID: uuid.New(), VariantID: variantID, UnitPriceCents: 1100, EffectiveFrom: now.Add(time.Hour)},
	}
	require.NoError(t, db.Create(&records).Error)

	price, err = repo.GetEffectivePrice(context.Background(), variantID, now)
	require.NoError(t, err)
	require.NotNil(t, price)
	assert.Equal(t, int64(900), price.UnitPriceCents)
}

func TestRepositoryUpdateStageGuarded(t *testing.T) {
	repo := NewRepository(setupRepoDB(t))
	document := seedDocument(t, repo, uuid.New(), enums.DocumentStageDraft)

	moved, err := repo.UpdateStageGuarded(context.Background(), document.ID,
		enums.DocumentStageDraft, enums.DocumentStageApproved, nil)
	require.NoError(t, err)
	assert.True(t, moved)

	// The stage already moved, so the same compare-and-set loses.
	movedAgain, err := repo.UpdateStageGuarded(context.Background(), document.ID,
		enums.DocumentStageDraft, enums.DocumentStageApproved, nil)
	require.NoError(t, err)
	assert.False(t, movedAgain)

	loaded, err := repo.GetByID(context.Background(), document.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, enums.DocumentStageApproved, loaded.Stage)
}

func TestRepositoryListFilters(t *testing.T) {
	repo := NewRepository(setupRepoDB(t))
	branchA := uuid.New()
	branchB := uuid.New()
	seedDocument(t, repo, branchA, enums.DocumentStageDraft)
	seedDocument(t, repo, branchA, enums.DocumentStageApproved)
	seedDocument(t, repo, branchB, enums.DocumentStageDraft)

	byBranch, err := repo.List(context.Background(), ListQuery{BranchID: &branchA})
	require.NoError(t, err)
	assert.Len(t, byBranch, 2)

	stage := enums.DocumentStageDraft
	byStage, err := repo.List(context.Background(), ListQuery{BranchID: &branchA, Stage: &stage})
	require.NoError(t, err)
	require.Len(t, byStage, 1)
	assert.Equal(t, enums.DocumentStageDraft, byStage[0].Stage)

	limited, err := repo.List(context.Background(), ListQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
