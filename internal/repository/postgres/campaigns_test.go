package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsepost/delivery-engine/internal/service/campaign"
)

func setupCampaignRepo(t *testing.T) (*CampaignRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewCampaignRepo(db), mock
}

func TestCampaignRepo_DeleteRemovesEvents(t *testing.T) {
	repo, mock := setupCampaignRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM campaigns").
		WithArgs("t1", "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM email_events").
		WithArgs("t1", "c1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	err := repo.Delete(context.Background(), "t1", "c1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepo_DeleteNotFound(t *testing.T) {
	repo, mock := setupCampaignRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM campaigns").
		WithArgs("t1", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), "t1", "missing")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepo_DeleteEventsFailureRollsBack(t *testing.T) {
	repo, mock := setupCampaignRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM campaigns").
		WithArgs("t1", "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM email_events").
		WithArgs("t1", "c1").
		WillReturnError(errors.New("events table locked"))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), "t1", "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete campaign events")
	assert.NoError(t, mock.ExpectationsWereMet())
}
