package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polla-consensus/internal/polla"
)

func sampleRun() (polla.RunSummary, polla.ComparisonReport) {
	ratio := 0.25
	sorteo := 5322
	fecha := "2025-09-30"
	now := time.Date(2025, 9, 30, 23, 0, 0, 0, time.UTC)
	decision := polla.Decision{
		Status:               polla.StatusQuarantine,
		Reason:               "Mismatch ratio above threshold",
		MismatchRatio:        &ratio,
		TotalCategories:      4,
		MismatchedCategories: 1,
	}
	summary := polla.RunSummary{
		RunID:       "run-1",
		GeneratedAt: now,
		Decision:    decision,
		APIVersion:  polla.APIVersion,
	}
	report := polla.ComparisonReport{
		APIVersion: polla.APIVersion,
		LastDraw:   polla.LastDraw{Sorteo: &sorteo, Fecha: &fecha},
		Decision:   decision,
	}
	return summary, report
}

func TestRecordRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "runs")
	require.NoError(t, err)

	summary, report := sampleRun()
	mock.ExpectExec("INSERT INTO runs").
		WithArgs(
			"run-1",
			summary.GeneratedAt,
			"quarantine",
			"Mismatch ratio above threshold",
			summary.Decision.MismatchRatio,
			false,
			false,
			report.LastDraw.Sorteo,
			report.LastDraw.Fecha,
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordRun(context.Background(), summary, report))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, store.RecordRun(context.Background(), polla.RunSummary{}, polla.ComparisonReport{}))
}

func TestLatestRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	summary, _ := sampleRun()
	raw, err := json.Marshal(summary)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT summary FROM polla_runs").
		WillReturnRows(pgxmock.NewRows([]string{"summary"}).AddRow(raw))

	got, err := store.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, polla.StatusQuarantine, got.Decision.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestRunEmpty(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT summary FROM polla_runs").WillReturnError(pgx.ErrNoRows)

	_, err = store.LatestRun(context.Background())
	require.ErrorIs(t, err, ErrNoRuns)
}

func TestRejectsInvalidTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRunStoreWithPool(mock, "runs; DROP TABLE x")
	require.Error(t, err)
}
