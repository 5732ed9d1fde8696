package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"offer-attribution/internal/models"
	"offer-attribution/internal/pipeline"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleResult() pipeline.Result {
	return pipeline.Result{
		Transactions: []models.AttributedTransaction{
			{Person: "p1", OfferType: "bogo", TransactionTime: 3, Amount: decimal.RequireFromString("10.50"), IsOffer: true},
			{Person: "p1", OfferType: models.NoOffer, TransactionTime: 30, Amount: decimal.NewFromInt(4)},
			{Person: "p2", OfferType: models.NoOffer, TransactionTime: 5, Amount: decimal.Zero},
		},
		Completions: models.CompletionTable{
			OfferTypes: []string{"bogo", "discount"},
			Rows: []models.CompletionRow{
				{
					Person:    "p1",
					Completed: map[string]int64{"bogo": 1, "discount": 0},
					Viewed:    map[string]int64{"bogo": 1},
					Events:    map[string]int64{"bogo": 2},
				},
				{
					Person:    "p2",
					Completed: map[string]int64{"bogo": 0, "discount": 2},
					Viewed:    map[string]int64{"discount": 2},
					Events:    map[string]int64{"discount": 4},
				},
			},
		},
	}
}

func sampleSummary(runID string) models.RunSummary {
	return models.RunSummary{
		RunID:             runID,
		Events:            12,
		Offers:            3,
		EnrichedEvents:    9,
		Transactions:      3,
		AttributedToOffer: 1,
		Customers:         2,
		OfferTypes:        []string{"bogo", "discount"},
	}
}

func TestSaveRun_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	runID := uuid.New().String()

	if err := db.SaveRun(ctx, sampleSummary(runID), sampleResult()); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}

	summary, err := db.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if summary.Transactions != 3 || summary.Customers != 2 {
		t.Errorf("Unexpected summary: %+v", summary)
	}
	if len(summary.OfferTypes) != 2 || summary.OfferTypes[0] != "bogo" {
		t.Errorf("Unexpected offer types: %v", summary.OfferTypes)
	}

	txns, err := db.GetTransactions(ctx, runID, "")
	if err != nil {
		t.Fatalf("Failed to get transactions: %v", err)
	}
	if len(txns) != 3 {
		t.Fatalf("Expected 3 transactions, got %d", len(txns))
	}
	if !txns[0].Amount.Equal(decimal.RequireFromString("10.5")) || !txns[0].IsOffer {
		t.Errorf("Unexpected first transaction: %+v", txns[0])
	}

	completions, err := db.GetCompletions(ctx, runID)
	if err != nil {
		t.Fatalf("Failed to get completions: %v", err)
	}
	want := sampleResult().Completions
	if len(completions.Rows) != len(want.Rows) {
		t.Fatalf("Expected %d rows, got %d", len(want.Rows), len(completions.Rows))
	}
	for i, row := range completions.Rows {
		if row.Person != want.Rows[i].Person {
			t.Errorf("Row %d: expected person %s, got %s", i, want.Rows[i].Person, row.Person)
		}
		for _, offerType := range want.OfferTypes {
			if row.CompletedFor(offerType) != want.Rows[i].CompletedFor(offerType) {
				t.Errorf("Row %d %s: expected %d completed, got %d", i, offerType,
					want.Rows[i].CompletedFor(offerType), row.CompletedFor(offerType))
			}
		}
		if _, ok := row.Completed["discount"]; !ok {
			t.Errorf("Row %d: expected a zero-filled discount column", i)
		}
	}
}

func TestGetTransactions_FilterByPerson(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	runID := uuid.New().String()

	if err := db.SaveRun(ctx, sampleSummary(runID), sampleResult()); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}

	txns, err := db.GetTransactions(ctx, runID, "p1")
	if err != nil {
		t.Fatalf("Failed to get transactions: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("Expected 2 transactions, got %d", len(txns))
	}
	if txns[0].TransactionTime > txns[1].TransactionTime {
		t.Errorf("Expected transactions ordered by time")
	}
}

func TestGetRun_NotFound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
	if _, err := db.GetTransactions(ctx, "missing", ""); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
	if _, err := db.GetCompletions(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
}

func TestSaveRun_DuplicateIDRollsBack(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	runID := uuid.New().String()

	if err := db.SaveRun(ctx, sampleSummary(runID), sampleResult()); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}
	if err := db.SaveRun(ctx, sampleSummary(runID), sampleResult()); err == nil {
		t.Fatal("Expected duplicate run id to fail")
	}

	txns, err := db.GetTransactions(ctx, runID, "")
	if err != nil {
		t.Fatalf("Failed to get transactions: %v", err)
	}
	if len(txns) != 3 {
		t.Errorf("Expected 3 transactions after failed save, got %d", len(txns))
	}
}

func TestDeleteRun(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	runID := uuid.New().String()

	if err := db.SaveRun(ctx, sampleSummary(runID), sampleResult()); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}
	if err := db.DeleteRun(ctx, runID); err != nil {
		t.Fatalf("Failed to delete run: %v", err)
	}
	if _, err := db.GetRun(ctx, runID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound after delete, got %v", err)
	}
	if err := db.DeleteRun(ctx, runID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound on second delete, got %v", err)
	}
}
