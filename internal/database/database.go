package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"offer-attribution/internal/models"
	"offer-attribution/internal/pipeline"
)

// ErrRunNotFound is returned when no run exists with the given id.
var ErrRunNotFound = errors.New("run not found")

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			events INTEGER NOT NULL,
			offers INTEGER NOT NULL,
			enriched_events INTEGER NOT NULL,
			transactions INTEGER NOT NULL,
			attributed_to_offer INTEGER NOT NULL,
			customers INTEGER NOT NULL,
			offer_types TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS attributed_transactions (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			person TEXT NOT NULL,
			offer_type TEXT NOT NULL,
			transaction_time INTEGER NOT NULL,
			amount TEXT NOT NULL,
			is_offer INTEGER NOT NULL,
			PRIMARY KEY (run_id, person, transaction_time)
		)`,
		`CREATE TABLE IF NOT EXISTS customer_completions (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			person TEXT NOT NULL,
			offer_type TEXT NOT NULL,
			events INTEGER NOT NULL,
			viewed INTEGER NOT NULL,
			completed INTEGER NOT NULL,
			PRIMARY KEY (run_id, person, offer_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_txn_run_person ON attributed_transactions(run_id, person)`,
		`CREATE INDEX IF NOT EXISTS idx_completions_run ON customer_completions(run_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// SaveRun stores a run summary and its output tables in a single transaction.
func (db *DB) SaveRun(ctx context.Context, summary models.RunSummary, result pipeline.Result) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (
		id, events, offers, enriched_events, transactions,
		attributed_to_offer, customers, offer_types, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.RunID,
		summary.Events,
		summary.Offers,
		summary.EnrichedEvents,
		summary.Transactions,
		summary.AttributedToOffer,
		summary.Customers,
		serializeOfferTypes(summary.OfferTypes),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", summary.RunID, err)
	}

	txnStmt, err := tx.PrepareContext(ctx, `INSERT INTO attributed_transactions (
		run_id, person, offer_type, transaction_time, amount, is_offer
	) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer txnStmt.Close()

	for _, t := range result.Transactions {
		_, err := txnStmt.ExecContext(ctx,
			summary.RunID,
			t.Person,
			t.OfferType,
			t.TransactionTime,
			t.Amount.String(),
			t.IsOffer,
		)
		if err != nil {
			return fmt.Errorf("failed to insert transaction %s@%d: %w", t.Person, t.TransactionTime, err)
		}
	}

	complStmt, err := tx.PrepareContext(ctx, `INSERT INTO customer_completions (
		run_id, person, offer_type, events, viewed, completed
	) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer complStmt.Close()

	for _, row := range result.Completions.Rows {
		for offerType, events := range row.Events {
			_, err := complStmt.ExecContext(ctx,
				summary.RunID,
				row.Person,
				offerType,
				events,
				row.Viewed[offerType],
				row.Completed[offerType],
			)
			if err != nil {
				return fmt.Errorf("failed to insert completions for %s: %w", row.Person, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetRun returns the summary of a stored run.
func (db *DB) GetRun(ctx context.Context, runID string) (models.RunSummary, error) {
	var summary models.RunSummary
	var offerTypes string

	err := db.conn.QueryRowContext(ctx, `SELECT id, events, offers, enriched_events,
		transactions, attributed_to_offer, customers, offer_types
		FROM runs WHERE id = ?`, runID).Scan(
		&summary.RunID,
		&summary.Events,
		&summary.Offers,
		&summary.EnrichedEvents,
		&summary.Transactions,
		&summary.AttributedToOffer,
		&summary.Customers,
		&offerTypes,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RunSummary{}, ErrRunNotFound
	}
	if err != nil {
		return models.RunSummary{}, fmt.Errorf("failed to query run: %w", err)
	}

	summary.OfferTypes = deserializeOfferTypes(offerTypes)
	return summary, nil
}

// GetTransactions returns the attributed transactions of a run, optionally
// restricted to one person, ordered by person and time.
func (db *DB) GetTransactions(ctx context.Context, runID, person string) ([]models.AttributedTransaction, error) {
	if _, err := db.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	query := `SELECT person, offer_type, transaction_time, amount, is_offer
		FROM attributed_transactions
		WHERE run_id = ?`
	args := []interface{}{runID}
	if person != "" {
		query += " AND person = ?"
		args = append(args, person)
	}
	query += " ORDER BY person, transaction_time"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txns := []models.AttributedTransaction{}
	for rows.Next() {
		var t models.AttributedTransaction
		var amount string
		if err := rows.Scan(&t.Person, &t.OfferType, &t.TransactionTime, &amount, &t.IsOffer); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
		}
		txns = append(txns, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txns, nil
}

// GetCompletions rebuilds the completion table of a run.
func (db *DB) GetCompletions(ctx context.Context, runID string) (models.CompletionTable, error) {
	summary, err := db.GetRun(ctx, runID)
	if err != nil {
		return models.CompletionTable{}, err
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT person, offer_type, events, viewed, completed
		FROM customer_completions
		WHERE run_id = ?
		ORDER BY person, offer_type`, runID)
	if err != nil {
		return models.CompletionTable{}, fmt.Errorf("failed to query completions: %w", err)
	}
	defer rows.Close()

	table := models.CompletionTable{OfferTypes: summary.OfferTypes, Rows: []models.CompletionRow{}}
	for rows.Next() {
		var person, offerType string
		var events, viewed, completed int64
		if err := rows.Scan(&person, &offerType, &events, &viewed, &completed); err != nil {
			return models.CompletionTable{}, fmt.Errorf("failed to scan completion: %w", err)
		}

		if n := len(table.Rows); n == 0 || table.Rows[n-1].Person != person {
			table.Rows = append(table.Rows, models.CompletionRow{
				Person:    person,
				Completed: zeroCounts(summary.OfferTypes),
				Viewed:    make(map[string]int64),
				Events:    make(map[string]int64),
			})
		}
		row := &table.Rows[len(table.Rows)-1]
		row.Events[offerType] = events
		row.Viewed[offerType] = viewed
		row.Completed[offerType] = completed
	}

	if err := rows.Err(); err != nil {
		return models.CompletionTable{}, fmt.Errorf("error iterating completions: %w", err)
	}

	return table, nil
}

// DeleteRun removes a run and its tables.
func (db *DB) DeleteRun(ctx context.Context, runID string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return nil
}

func zeroCounts(offerTypes []string) map[string]int64 {
	counts := make(map[string]int64, len(offerTypes))
	for _, t := range offerTypes {
		counts[t] = 0
	}
	return counts
}

// serializeOfferTypes converts the offer type columns to a JSON string.
func serializeOfferTypes(offerTypes []string) string {
	if len(offerTypes) == 0 {
		return "[]"
	}
	data, err := json.Marshal(offerTypes)
	if err != nil {
		return strings.Join(offerTypes, ",")
	}
	return string(data)
}

// deserializeOfferTypes converts serialized offer types back to a sorted slice.
func deserializeOfferTypes(serialized string) []string {
	if serialized == "" || serialized == "[]" {
		return []string{}
	}

	var result []string
	if err := json.Unmarshal([]byte(serialized), &result); err != nil {
		result = strings.Split(serialized, ",")
	}
	sort.Strings(result)
	return result
}
