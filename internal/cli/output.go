package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"offer-attribution/internal/models"
	"offer-attribution/internal/pipeline"
)

type jsonExport struct {
	Summary      models.RunSummary              `json:"summary"`
	Transactions []models.AttributedTransaction `json:"transactions"`
	Completions  models.CompletionTable         `json:"completions"`
}

// writeStdout writes both tables to w. In csv mode the tables are separated
// by an empty line.
func writeStdout(w io.Writer, format string, summary models.RunSummary, result pipeline.Result) error {
	if format == "json" {
		return writeJSON(w, jsonExport{
			Summary:      summary,
			Transactions: nonNil(result.Transactions),
			Completions:  result.Completions,
		})
	}

	if err := writeTransactionsCSV(w, result.Transactions); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	return writeCompletionsCSV(w, result.Completions)
}

// writeDir writes transactions.<format> and completions.<format> into dir.
func writeDir(dir, format string, result pipeline.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	writeTxns := func(w io.Writer) error { return writeTransactionsCSV(w, result.Transactions) }
	writeCompletions := func(w io.Writer) error { return writeCompletionsCSV(w, result.Completions) }
	if format == "json" {
		writeTxns = func(w io.Writer) error { return writeJSON(w, nonNil(result.Transactions)) }
		writeCompletions = func(w io.Writer) error { return writeJSON(w, result.Completions) }
	}

	if err := writeFile(filepath.Join(dir, "transactions."+format), writeTxns); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, "completions."+format), writeCompletions)
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func writeTransactionsCSV(out io.Writer, txns []models.AttributedTransaction) error {
	w := csv.NewWriter(out)

	if err := w.Write([]string{"person", "offer_type", "transaction_time", "amount", "is_offer"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, t := range txns {
		row := []string{
			t.Person,
			t.OfferType,
			strconv.FormatInt(t.TransactionTime, 10),
			t.Amount.String(),
			isOfferFlag(t.IsOffer),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

// writeCompletionsCSV writes the pivot: one row per customer, one completed
// count column per offer type.
func writeCompletionsCSV(out io.Writer, table models.CompletionTable) error {
	w := csv.NewWriter(out)

	header := append([]string{"person"}, table.OfferTypes...)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range table.Rows {
		row := make([]string, 0, len(header))
		row = append(row, r.Person)
		for _, offerType := range table.OfferTypes {
			row = append(row, strconv.FormatInt(r.CompletedFor(offerType), 10))
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

// isOfferFlag encodes is_offer as 1 or 0.
func isOfferFlag(isOffer bool) string {
	if isOffer {
		return "1"
	}
	return "0"
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func nonNil(txns []models.AttributedTransaction) []models.AttributedTransaction {
	if txns == nil {
		return []models.AttributedTransaction{}
	}
	return txns
}
