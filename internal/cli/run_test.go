package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const transcriptJSONL = `{"person": "p1", "event": "offer received", "time": 0, "value": {"offer id": "o1"}}
{"person": "p1", "event": "offer viewed", "time": 1, "value": {"offer id": "o1"}}
{"person": "p1", "event": "transaction", "time": 3, "value": {"amount": 10}}
{"person": "p1", "event": "offer completed", "time": 3, "value": {"offer_id": "o1", "reward": 5}}
{"person": "p1", "event": "transaction", "time": 10, "value": {"amount": 4.5}}
{"person": "p2", "event": "transaction", "time": 2, "value": {"amount": 1.25}}
`

const portfolioJSON = `[
  {"id": "o1", "offer_type": "bogo", "duration": 5, "reward": 5, "difficulty": 5, "channels": ["email"]},
  {"id": "o2", "offer_type": "informational", "duration": 3, "reward": 0, "difficulty": 0, "channels": ["web"]}
]`

func writeInputs(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	transcript := filepath.Join(dir, "transcript.json")
	portfolio := filepath.Join(dir, "portfolio.json")
	require.NoError(t, os.WriteFile(transcript, []byte(transcriptJSONL), 0o644))
	require.NoError(t, os.WriteFile(portfolio, []byte(portfolioJSON), 0o644))
	return transcript, portfolio
}

// execute runs the root command with fresh flag values.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	dbPath, logLevel, logFormat = "", "error", "text"
	transcriptPath, portfolioPath, outDir, outFormat = "", "", "", "csv"
	showFormat = "csv"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRun_CSVToStdout(t *testing.T) {
	transcript, portfolio := writeInputs(t)

	out, err := execute(t, "run", "--transcript", transcript, "--portfolio", portfolio)
	require.NoError(t, err)

	want := strings.Join([]string{
		"person,offer_type,transaction_time,amount,is_offer",
		"p1,bogo,3,10,1",
		"p1,no_offer,10,4.5,0",
		"p2,no_offer,2,1.25,0",
		"",
		"person,bogo",
		"p1,1",
		"",
	}, "\n")
	assert.Equal(t, want, out)
}

func TestRun_JSONToDir(t *testing.T) {
	transcript, portfolio := writeInputs(t)
	dir := filepath.Join(t.TempDir(), "results")

	_, err := execute(t, "run", "-t", transcript, "-p", portfolio, "--out", dir, "--format", "json")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "transactions.json"))
	require.NoError(t, err)

	var txns []struct {
		Person    string `json:"person"`
		OfferType string `json:"offer_type"`
		Amount    string `json:"amount"`
		IsOffer   bool   `json:"is_offer"`
	}
	require.NoError(t, json.Unmarshal(data, &txns))
	require.Len(t, txns, 3)
	assert.Equal(t, "bogo", txns[0].OfferType)
	assert.Equal(t, "10", txns[0].Amount)
	assert.True(t, txns[0].IsOffer)

	data, err = os.ReadFile(filepath.Join(dir, "completions.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"offer_types": [`)
	assert.Contains(t, string(data), `"person": "p1"`)
}

func TestRun_CSVToDir(t *testing.T) {
	transcript, portfolio := writeInputs(t)
	dir := t.TempDir()

	_, err := execute(t, "run", "-t", transcript, "-p", portfolio, "-o", dir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "completions.csv"))
	require.NoError(t, err)
	assert.Equal(t, "person,bogo\np1,1\n", string(data))

	_, err = os.Stat(filepath.Join(dir, "transactions.csv"))
	assert.NoError(t, err)
}

func TestRun_InvalidFormat(t *testing.T) {
	transcript, portfolio := writeInputs(t)

	_, err := execute(t, "run", "-t", transcript, "-p", portfolio, "--format", "xml")
	assert.EqualError(t, err, "invalid format: must be 'csv' or 'json'")
}

func TestRun_InvalidTranscript(t *testing.T) {
	dir := t.TempDir()
	transcript := filepath.Join(dir, "transcript.json")
	_, portfolio := writeInputs(t)
	require.NoError(t, os.WriteFile(transcript, []byte(`{"person": "p1", "event": "offer sent", "time": 0, "value": {}}`), 0o644))

	_, err := execute(t, "run", "-t", transcript, "-p", portfolio)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid event at index 0")
}

func TestRun_PersistAndShow(t *testing.T) {
	transcript, portfolio := writeInputs(t)
	db := filepath.Join(t.TempDir(), "runs.db")

	out, err := execute(t, "run", "-t", transcript, "-p", portfolio, "--format", "json", "--db", db)
	require.NoError(t, err)

	var export jsonExport
	require.NoError(t, json.Unmarshal([]byte(out), &export))
	require.NotEmpty(t, export.Summary.RunID)
	assert.Equal(t, 1, export.Summary.AttributedToOffer)

	shown, err := execute(t, "show", export.Summary.RunID, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, shown, "p1,bogo,3,10,1")
	assert.Contains(t, shown, "person,bogo\np1,1\n")

	_, err = execute(t, "show", "does-not-exist", "--db", db)
	assert.EqualError(t, err, "run 'does-not-exist' not found")
}

func TestShow_RequiresDB(t *testing.T) {
	_, err := execute(t, "show", "some-run")
	assert.EqualError(t, err, "--db is required")
}
