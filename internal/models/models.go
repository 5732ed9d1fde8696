package models

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"
)

// EventKind is the normalized name of a transcript event.
type EventKind string

const (
	EventOfferReceived  EventKind = "offer_received"
	EventOfferViewed    EventKind = "offer_viewed"
	EventOfferCompleted EventKind = "offer_completed"
	EventTransaction    EventKind = "transaction"
)

// IsOffer reports whether the kind carries an offer id rather than an amount.
func (k EventKind) IsOffer() bool {
	return k == EventOfferReceived || k == EventOfferViewed || k == EventOfferCompleted
}

// Offer types found in the portfolio.
const (
	OfferTypeBOGO          = "bogo"
	OfferTypeDiscount      = "discount"
	OfferTypeInformational = "informational"

	// NoOffer tags a transaction that no viewed offer window covers.
	NoOffer = "no_offer"
)

// Event is one transcript record. Offer events carry OfferID, transactions
// carry Amount; the other field is left empty.
type Event struct {
	Person  string              `json:"person"`
	Kind    EventKind           `json:"event"`
	Time    int64               `json:"time"`
	OfferID *string             `json:"offer_id,omitempty"`
	Amount  decimal.NullDecimal `json:"amount"`
}

// Offer is one portfolio record.
type Offer struct {
	ID         string   `json:"id"`
	OfferType  string   `json:"offer_type"`
	Duration   int64    `json:"duration"`
	Reward     int64    `json:"reward"`
	Difficulty int64    `json:"difficulty"`
	Channels   []string `json:"channels"`
}

// EnrichedOfferEvent is an offer event left-joined with its portfolio entry.
// Metadata fields are nil when the offer id did not resolve.
type EnrichedOfferEvent struct {
	Person         string    `json:"person"`
	Event          EventKind `json:"event"`
	Time           int64     `json:"time"`
	OfferID        *string   `json:"offer_id"`
	OfferType      *string   `json:"offer_type"`
	Duration       *int64    `json:"duration"`
	OfferTypeEvent *string   `json:"offer_type_event"`
	ExpirationTime *int64    `json:"expiration_time"`
}

// Transaction is a purchase: all transaction events of a person at one time.
type Transaction struct {
	Person          string          `json:"person"`
	TransactionTime int64           `json:"transaction_time"`
	Amount          decimal.Decimal `json:"amount"`
}

// AttributedTransaction is a purchase tagged with the offer type that influenced it.
type AttributedTransaction struct {
	Person          string          `json:"person"`
	OfferType       string          `json:"offer_type"`
	TransactionTime int64           `json:"transaction_time"`
	Amount          decimal.Decimal `json:"amount"`
	IsOffer         bool            `json:"is_offer"`
}

// CompletionRow holds the per offer type counts of one customer.
type CompletionRow struct {
	Person    string           `json:"person"`
	Completed map[string]int64 `json:"completed"`
	Viewed    map[string]int64 `json:"viewed"`
	Events    map[string]int64 `json:"events"`
}

// CompletedFor returns the completed count for an offer type, 0 when absent.
func (r CompletionRow) CompletedFor(offerType string) int64 {
	return r.Completed[offerType]
}

// CompletionTable is the person x offer type pivot of completed offers.
type CompletionTable struct {
	OfferTypes []string        `json:"offer_types"`
	Rows       []CompletionRow `json:"rows"`
}

// Row returns the row for a person.
func (t CompletionTable) Row(person string) (CompletionRow, bool) {
	i := sort.Search(len(t.Rows), func(i int) bool { return t.Rows[i].Person >= person })
	if i < len(t.Rows) && t.Rows[i].Person == person {
		return t.Rows[i], true
	}
	return CompletionRow{}, false
}

// RunSummary describes a finished pipeline run.
type RunSummary struct {
	RunID             string   `json:"run_id"`
	Events            int      `json:"events"`
	Offers            int      `json:"offers"`
	EnrichedEvents    int      `json:"enriched_events"`
	Transactions      int      `json:"transactions"`
	AttributedToOffer int      `json:"attributed_to_offer"`
	Customers         int      `json:"customers"`
	OfferTypes        []string `json:"offer_types"`
}

// RawEvent is a transcript record as it appears in the source data.
type RawEvent struct {
	Person string          `json:"person"`
	Event  string          `json:"event"`
	Time   int64           `json:"time"`
	Value  json.RawMessage `json:"value"`
}

// CreateRunRequest is the request body for starting a run.
type CreateRunRequest struct {
	Events    []RawEvent `json:"events"`
	Portfolio []Offer    `json:"portfolio"`
}

// TransactionsResponse is the response for listing attributed transactions.
type TransactionsResponse struct {
	RunID        string                  `json:"run_id"`
	Transactions []AttributedTransaction `json:"transactions"`
}

// CompletionsResponse is the response for the completion table.
type CompletionsResponse struct {
	RunID       string          `json:"run_id"`
	Completions CompletionTable `json:"completions"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
