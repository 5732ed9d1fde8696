// Package pipeline turns a customer event transcript and the offer portfolio
// into per-customer feature tables.
//
// The three stages are pure functions over in-memory tables:
//
//	EnrichOffers          events + offers   -> enriched offer events
//	AggregateCompletions  enriched          -> completion table
//	AttributeTransactions events + enriched -> attributed transactions
package pipeline

import "offer-attribution/internal/models"

// Result holds the output tables of one run.
type Result struct {
	Enriched     []models.EnrichedOfferEvent
	Completions  models.CompletionTable
	Transactions []models.AttributedTransaction
}

// Run executes the three stages in order.
func Run(events []models.Event, offers []models.Offer) Result {
	enriched := EnrichOffers(events, offers)
	return Result{
		Enriched:     enriched,
		Completions:  AggregateCompletions(enriched),
		Transactions: AttributeTransactions(events, enriched),
	}
}

// AttributedCount returns how many purchases were tagged with an offer type.
func (r Result) AttributedCount() int {
	n := 0
	for _, t := range r.Transactions {
		if t.IsOffer {
			n++
		}
	}
	return n
}
