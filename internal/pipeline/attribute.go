package pipeline

import (
	"sort"

	"github.com/shopspring/decimal"

	"offer-attribution/internal/models"
)

type purchaseKey struct {
	person string
	time   int64
}

// candidate is a viewed offer whose validity window covers a purchase.
type candidate struct {
	offerType  string
	viewedAt   int64
	expiration int64
}

// better reports whether c should win the purchase over other: the most
// recently viewed offer wins, then the one expiring first, then the smaller
// offer type name.
func (c candidate) better(other candidate) bool {
	if c.viewedAt != other.viewedAt {
		return c.viewedAt > other.viewedAt
	}
	if c.expiration != other.expiration {
		return c.expiration < other.expiration
	}
	return c.offerType < other.offerType
}

// CollapseTransactions merges transaction events sharing (person, time) into
// one purchase with the summed amount. Missing amounts add nothing but the
// purchase is still kept. Output is sorted by person then time.
func CollapseTransactions(events []models.Event) []models.Transaction {
	sums := make(map[purchaseKey]decimal.Decimal)
	for _, e := range events {
		if e.Kind != models.EventTransaction {
			continue
		}
		key := purchaseKey{person: e.Person, time: e.Time}
		sum := sums[key]
		if e.Amount.Valid {
			sum = sum.Add(e.Amount.Decimal)
		}
		sums[key] = sum
	}

	txns := make([]models.Transaction, 0, len(sums))
	for key, amount := range sums {
		txns = append(txns, models.Transaction{
			Person:          key.person,
			TransactionTime: key.time,
			Amount:          amount,
		})
	}
	sort.Slice(txns, func(i, j int) bool {
		if txns[i].Person != txns[j].Person {
			return txns[i].Person < txns[j].Person
		}
		return txns[i].TransactionTime < txns[j].TransactionTime
	})

	return txns
}

// AttributeTransactions tags every purchase with the type of the viewed offer
// whose window [viewed time, expiration time] contains it, or with no_offer.
//
// Each purchase appears exactly once. Several viewed offers of one type over
// the same purchase count once and never multiply its amount; offers of
// different types are resolved by candidate.better. Offer rows without an
// expiration time (unknown offer) never match.
func AttributeTransactions(events []models.Event, enriched []models.EnrichedOfferEvent) []models.AttributedTransaction {
	txns := CollapseTransactions(events)

	viewed := make(map[string][]candidate)
	for _, e := range enriched {
		if e.Event != models.EventOfferViewed || e.OfferType == nil || e.ExpirationTime == nil {
			continue
		}
		viewed[e.Person] = append(viewed[e.Person], candidate{
			offerType:  *e.OfferType,
			viewedAt:   e.Time,
			expiration: *e.ExpirationTime,
		})
	}

	out := make([]models.AttributedTransaction, 0, len(txns))
	for _, txn := range txns {
		row := models.AttributedTransaction{
			Person:          txn.Person,
			OfferType:       models.NoOffer,
			TransactionTime: txn.TransactionTime,
			Amount:          txn.Amount,
		}

		var best *candidate
		for i, c := range viewed[txn.Person] {
			if txn.TransactionTime < c.viewedAt || txn.TransactionTime > c.expiration {
				continue
			}
			if best == nil || c.better(*best) {
				best = &viewed[txn.Person][i]
			}
		}
		if best != nil {
			row.OfferType = best.offerType
		}
		row.IsOffer = row.OfferType != models.NoOffer

		out = append(out, row)
	}

	return out
}
