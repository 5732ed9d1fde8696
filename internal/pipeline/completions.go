package pipeline

import (
	"sort"

	"offer-attribution/internal/models"
)

// AggregateCompletions counts, per customer and offer type, the viewed and
// completed offers and pivots the completed counts into one row per customer.
//
// Only offer_viewed and offer_completed events of a known, non-informational
// offer type take part. Customers without such events do not get a row.
func AggregateCompletions(enriched []models.EnrichedOfferEvent) models.CompletionTable {
	rows := make(map[string]*models.CompletionRow)
	types := make(map[string]struct{})

	for _, e := range enriched {
		if e.Event != models.EventOfferViewed && e.Event != models.EventOfferCompleted {
			continue
		}
		if e.OfferType == nil || *e.OfferType == models.OfferTypeInformational {
			continue
		}
		offerType := *e.OfferType

		row, ok := rows[e.Person]
		if !ok {
			row = &models.CompletionRow{
				Person:    e.Person,
				Completed: make(map[string]int64),
				Viewed:    make(map[string]int64),
				Events:    make(map[string]int64),
			}
			rows[e.Person] = row
		}
		types[offerType] = struct{}{}

		row.Events[offerType]++
		if e.Event == models.EventOfferCompleted {
			row.Completed[offerType]++
		} else {
			row.Viewed[offerType]++
		}
	}

	table := models.CompletionTable{
		OfferTypes: make([]string, 0, len(types)),
		Rows:       make([]models.CompletionRow, 0, len(rows)),
	}
	for t := range types {
		table.OfferTypes = append(table.OfferTypes, t)
	}
	sort.Strings(table.OfferTypes)

	for _, row := range rows {
		for _, t := range table.OfferTypes {
			if _, ok := row.Completed[t]; !ok {
				row.Completed[t] = 0
			}
		}
		table.Rows = append(table.Rows, *row)
	}
	sort.Slice(table.Rows, func(i, j int) bool {
		return table.Rows[i].Person < table.Rows[j].Person
	})

	return table
}
