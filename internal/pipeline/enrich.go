package pipeline

import (
	"offer-attribution/internal/ingest"
	"offer-attribution/internal/models"
)

// EnrichOffers left-joins every non-transaction event with its portfolio
// entry and computes the offer's validity window. Events whose offer id is
// missing or unknown are kept with nil metadata. Output order follows input.
func EnrichOffers(events []models.Event, offers []models.Offer) []models.EnrichedOfferEvent {
	byID := indexOffers(offers)

	enriched := make([]models.EnrichedOfferEvent, 0, len(events))
	for _, e := range events {
		if e.Kind == models.EventTransaction {
			continue
		}

		row := models.EnrichedOfferEvent{
			Person:  e.Person,
			Event:   models.EventKind(ingest.NormalizeEventName(string(e.Kind))),
			Time:    e.Time,
			OfferID: e.OfferID,
		}

		if e.OfferID != nil {
			if offer, ok := byID[*e.OfferID]; ok {
				offerType := offer.OfferType
				duration := offer.Duration
				typeEvent := offerType + "_" + string(row.Event)
				expiration := e.Time + duration

				row.OfferType = &offerType
				row.Duration = &duration
				row.OfferTypeEvent = &typeEvent
				row.ExpirationTime = &expiration
			}
		}

		enriched = append(enriched, row)
	}

	return enriched
}

// indexOffers keys the portfolio by id. The first entry wins on duplicate ids.
func indexOffers(offers []models.Offer) map[string]models.Offer {
	byID := make(map[string]models.Offer, len(offers))
	for _, o := range offers {
		if _, exists := byID[o.ID]; !exists {
			byID[o.ID] = o
		}
	}
	return byID
}
