package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"offer-attribution/internal/models"
)

// Keys under which an offer event may carry its offer id. The first present
// key wins.
var offerIDKeys = []string{"offer id", "offer_id"}

const amountKey = "amount"

// NormalizeEventName replaces spaces with underscores ("offer received" -> "offer_received").
func NormalizeEventName(name string) string {
	return strings.ReplaceAll(name, " ", "_")
}

// ParseEventKind maps a raw event name onto a known kind.
func ParseEventKind(name string) (models.EventKind, error) {
	kind := models.EventKind(NormalizeEventName(strings.TrimSpace(name)))
	switch kind {
	case models.EventOfferReceived, models.EventOfferViewed, models.EventOfferCompleted, models.EventTransaction:
		return kind, nil
	}
	return "", fmt.Errorf("unknown event %q", name)
}

// OfferID extracts the offer id from an event value. It returns nil when
// neither "offer id" nor "offer_id" is present or both are null.
func OfferID(value map[string]json.RawMessage) (*string, error) {
	for _, key := range offerIDKeys {
		raw, ok := value[key]
		if !ok || isNull(raw) {
			continue
		}
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, fmt.Errorf("%q must be a string: %w", key, err)
		}
		return &id, nil
	}
	return nil, nil
}

// Amount extracts the transaction amount from an event value. A missing or
// null amount yields an invalid NullDecimal.
func Amount(value map[string]json.RawMessage) (decimal.NullDecimal, error) {
	raw, ok := value[amountKey]
	if !ok || isNull(raw) {
		return decimal.NullDecimal{}, nil
	}
	var amount decimal.Decimal
	if err := amount.UnmarshalJSON(raw); err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%q must be a number: %w", amountKey, err)
	}
	return decimal.NewNullDecimal(amount), nil
}

// ParseEvent resolves a raw transcript record into its typed form.
func ParseEvent(raw models.RawEvent) (models.Event, error) {
	kind, err := ParseEventKind(raw.Event)
	if err != nil {
		return models.Event{}, err
	}

	if len(raw.Value) == 0 || isNull(raw.Value) {
		return models.Event{}, fmt.Errorf("value is required")
	}
	var value map[string]json.RawMessage
	if err := json.Unmarshal(raw.Value, &value); err != nil {
		return models.Event{}, fmt.Errorf("value must be an object: %w", err)
	}

	event := models.Event{
		Person: raw.Person,
		Kind:   kind,
		Time:   raw.Time,
	}

	if kind == models.EventTransaction {
		event.Amount, err = Amount(value)
	} else {
		event.OfferID, err = OfferID(value)
	}
	if err != nil {
		return models.Event{}, err
	}

	return event, nil
}

// ParseRawEvents parses every raw record, failing on the first bad one.
func ParseRawEvents(raws []models.RawEvent) ([]models.Event, error) {
	events := make([]models.Event, 0, len(raws))
	for i, raw := range raws {
		event, err := ParseEvent(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid event at index %d: %w", i, err)
		}
		events = append(events, event)
	}
	return events, nil
}

// ParseEvents reads transcript records from a JSON array or JSON lines.
func ParseEvents(r io.Reader) ([]models.Event, error) {
	var raws []models.RawEvent
	if err := decodeRecords(r, &raws); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}
	return ParseRawEvents(raws)
}

// ParseOffers reads portfolio records from a JSON array or JSON lines.
func ParseOffers(r io.Reader) ([]models.Offer, error) {
	var offers []models.Offer
	if err := decodeRecords(r, &offers); err != nil {
		return nil, fmt.Errorf("failed to decode portfolio: %w", err)
	}
	return offers, nil
}

// LoadFiles reads the transcript and portfolio files.
func LoadFiles(transcriptPath, portfolioPath string) ([]models.Event, []models.Offer, error) {
	tf, err := os.Open(transcriptPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer tf.Close()

	events, err := ParseEvents(tf)
	if err != nil {
		return nil, nil, err
	}

	pf, err := os.Open(portfolioPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open portfolio: %w", err)
	}
	defer pf.Close()

	offers, err := ParseOffers(pf)
	if err != nil {
		return nil, nil, err
	}

	return events, offers, nil
}

// decodeRecords fills dest (a pointer to a slice) from either a single JSON
// array or one JSON object per line.
func decodeRecords[T any](r io.Reader, dest *[]T) error {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}

	if first == '[' {
		dec := json.NewDecoder(br)
		if err := dec.Decode(dest); err != nil {
			return err
		}
		var extra json.RawMessage
		if err := dec.Decode(&extra); err != io.EOF {
			return fmt.Errorf("unexpected data after JSON array")
		}
		return nil
	}

	dec := json.NewDecoder(br)
	for line := 1; ; line++ {
		var rec T
		if err := dec.Decode(&rec); err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("record %d: %w", line, err)
		}
		*dest = append(*dest, rec)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if b == ' ' || b == '\n' || b == '\r' || b == '\t' {
			continue
		}
		return b, br.UnreadByte()
	}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
