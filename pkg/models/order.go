package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusShipped    Status = "Shipped"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"

	// StatusAll is the filter sentinel that lets every status through.
	StatusAll Status = "All"
)

var knownStatuses = map[Status]bool{
	StatusPending:    true,
	StatusProcessing: true,
	StatusShipped:    true,
	StatusDelivered:  true,
	StatusCancelled:  true,
}

func (s Status) Known() bool {
	return knownStatuses[s]
}

// Display returns the label shown to operators. Empty and unrecognized
// values become "Unknown"; filtering still uses the raw value.
func (s Status) Display() string {
	if !s.Known() {
		return "Unknown"
	}
	return string(s)
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var t Text
	if err := t.UnmarshalJSON(b); err != nil {
		return err
	}
	*s = Status(t)
	return nil
}

// OrderRecord is one customer order as written by the order-management
// process. This service never mutates it.
type OrderRecord struct {
	ID            string    `json:"id"`
	TokenNumber   Integer   `json:"tokenNumber"`
	InvoiceNumber Text      `json:"invoiceNumber,omitempty"`
	Customer      Text      `json:"customer,omitempty"`
	Phone         Text      `json:"phone,omitempty"`
	Address       Text      `json:"address,omitempty"`
	City          Text      `json:"city,omitempty"`
	OrderDate     Timestamp `json:"orderDate"`
	Status        Status    `json:"status,omitempty"`
	PDFDownloaded Flag      `json:"pdfDownloaded"`
	TotalAmount   Amount    `json:"totalAmount"`
	Cart          Cart      `json:"cart,omitempty"`
}

type LineItem struct {
	ProductName Text    `json:"productName,omitempty"`
	Quantity    Integer `json:"quantity"`
	OurPrice    Amount  `json:"ourPrice"`
}

// Cart accepts a JSON array, an index-keyed object (how realtime databases
// persist arrays) or null. Null entries are skipped.
type Cart []LineItem

func (c *Cart) UnmarshalJSON(b []byte) error {
	*c = nil

	switch firstByte(b) {
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil
		}
		for _, r := range raw {
			c.appendRaw(r)
		}
	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil
		}
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return indexLess(keys[i], keys[j]) })
		for _, k := range keys {
			c.appendRaw(raw[k])
		}
	}
	return nil
}

func (c *Cart) appendRaw(r json.RawMessage) {
	if firstByte(r) != '{' {
		return
	}
	var item LineItem
	if err := json.Unmarshal(r, &item); err != nil {
		return
	}
	*c = append(*c, item)
}

// Collection is the keyed document the order store exposes: order id to record.
type Collection map[string]OrderRecord

// Records flattens the collection into a list ordered by id. The map key is
// authoritative for ID.
func (c Collection) Records() []OrderRecord {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]OrderRecord, 0, len(ids))
	for _, id := range ids {
		rec := c[id]
		rec.ID = id
		out = append(out, rec)
	}
	return out
}

func DecodeRecord(id string, data []byte) (OrderRecord, error) {
	var rec OrderRecord
	if firstByte(data) != '{' {
		return rec, fmt.Errorf("order %s: document is not an object", id)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("order %s: %w", id, err)
	}
	rec.ID = id
	return rec, nil
}

// DecodeCollection decodes a keyed document. Records that cannot be decoded
// are left out and reported in the returned error; the rest of the
// collection is still returned.
func DecodeCollection(data []byte) (Collection, error) {
	out := Collection{}
	if firstByte(data) == 'n' || len(data) == 0 {
		return out, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return out, fmt.Errorf("decode collection: %w", err)
	}

	var errs []error
	for id, doc := range raw {
		if firstByte(doc) == 'n' {
			continue
		}
		rec, err := DecodeRecord(id, doc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[id] = rec
	}
	return out, errors.Join(errs...)
}
