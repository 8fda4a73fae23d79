package carrier

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shipsync/backend/internal/domain/shipping"
	"github.com/shopspring/decimal"
)

// shipmentsResponse is the envelope of GET /shipments
type shipmentsResponse struct {
	Shipments []json.RawMessage `json:"shipments"`
	Total     int               `json:"total"`
	Page      int               `json:"page"`
	Pages     int               `json:"pages"`
}

// remoteID accepts identifiers sent either as JSON numbers or strings
type remoteID string

// UnmarshalJSON implements json.Unmarshaler
func (id *remoteID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = remoteID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = remoteID(n.String())
	return nil
}

// remoteShipment is one shipment as reported by the carrier platform
type remoteShipment struct {
	ShipmentID        remoteID         `json:"shipmentId"`
	OrderNumber       string           `json:"orderNumber"`
	TrackingNumber    string           `json:"trackingNumber"`
	CarrierCode       string           `json:"carrierCode"`
	ServiceCode       string           `json:"serviceCode"`
	Status            string           `json:"shipmentStatus"`
	StatusDescription string           `json:"statusDescription"`
	ShipDate          string           `json:"shipDate"`
	ShipmentCost      *decimal.Decimal `json:"shipmentCost"`
	LabelURL          string           `json:"labelUrl"`
	Voided            bool             `json:"voided"`
}

var shipDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.0000000",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseShipDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range shipDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// toShipment converts the wire shipment. A shipment record exists only once a
// label was bought, so a missing status means shipped.
func (r *remoteShipment) toShipment(raw json.RawMessage) shipping.Shipment {
	status := shipping.ShipmentStatusShipped
	switch {
	case r.Voided:
		status = shipping.ShipmentStatusCancelled
	case strings.TrimSpace(r.Status) != "":
		status = shipping.ParseShipmentStatus(r.Status)
	}

	cost := decimal.Zero
	if r.ShipmentCost != nil {
		cost = *r.ShipmentCost
	}

	return shipping.Shipment{
		ShipmentID:        string(r.ShipmentID),
		OrderNumber:       strings.TrimSpace(r.OrderNumber),
		TrackingNumber:    strings.TrimSpace(r.TrackingNumber),
		CarrierCode:       r.CarrierCode,
		ServiceCode:       r.ServiceCode,
		Status:            status,
		StatusDescription: r.StatusDescription,
		ShipDate:          parseShipDate(r.ShipDate),
		ShipmentCost:      cost,
		LabelURL:          r.LabelURL,
		RawPayload:        raw,
	}
}
