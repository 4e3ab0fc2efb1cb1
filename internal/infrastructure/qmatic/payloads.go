package qmatic

import (
	"encoding/json"

	"github.com/example/qmatic-scheduler/internal/domain/booking"
)

const provenance = "Qmatic Web Booking"

type peopleService struct {
	PublicID string `json:"publicId"`
	QPID     string `json:"qpId"`
	Adult    int    `json:"adult"`
	Name     string `json:"name"`
	Child    int    `json:"child"`
}

type serviceRef struct {
	PublicID string `json:"publicId"`
}

type reservePayload struct {
	Services []serviceRef `json:"services"`
	// Custom is a JSON document encoded as a string.
	Custom string `json:"custom"`
}

type customerPayload struct {
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	DateOfBirth    string `json:"dateOfBirth"`
	ExternalID     string `json:"externalId"`
	AddressLine1   string `json:"addressLine1"`
	AddressLine2   string `json:"addressLine2"`
	AddressCity    string `json:"addressCity"`
	AddressZip     string `json:"addressZip"`
	AddressState   string `json:"addressState"`
	AddressCountry string `json:"addressCountry"`
	Custom         string `json:"custom"`
}

type confirmCustom struct {
	PeopleServices   []peopleService `json:"peopleServices"`
	TotalCost        int             `json:"totalCost"`
	CreatedByUser    string          `json:"createdByUser"`
	PaymentRef       string          `json:"paymentRef"`
	CustomSlotLength int             `json:"customSlotLength"`
}

type confirmPayload struct {
	Customer         customerPayload `json:"customer"`
	LanguageCode     string          `json:"languageCode"`
	CountryCode      string          `json:"countryCode"`
	Captcha          string          `json:"captcha"`
	Custom           string          `json:"custom"`
	Notes            string          `json:"notes"`
	Title            string          `json:"title"`
	NotificationType string          `json:"notificationType"`
}

func peopleServices(e booking.ServiceEntry) []peopleService {
	return []peopleService{{
		PublicID: e.ServiceID,
		QPID:     e.QPID,
		Adult:    e.Adult,
		Name:     e.ServiceName,
		Child:    0,
	}}
}

func newReservePayload(e booking.ServiceEntry) (reservePayload, error) {
	custom, err := json.Marshal(struct {
		PeopleServices []peopleService `json:"peopleServices"`
	}{peopleServices(e)})
	if err != nil {
		return reservePayload{}, err
	}
	return reservePayload{
		Services: []serviceRef{{PublicID: e.ServiceID}},
		Custom:   string(custom),
	}, nil
}

func newCustomerPayload(c booking.Customer) customerPayload {
	return customerPayload{Email: c.Email, Phone: c.Phone, Custom: "{}"}
}

func newConfirmPayload(req booking.ConfirmRequest) (confirmPayload, error) {
	custom, err := json.Marshal(confirmCustom{
		PeopleServices:   peopleServices(req.Entry),
		TotalCost:        0,
		CreatedByUser:    provenance,
		PaymentRef:       "",
		CustomSlotLength: req.SlotLength,
	})
	if err != nil {
		return confirmPayload{}, err
	}
	return confirmPayload{
		Customer:         newCustomerPayload(req.Customer),
		LanguageCode:     "pl",
		CountryCode:      "pl",
		Captcha:          "",
		Custom:           string(custom),
		Notes:            "",
		Title:            provenance,
		NotificationType: "both",
	}, nil
}

// reserveResponse covers both shapes the reserve endpoint answers with.
type reserveResponse struct {
	PublicID string `json:"publicId"`
	Value    *struct {
		PublicID string `json:"publicId"`
	} `json:"value"`
}

type idExtractor struct {
	name    string
	extract func(reserveResponse) (string, bool)
}

// reservationIDExtractors are tried in order; the first hit wins.
var reservationIDExtractors = []idExtractor{
	{name: "top-level", extract: func(r reserveResponse) (string, bool) {
		return r.PublicID, r.PublicID != ""
	}},
	{name: "value", extract: func(r reserveResponse) (string, bool) {
		if r.Value == nil {
			return "", false
		}
		return r.Value.PublicID, r.Value.PublicID != ""
	}},
}

// extractReservationID returns the reservation id and the shape it was found
// in. Bodies that are not JSON objects carry no id.
func extractReservationID(body []byte) (id string, shape string, ok bool) {
	var r reserveResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return "", "", false
	}
	for _, x := range reservationIDExtractors {
		if id, ok := x.extract(r); ok {
			return id, x.name, true
		}
	}
	return "", "", false
}

type serviceDescriptor struct {
	PublicID           string      `json:"publicId"`
	Name               string      `json:"name"`
	Duration           json.Number `json:"duration"`
	AdditionalDuration json.Number `json:"additionalDuration"`
}

func (d serviceDescriptor) details() booking.ServiceDetails {
	return booking.ServiceDetails{
		PublicID:           d.PublicID,
		Name:               d.Name,
		Duration:           numberOr(d.Duration, booking.DefaultDuration),
		AdditionalDuration: numberOr(d.AdditionalDuration, booking.DefaultAdditionalDuration),
	}
}

func numberOr(n json.Number, def int) int {
	if n == "" {
		return def
	}
	if i, err := n.Int64(); err == nil {
		return int(i)
	}
	if f, err := n.Float64(); err == nil {
		return int(f)
	}
	return def
}

type dateEntry struct {
	Date string `json:"date"`
}

type timeEntry struct {
	Time string `json:"time"`
}

type configurationResponse struct {
	Token string `json:"token"`
}
