// Package document reads and rewrites the channels document: the JSON file
// listing notification channels, their services and each service's
// watermark.
package document

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/jsonc"

	"github.com/example/qmatic-scheduler/internal/domain/booking"
	"github.com/example/qmatic-scheduler/internal/internaltypes"
)

type Document struct {
	Telegram Telegram  `json:"telegram"`
	Channels []Channel `json:"channels"`
}

type Telegram struct {
	BotToken string `json:"bot_token"`
	Enabled  bool   `json:"enabled"`
}

type Channel struct {
	ID       Text      `json:"id"`
	Name     string    `json:"name"`
	ChatID   Text      `json:"chat_id"`
	Services []Service `json:"services"`
}

type Service struct {
	BranchName         string `json:"branch_name"`
	BranchID           Text   `json:"branch_id"`
	ServiceName        string `json:"service_name"`
	ServiceID          Text   `json:"service_id"`
	QPID               Text   `json:"qpId"`
	Adult              int    `json:"adult"`
	VisitsPerDay       int    `json:"visits_per_day"`
	LastRegisteredDate string `json:"last_registered_date,omitempty"`
}

// Text accepts a JSON string or number. Chat ids in particular are written
// both ways.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*t = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("want string or number, got %s", b)
		}
		*t = Text(n.String())
	}
	return nil
}

func Load(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, internaltypes.Mark(errors.Wrapf(err, "read channels %s", path), internaltypes.ErrConfiguration)
	}
	doc, err := Parse(raw)
	if err != nil {
		return Document{}, errors.Wrapf(err, "channels %s", path)
	}
	return doc, nil
}

func Parse(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(jsonc.ToJSON(raw), &doc); err != nil {
		return Document{}, internaltypes.Mark(errors.Wrap(err, "parse"), internaltypes.ErrConfiguration)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (d Document) Validate() error {
	var problems []string
	seen := map[Text]bool{}
	for i, c := range d.Channels {
		where := fmt.Sprintf("channels[%d]", i)
		if c.ID == "" {
			problems = append(problems, where+": id is required")
		} else if seen[c.ID] {
			problems = append(problems, where+": duplicate id "+string(c.ID))
		}
		seen[c.ID] = true
		// watermarks are keyed by (channel id, service_id)
		services := map[Text]bool{}
		for j, s := range c.Services {
			at := fmt.Sprintf("%s.services[%d]", where, j)
			if s.BranchID == "" || s.ServiceID == "" {
				problems = append(problems, at+": branch_id and service_id are required")
			} else if services[s.ServiceID] {
				problems = append(problems, at+": duplicate service_id "+string(s.ServiceID)+" in channel "+string(c.ID))
			}
			services[s.ServiceID] = true
			if s.Adult < 1 {
				problems = append(problems, at+": adult must be >= 1")
			}
			if s.VisitsPerDay < 1 {
				problems = append(problems, at+": visits_per_day must be >= 1")
			}
			if s.LastRegisteredDate != "" && !booking.IsDate(s.LastRegisteredDate) {
				problems = append(problems, at+": last_registered_date must be YYYY-MM-DD")
			}
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return internaltypes.Markf(internaltypes.ErrConfiguration, "invalid channels document: %s", strings.Join(problems, "; "))
}

// BookingChannels converts the document into domain values, in document
// order.
func (d Document) BookingChannels() []booking.Channel {
	out := make([]booking.Channel, 0, len(d.Channels))
	for _, c := range d.Channels {
		ch := booking.Channel{ID: string(c.ID), Name: c.Name, ChatID: string(c.ChatID)}
		for _, s := range c.Services {
			ch.Services = append(ch.Services, booking.ServiceEntry{
				BranchName:         s.BranchName,
				BranchID:           string(s.BranchID),
				ServiceName:        s.ServiceName,
				ServiceID:          string(s.ServiceID),
				QPID:               string(s.QPID),
				Adult:              s.Adult,
				VisitsPerDay:       s.VisitsPerDay,
				LastRegisteredDate: s.LastRegisteredDate,
			})
		}
		out = append(out, ch)
	}
	return out
}

// Source loads channels from the document at Path. The file is read on
// every call so each cycle sees the watermarks written by the previous one.
type Source struct {
	Path string
}

func (s Source) Channels(context.Context) ([]booking.Channel, error) {
	doc, err := Load(s.Path)
	if err != nil {
		return nil, err
	}
	return doc.BookingChannels(), nil
}

// textOf renders a decoded tree value the way Text would.
func textOf(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}
