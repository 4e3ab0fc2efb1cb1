package qmatic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/example/qmatic-scheduler/internal/domain/booking"
	"github.com/example/qmatic-scheduler/internal/internaltypes"
	"github.com/example/qmatic-scheduler/internal/pkg/retry"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Session is an authenticated client for the booking API. It is not safe for
// use by two cycles at once.
type Session struct {
	hc      *http.Client
	baseURL string
	siteURL string
	cookie  string
	token   string
	reads   *retry.Retrier
	logger  *slog.Logger
}

var _ booking.Remote = (*Session)(nil)

func (s *Session) Service(ctx context.Context, branchID, serviceID string) (booking.ServiceDetails, error) {
	var services []serviceDescriptor
	if err := s.getJSON(ctx, "/branches/"+url.PathEscape(branchID)+"/services;validate=true", &services); err != nil {
		return booking.ServiceDetails{}, errors.Wrap(err, "list services")
	}
	for _, d := range services {
		if d.PublicID == serviceID {
			return d.details(), nil
		}
	}
	return booking.ServiceDetails{}, internaltypes.Markf(internaltypes.ErrNotFound, "service %s not offered at branch %s", serviceID, branchID)
}

func (s *Session) Dates(ctx context.Context, entry booking.ServiceEntry, slotLength int) ([]string, error) {
	path := fmt.Sprintf("/branches/%s/dates;servicePublicId=%s;customSlotLength=%d",
		url.PathEscape(entry.BranchID), url.PathEscape(entry.ServiceID), slotLength)
	var entries []dateEntry
	if err := s.getJSON(ctx, path, &entries); err != nil {
		return nil, errors.Wrap(err, "list dates")
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Date)
	}
	return out, nil
}

func (s *Session) Times(ctx context.Context, entry booking.ServiceEntry, date string, slotLength int) ([]booking.SlotCandidate, error) {
	path := fmt.Sprintf("/branches/%s/dates/%s/times;servicePublicId=%s;customSlotLength=%d",
		url.PathEscape(entry.BranchID), url.PathEscape(date), url.PathEscape(entry.ServiceID), slotLength)
	var entries []timeEntry
	if err := s.getJSON(ctx, path, &entries); err != nil {
		return nil, errors.Wrapf(err, "list times for %s", date)
	}
	out := make([]booking.SlotCandidate, 0, len(entries))
	for _, e := range entries {
		if e.Time == "" {
			continue
		}
		out = append(out, booking.SlotCandidate{Date: date, Time: e.Time, SlotLength: slotLength})
	}
	return out, nil
}

func (s *Session) Reserve(ctx context.Context, req booking.ReserveRequest) (string, bool, error) {
	payload, err := newReservePayload(req.Entry)
	if err != nil {
		return "", false, errors.Wrap(err, "encode reserve payload")
	}
	path := fmt.Sprintf("/branches/%s/dates/%s/times/%s/reserve;customSlotLength=%d",
		url.PathEscape(req.Entry.BranchID), url.PathEscape(req.Date), url.PathEscape(req.Time), req.SlotLength)
	status, body, err := s.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return "", false, errors.Wrapf(err, "reserve %s %s", req.Date, req.Time)
	}
	if status >= 500 || sessionRejected(status) {
		return "", false, statusError(status, "reserve")
	}
	id, shape, ok := extractReservationID(body)
	if !ok {
		s.logger.Debug("reserve returned no id", "status", status, "date", req.Date, "time", req.Time)
		return "", false, nil
	}
	s.logger.Debug("reservation id found", "shape", shape, "id", id)
	return id, true, nil
}

func (s *Session) MatchCustomer(ctx context.Context, c booking.Customer) error {
	status, _, err := s.do(ctx, http.MethodPost, "/matchCustomer", newCustomerPayload(c))
	if err != nil {
		return errors.Wrap(err, "match customer")
	}
	if status < 200 || status > 299 {
		return statusError(status, "match customer")
	}
	return nil
}

func (s *Session) Confirm(ctx context.Context, req booking.ConfirmRequest) error {
	payload, err := newConfirmPayload(req)
	if err != nil {
		return errors.Wrap(err, "encode confirm payload")
	}
	status, _, err := s.do(ctx, http.MethodPost, "/appointments/"+url.PathEscape(req.ReservationID)+"/confirm", payload)
	if err != nil {
		return errors.Wrapf(err, "confirm %s", req.ReservationID)
	}
	if sessionRejected(status) {
		return statusError(status, "confirm "+req.ReservationID)
	}
	if status != http.StatusOK {
		return internaltypes.Markf(internaltypes.ErrRemoteRejection, "confirm %s: status %d", req.ReservationID, status)
	}
	return nil
}

func (s *Session) Close() error {
	s.hc.CloseIdleConnections()
	return nil
}

// getJSON retries transient failures with the configured backoff.
func (s *Session) getJSON(ctx context.Context, path string, out any) error {
	return s.reads.DoContext(ctx, func() error {
		status, body, err := s.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return statusError(status, "GET "+path)
		}
		return errors.Wrapf(decodeJSON(body, out), "decode %s", path)
	})
}

func (s *Session) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", s.cookie)
	req.Header.Set("Referer", s.siteURL)
	if s.token != "" {
		req.Header.Set("X-Csrf-Token", s.token)
	}

	res, err := s.hc.Do(req)
	if err != nil {
		return 0, nil, internaltypes.Mark(err, internaltypes.ErrTransientNetwork)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, internaltypes.Mark(err, internaltypes.ErrTransientNetwork)
	}
	return res.StatusCode, b, nil
}

func sessionRejected(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func statusError(status int, op string) error {
	kind := internaltypes.ErrRemoteRejection
	switch {
	case sessionRejected(status):
		kind = internaltypes.ErrAuthentication
	case status == http.StatusTooManyRequests || status >= 500:
		kind = internaltypes.ErrTransientNetwork
	}
	return internaltypes.Markf(kind, "%s: status %s", op, strconv.Itoa(status))
}

func decodeJSON(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return internaltypes.Mark(err, internaltypes.ErrRemoteRejection)
	}
	return nil
}

func isTransient(err error) bool {
	return errors.Is(err, internaltypes.ErrTransientNetwork)
}
