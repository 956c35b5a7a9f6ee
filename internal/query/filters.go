// Package query composes server-side filters into stable cache keys and
// applies the client-side free-text search to an already loaded page.
package query

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ErrInvalidFilters wraps every validation failure.
var ErrInvalidFilters = errors.New("query: invalid filters")

var (
	tokenPattern  = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)
	validStatuses = map[string]bool{"lead-captured": true, "needs-attention": true, "ai-handled": true}
)

// Filters are the parameters the upstream list endpoint accepts.
type Filters struct {
	Channel     string
	Intent      string
	Status      string
	HasFallback *bool
	HasLead     *bool
	Page        int
	Limit       int
}

// Normalize fills in page and limit defaults and lowercases the tokens.
func (f Filters) Normalize() Filters {
	f.Channel = strings.ToLower(strings.TrimSpace(f.Channel))
	f.Intent = strings.ToLower(strings.TrimSpace(f.Intent))
	f.Status = strings.ToLower(strings.TrimSpace(f.Status))
	if f.Page == 0 {
		f.Page = 1
	}
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	return f
}

// Validate checks a normalized filter set.
func (f Filters) Validate() error {
	if f.Page < 1 {
		return fmt.Errorf("%w: page %d", ErrInvalidFilters, f.Page)
	}
	if f.Limit < 1 || f.Limit > MaxLimit {
		return fmt.Errorf("%w: limit %d outside 1..%d", ErrInvalidFilters, f.Limit, MaxLimit)
	}
	for name, v := range map[string]string{"channel": f.Channel, "intent": f.Intent} {
		if v != "" && !tokenPattern.MatchString(v) {
			return fmt.Errorf("%w: %s %q", ErrInvalidFilters, name, v)
		}
	}
	if f.Status != "" && !validStatuses[f.Status] {
		return fmt.Errorf("%w: status %q", ErrInvalidFilters, f.Status)
	}
	return nil
}

// Values renders the filters as upstream query parameters. Unset filters are
// omitted.
func (f Filters) Values() url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(f.Page))
	v.Set("limit", strconv.Itoa(f.Limit))
	if f.Channel != "" {
		v.Set("channel", f.Channel)
	}
	if f.Intent != "" {
		v.Set("intent", f.Intent)
	}
	if f.Status != "" {
		v.Set("status", f.Status)
	}
	if f.HasFallback != nil {
		v.Set("has_fallback", strconv.FormatBool(*f.HasFallback))
	}
	if f.HasLead != nil {
		v.Set("has_lead", strconv.FormatBool(*f.HasLead))
	}
	return v
}

// BuildKey serializes resource and filters with sorted parameter names, so
// equal filter sets always map to the same key.
func BuildKey(resource string, f Filters) string {
	return resource + "?" + f.Normalize().Values().Encode()
}

// FromValues parses filters out of request query parameters. The search term
// is not a filter and is read separately.
func FromValues(q url.Values) (Filters, error) {
	f := Filters{
		Channel: q.Get("channel"),
		Intent:  q.Get("intent"),
		Status:  q.Get("status"),
	}
	var err error
	if f.Page, err = intParam(q, "page"); err != nil {
		return Filters{}, err
	}
	if f.Limit, err = intParam(q, "limit"); err != nil {
		return Filters{}, err
	}
	if f.HasFallback, err = boolParam(q, "has_fallback"); err != nil {
		return Filters{}, err
	}
	if f.HasLead, err = boolParam(q, "has_lead"); err != nil {
		return Filters{}, err
	}
	f = f.Normalize()
	return f, f.Validate()
}

func intParam(q url.Values, name string) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidFilters, name, raw)
	}
	return n, nil
}

func boolParam(q url.Values, name string) (*bool, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q", ErrInvalidFilters, name, raw)
	}
	return &b, nil
}
