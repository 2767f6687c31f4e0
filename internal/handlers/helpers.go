package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/currency"

	domain "github.com/stackmart/api/internal/domain"
	"github.com/stackmart/api/internal/platform/auth"
	"github.com/stackmart/api/internal/platform/pagination"
)

var (
	errBodyTooLarge     = errors.New("request body too large")
	errEmptyBody        = errors.New("request body is required")
	errNoEditableFields = errors.New("no editable fields provided")
)

const (
	tenantHeader    = "X-Tenant-ID"
	defaultTenantID = "default"
)

// freeTextPolicy strips all markup from user-supplied free text before it
// reaches the services (notes, cancellation reasons, adjustment notes).
var freeTextPolicy = bluemonday.StrictPolicy()

func sanitizeFreeText(value string) string {
	return strings.TrimSpace(freeTextPolicy.Sanitize(value))
}

// resolveTenant prefers the tenant claim on the verified token and falls back
// to the X-Tenant-ID header used by service callers.
func resolveTenant(r *http.Request, identity *auth.Identity) string {
	if identity != nil {
		if tenant := strings.TrimSpace(identity.TenantID); tenant != "" {
			return tenant
		}
	}
	if r != nil {
		if tenant := strings.TrimSpace(r.Header.Get(tenantHeader)); tenant != "" {
			return tenant
		}
	}
	return defaultTenantID
}

func validCurrencyCode(code string) bool {
	_, err := currency.ParseISO(strings.TrimSpace(code))
	return err == nil
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = 16 * 1024
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func isJSONNull(value json.RawMessage) bool {
	return strings.EqualFold(strings.TrimSpace(string(value)), "null")
}

func parseRFC3339(value string) (time.Time, error) {
	layouts := []string{time.RFC3339Nano, time.RFC3339}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", value)
}

func parseTimeParam(value string) (time.Time, error) {
	return parseRFC3339(strings.TrimSpace(value))
}

func parseLimitedPageSize(raw string, defaultSize, maxSize int) (int, error) {
	size, err := pagination.ParsePageSize(raw, defaultSize, maxSize)
	if err != nil {
		return 0, errors.New("page_size must be a positive integer")
	}
	return size, nil
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			normalized := strings.ToUpper(trimmed)
			if _, exists := seen[normalized]; exists {
				continue
			}
			seen[normalized] = struct{}{}
			filters = append(filters, normalized)
		}
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePointer(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return formatTime(*t)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func cloneStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	copy := *value
	return &copy
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}

type addressPayload struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      cloneStringPointer(addr.Line2),
		City:       addr.City,
		State:      cloneStringPointer(addr.State),
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      cloneStringPointer(addr.Phone),
	}
}

func (p addressPayload) toDomain() (domain.Address, error) {
	addr := domain.Address{
		Recipient:  strings.TrimSpace(p.Recipient),
		Line1:      strings.TrimSpace(p.Line1),
		City:       strings.TrimSpace(p.City),
		PostalCode: strings.TrimSpace(p.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(p.Country)),
	}
	if addr.Recipient == "" {
		return domain.Address{}, errors.New("address recipient is required")
	}
	if addr.Line1 == "" {
		return domain.Address{}, errors.New("address line1 is required")
	}
	if addr.City == "" {
		return domain.Address{}, errors.New("address city is required")
	}
	if addr.PostalCode == "" {
		return domain.Address{}, errors.New("address postal_code is required")
	}
	if len(addr.Country) != 2 {
		return domain.Address{}, errors.New("address country must be a 2-letter code")
	}
	if p.Line2 != nil {
		if trimmed := strings.TrimSpace(*p.Line2); trimmed != "" {
			addr.Line2 = &trimmed
		}
	}
	if p.State != nil {
		if trimmed := strings.TrimSpace(*p.State); trimmed != "" {
			addr.State = &trimmed
		}
	}
	if p.Phone != nil {
		if trimmed := strings.TrimSpace(*p.Phone); trimmed != "" {
			addr.Phone = &trimmed
		}
	}
	return addr, nil
}
