// Package records talks to the firm's records store (Airtable): portfolio
// companies and the agenda archive.
package records

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
	"strings"
	"sync"
	"time"

	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/model"
)

const (
	defaultBaseURL = "https://api.airtable.com/v0"
	// Airtable accepts at most 10 records per write.
	writeBatchSize = 10
	namesTTL       = 5 * time.Minute
)

type Config struct {
	APIKey       string
	BaseID       string
	CompanyTable string
	AgendaTable  string
	BaseURL      string
	Timeout      time.Duration
}

// Client is an Airtable REST client scoped to one base.
type Client struct {
	http    *http.Client
	cfg     Config
	now     func() time.Time
	mu      sync.Mutex
	names   []string
	namesAt time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.CompanyTable == "" {
		cfg.CompanyTable = "Portfolio Companies"
	}
	if cfg.AgendaTable == "" {
		cfg.AgendaTable = "Agenda Items"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		http: &http.Client{Timeout: cfg.Timeout},
		cfg:  cfg,
		now:  time.Now,
	}
}

type record struct {
	ID     string         `json:"id,omitempty"`
	Fields map[string]any `json:"fields"`
}

type listResponse struct {
	Records []record `json:"records"`
	Offset  string   `json:"offset"`
}

// FindCompany looks a company up by exact, case-insensitive name.
func (c *Client) FindCompany(ctx context.Context, name string) (*model.Company, error) {
	q := url.Values{}
	q.Set("filterByFormula", fmt.Sprintf("LOWER({Name}) = LOWER('%s')", escapeFormula(name)))
	q.Set("maxRecords", "1")

	var resp listResponse
	if err := c.do(ctx, "records.find_company", http.MethodGet, c.tableURL(c.cfg.CompanyTable, q), nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Records) == 0 {
		return nil, domain.NotFound(fmt.Sprintf("a portfolio company named %q", name))
	}
	company := toCompany(resp.Records[0])
	return &company, nil
}

// ListCompanies returns every row of the company table.
func (c *Client) ListCompanies(ctx context.Context) ([]model.Company, error) {
	var (
		out    []model.Company
		offset string
	)
	for {
		q := url.Values{}
		q.Set("pageSize", "100")
		if offset != "" {
			q.Set("offset", offset)
		}
		var resp listResponse
		if err := c.do(ctx, "records.list_companies", http.MethodGet, c.tableURL(c.cfg.CompanyTable, q), nil, &resp); err != nil {
			return nil, err
		}
		for _, r := range resp.Records {
			company := toCompany(r)
			if company.Name != "" {
				out = append(out, company)
			}
		}
		if resp.Offset == "" {
			return out, nil
		}
		offset = resp.Offset
	}
}

// CompanyNames returns company names for mention classification. The list is
// cached in process briefly.
func (c *Client) CompanyNames(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	if c.names != nil && c.now().Sub(c.namesAt) < namesTTL {
		names := c.names
		c.mu.Unlock()
		return names, nil
	}
	c.mu.Unlock()

	companies, err := c.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(companies))
	for _, co := range companies {
		names = append(names, co.Name)
	}

	c.mu.Lock()
	c.names, c.namesAt = names, c.now()
	c.mu.Unlock()
	return names, nil
}

// UpsertAgendaRecord archives the items of a finalized agenda. Rows are keyed
// by channel, meeting date and insertion order, so re-archiving is harmless.
func (c *Client) UpsertAgendaRecord(ctx context.Context, rec model.AgendaRecord) error {
	date := rec.MeetingDate.Format("2006-01-02")
	rows := make([]record, 0, len(rec.Items))
	for _, it := range rec.Items {
		rows = append(rows, record{Fields: map[string]any{
			"Key":          fmt.Sprintf("%s:%s:%d", rec.ChannelID, date, it.InsertionOrder),
			"Category":     it.Category.Title(),
			"Item":         it.Text,
			"Submitted By": it.SubmittedBy,
			"Meeting Date": date,
			"Document":     rec.DocumentURL,
			"Status":       "Finalized",
		}})
	}

	for start := 0; start < len(rows); start += writeBatchSize {
		end := min(start+writeBatchSize, len(rows))
		body := map[string]any{
			"performUpsert": map[string]any{"fieldsToMergeOn": []string{"Key"}},
			"records":       rows[start:end],
			"typecast":      true,
		}
		if err := c.do(ctx, "records.upsert_agenda", http.MethodPatch, c.tableURL(c.cfg.AgendaTable, nil), body, nil); err != nil {
			return err
		}
	}

	slog.InfoContext(ctx, "agenda archived", "items", len(rows), "meeting_date", date)
	return nil
}

func (c *Client) tableURL(table string, q url.Values) string {
	u := fmt.Sprintf("%s/%s/%s", strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(c.cfg.BaseID), url.PathEscape(table))
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, op, method, u string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.Upstream(op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return domain.Upstream(op, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.Upstream(op, &domain.RateLimited{
			RetryAfter: retryAfter(resp.Header),
			Err:        fmt.Errorf("airtable status %d", resp.StatusCode),
		})
	case resp.StatusCode >= 300:
		return domain.Upstream(op, fmt.Errorf("airtable status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return domain.Upstream(op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// Airtable asks clients to wait 30s after a 429 when no header is sent.
func retryAfter(h http.Header) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After"))); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 30 * time.Second
}

func escapeFormula(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func toCompany(r record) model.Company {
	return model.Company{
		RecordID:         r.ID,
		Name:             field(r.Fields, "Name"),
		Stage:            field(r.Fields, "Stage"),
		Sector:           field(r.Fields, "Sector"),
		LeadPartner:      field(r.Fields, "Lead Partner"),
		LastBoardMeeting: field(r.Fields, "Last Board Meeting"),
		Notes:            field(r.Fields, "Notes"),
	}
}

func field(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(v)
	}
}
