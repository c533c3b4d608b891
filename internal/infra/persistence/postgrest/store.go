// Package postgrest implements the datastore contract over the REST interface
// a Supabase project exposes at /rest/v1. The service key is sent both as the
// apikey header and as a bearer token.
package postgrest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"cruiseline/internal/datastore"

	pgrest "github.com/supabase-community/postgrest-go"
)

// Compile-time contract assertion ensuring the store satisfies the datastore interface.
var _ datastore.Client = (*Store)(nil)

// Driver is the identifier reported by PostgREST handles.
const Driver = "postgrest"

const (
	restPath        = "/rest/v1"
	uniqueViolation = "23505"
	representation  = "representation"
)

// The client library reports failed requests as "(<code>) <message>".
var errorPattern = regexp.MustCompile(`(?s)^\(([^)]*)\) (.*)$`)

// Option customises a Store.
type Option func(*Store)

// WithTransport replaces the round tripper requests are sent through.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Store) {
		if rt != nil {
			s.transport = rt
		}
	}
}

// Store is a handle onto one Supabase project.
type Store struct {
	endpoint  string
	key       string
	transport http.RoundTripper
}

// NewStore validates endpoint and returns a handle. No request is made until
// the first query.
func NewStore(endpoint, serviceKey string, opts ...Option) (*Store, error) {
	if endpoint == "" || serviceKey == "" {
		return nil, datastore.ErrConfig
	}
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse postgrest url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("postgrest url must be http or https, got %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + restPath
	s := &Store{endpoint: u.String(), key: serviceKey, transport: http.DefaultTransport}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Driver returns the datastore driver identifier.
func (s *Store) Driver() string { return Driver }

// Close is a no-op: connections belong to the shared transport.
func (s *Store) Close() error { return nil }

// client builds a library client whose requests carry ctx.
func (s *Store) client(ctx context.Context) *pgrest.Client {
	c := pgrest.NewClient(s.endpoint, "", map[string]string{"apikey": s.key})
	c.SetAuthToken(s.key)
	if c.Transport != nil {
		c.Transport.Parent = contextTransport{ctx: ctx, next: s.transport}
	}
	return c
}

// Select issues GET /rest/v1/<table> with eq filters, order and limit.
func (s *Store) Select(ctx context.Context, table string, q datastore.Query) ([]datastore.Row, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	fb := applyFilters(s.client(ctx).From(table).Select("*", "", false), q.Filters)
	if q.OrderBy != "" {
		fb = fb.Order(q.OrderBy, &pgrest.OrderOpts{Ascending: true})
	}
	if q.Limit > 0 {
		fb = fb.Limit(q.Limit, "")
	}
	return execute(fb)
}

// Insert issues POST /rest/v1/<table> asking for the stored representation.
func (s *Store) Insert(ctx context.Context, table string, row datastore.Row) (datastore.Row, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	payload, err := encode(table, row)
	if err != nil {
		return nil, err
	}
	rows, err := execute(s.client(ctx).From(table).Insert(payload, false, "", representation, ""))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Update issues PATCH /rest/v1/<table> restricted by filters.
func (s *Store) Update(ctx context.Context, table string, values datastore.Row, filters ...datastore.Filter) ([]datastore.Row, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	payload, err := encode(table, values)
	if err != nil {
		return nil, err
	}
	return execute(applyFilters(s.client(ctx).From(table).Update(payload, representation, ""), filters))
}

// Delete issues DELETE /rest/v1/<table> restricted by filters.
func (s *Store) Delete(ctx context.Context, table string, filters ...datastore.Filter) ([]datastore.Row, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	return execute(applyFilters(s.client(ctx).From(table).Delete(representation, ""), filters))
}

func checkTable(table string) error {
	if table == "" || strings.ContainsAny(table, "/?#") {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

// encode marshals up front; the library records marshal failures on the
// client and hands back an unusable builder.
func encode(table string, row datastore.Row) (json.RawMessage, error) {
	payload, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", table, err)
	}
	return payload, nil
}

func applyFilters(fb *pgrest.FilterBuilder, filters []datastore.Filter) *pgrest.FilterBuilder {
	for _, f := range filters {
		if f.Value == nil {
			fb = fb.Is(f.Column, "null")
			continue
		}
		fb = fb.Eq(f.Column, datastore.FormatValue(f.Value))
	}
	return fb
}

func execute(fb *pgrest.FilterBuilder) ([]datastore.Row, error) {
	raw, _, err := fb.Execute()
	if err != nil {
		return nil, classify(err)
	}
	out := make([]datastore.Row, 0)
	if len(strings.TrimSpace(string(raw))) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode postgrest response: %w", err)
	}
	return out, nil
}

// classify recovers the PostgREST error code and message from the library's
// error text. Transport failures pass through untouched.
func classify(err error) error {
	m := errorPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return err
	}
	return &datastore.Error{
		Code:     m[1],
		Message:  m[2],
		Conflict: m[1] == uniqueViolation,
		Err:      err,
	}
}

// contextTransport attaches a request context; the library builds its
// requests without one.
type contextTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.next.RoundTrip(req.WithContext(t.ctx))
}
