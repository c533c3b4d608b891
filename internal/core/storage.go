package core

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"cruiseline/internal/datastore"
	"cruiseline/internal/infra/persistence/memory"
	"cruiseline/internal/infra/persistence/postgres"
	"cruiseline/internal/infra/persistence/postgrest"
	"cruiseline/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete datastore implementation.
type StorageDriver string

const (
	StorageMemory    StorageDriver = "memory"    // named in-process tables (tests / ephemeral)
	StorageSQLite    StorageDriver = "sqlite"    // local sqlite file
	StoragePostgres  StorageDriver = "postgres"  // direct PostgreSQL connection
	StoragePostgREST StorageDriver = "postgrest" // Supabase REST endpoint
)

// DatastoreSettings carries the two values a datastore handle is built from.
//
//	SUPABASE_URL: https://<project>.supabase.co | postgres://... | sqlite://path | memory://name
//	SUPABASE_SERVICE_KEY: service credential (REST key or database password)
type DatastoreSettings struct {
	URL        string
	ServiceKey string
}

// Opener builds a fresh datastore handle. The caller owns and closes it.
type Opener func(ctx context.Context) (datastore.Client, error)

// Opener binds the settings into an Opener.
func (s DatastoreSettings) Opener() Opener {
	return func(ctx context.Context) (datastore.Client, error) {
		return OpenDatastore(ctx, s)
	}
}

// DriverFor maps a datastore URL onto the driver that serves it.
func DriverFor(rawURL string) (StorageDriver, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse datastore url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return StoragePostgREST, nil
	case "postgres", "postgresql":
		return StoragePostgres, nil
	case "sqlite", "file":
		return StorageSQLite, nil
	case "memory":
		return StorageMemory, nil
	default:
		return "", fmt.Errorf("unknown datastore scheme %q", u.Scheme)
	}
}

// OpenDatastore builds a new handle from settings. Either value missing is a
// configuration error; nothing is cached between calls.
func OpenDatastore(ctx context.Context, settings DatastoreSettings) (datastore.Client, error) {
	rawURL := strings.TrimSpace(settings.URL)
	key := strings.TrimSpace(settings.ServiceKey)
	if rawURL == "" || key == "" {
		return nil, datastore.ErrConfig
	}
	driver, err := DriverFor(rawURL)
	if err != nil {
		return nil, err
	}
	switch driver {
	case StoragePostgREST:
		return postgrest.NewStore(rawURL, key)
	case StoragePostgres:
		dsn, err := postgresDSN(rawURL, key)
		if err != nil {
			return nil, err
		}
		return postgres.NewStore(ctx, dsn)
	case StorageSQLite:
		return sqlite.NewStore(sqlitePath(rawURL))
	default:
		return memory.Open(memoryName(rawURL)), nil
	}
}

// postgresDSN fills in the service key as password when the URL carries none.
func postgresDSN(rawURL, key string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse postgres url: %w", err)
	}
	user := "postgres"
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			return rawURL, nil
		}
		if name := u.User.Username(); name != "" {
			user = name
		}
	}
	u.User = url.UserPassword(user, key)
	return u.String(), nil
}

func sqlitePath(rawURL string) string {
	for _, prefix := range []string{"sqlite://", "file://", "file:"} {
		if strings.HasPrefix(rawURL, prefix) {
			rawURL = strings.TrimPrefix(rawURL, prefix)
			break
		}
	}
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		rawURL = rawURL[:i]
	}
	return rawURL
}

func memoryName(rawURL string) string {
	const scheme = "memory://"
	if len(rawURL) >= len(scheme) && strings.EqualFold(rawURL[:len(scheme)], scheme) {
		rawURL = rawURL[len(scheme):]
	}
	name := strings.Trim(rawURL, "/")
	if name == "" {
		return "default"
	}
	return name
}
