package core

import (
	"context"
	"fmt"
	"strings"

	"cruiseline/internal/datastore"

	"go.uber.org/zap"
)

// Service exposes the CRUD operations served for every Resource. Each call
// opens its own datastore handle and closes it before returning.
type Service struct {
	open   Opener
	logger *zap.Logger
}

// ServiceOption configures optional Service collaborators.
type ServiceOption func(*Service)

// WithLogger sets the logger used for datastore diagnostics.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a service that obtains handles from open.
func NewService(open Opener, opts ...ServiceOption) *Service {
	s := &Service{open: open, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns every row of the collection ordered by id ascending.
func (s *Service) List(ctx context.Context, res Resource) ([]datastore.Row, error) {
	var rows []datastore.Row
	err := s.withClient(ctx, res, "list", func(client datastore.Client) error {
		var err error
		rows, err = client.Select(ctx, res.Collection, datastore.Query{OrderBy: "id"})
		return err
	})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []datastore.Row{}
	}
	return rows, nil
}

// Get returns the row whose id matches.
func (s *Service) Get(ctx context.Context, res Resource, id string) (datastore.Row, error) {
	var rows []datastore.Row
	err := s.withClient(ctx, res, "get", func(client datastore.Client) error {
		if id == "" {
			return idRequired(res)
		}
		var err error
		rows, err = client.Select(ctx, res.Collection, datastore.Query{
			Filters: []datastore.Filter{datastore.Eq("id", id)},
			Limit:   1,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &NotFoundError{Resource: res.Name, ID: id}
	}
	return rows[0], nil
}

// Create validates the required fields and inserts row. When the datastore
// does not return the stored row the submitted one is echoed back.
// Validation runs once a handle is open, so configuration errors win.
func (s *Service) Create(ctx context.Context, res Resource, row datastore.Row) (datastore.Row, error) {
	var created datastore.Row
	err := s.withClient(ctx, res, "create", func(client datastore.Client) error {
		if missing := res.MissingFields(row); len(missing) > 0 {
			return &ValidationError{Message: "Missing required fields: " + strings.Join(missing, ", ")}
		}
		var err error
		created, err = client.Insert(ctx, res.Collection, row)
		return err
	})
	if err != nil {
		if datastore.IsConflict(err) {
			return nil, &ConflictError{Resource: res.Name, Err: err}
		}
		return nil, err
	}
	if created == nil {
		created = row
	}
	return created, nil
}

// Update writes every submitted field onto the row identified by row["id"].
func (s *Service) Update(ctx context.Context, res Resource, row datastore.Row) (datastore.Row, error) {
	id := IDOf(row)
	var rows []datastore.Row
	err := s.withClient(ctx, res, "update", func(client datastore.Client) error {
		if id == "" {
			return idRequired(res)
		}
		var err error
		rows, err = client.Update(ctx, res.Collection, row, datastore.Eq("id", id))
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &NotFoundError{Resource: res.Name, ID: id}
	}
	return rows[0], nil
}

// Delete removes the row with the given id and returns it.
func (s *Service) Delete(ctx context.Context, res Resource, id string) (datastore.Row, error) {
	var rows []datastore.Row
	err := s.withClient(ctx, res, "delete", func(client datastore.Client) error {
		if id == "" {
			return idRequired(res)
		}
		var err error
		rows, err = client.Delete(ctx, res.Collection, datastore.Eq("id", id))
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &NotFoundError{Resource: res.Name, ID: id}
	}
	return rows[0], nil
}

func (s *Service) withClient(ctx context.Context, res Resource, op string, fn func(datastore.Client) error) error {
	if s.open == nil {
		return fmt.Errorf("datastore opener not configured")
	}
	client, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			s.logger.Warn("close datastore handle", zap.String("driver", client.Driver()), zap.Error(cerr))
		}
	}()
	if err := fn(client); err != nil {
		s.logger.Debug("datastore call failed",
			zap.String("op", op),
			zap.String("collection", res.Collection),
			zap.String("driver", client.Driver()),
			zap.Error(err))
		return err
	}
	return nil
}

func idRequired(res Resource) error {
	return &ValidationError{Message: res.Name + " ID is required"}
}
