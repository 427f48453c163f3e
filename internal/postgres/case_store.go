package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/GautamJagannath/entrada/internal/cases"
)

const casesTable = "cases"

var (
	errMissingQuerier = errors.New("postgres: querier is required")
	// ErrCaseExists is returned when inserting a case whose identifier is taken.
	ErrCaseExists = errors.New("postgres: case already exists")
)

var caseColumns = []string{
	"case_id",
	"owner",
	"status",
	"form_data",
	"completion_percentage",
	"minor_name",
	"version",
	"created_at",
	"updated_at",
}

// Querier is the common interface implemented by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CaseStore implements cases.Store on PostgreSQL. form_data is stored as JSONB.
type CaseStore struct {
	q       Querier
	builder squirrel.StatementBuilderType
}

func NewCaseStore(q Querier) (*CaseStore, error) {
	if q == nil {
		return nil, errMissingQuerier
	}
	return &CaseStore{
		q:       q,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

func (s *CaseStore) Insert(ctx context.Context, record cases.Case) error {
	data, err := encodeFormData(record.FormData)
	if err != nil {
		return fmt.Errorf("case %s: %w", record.ID, err)
	}
	query, args, err := s.builder.
		Insert(casesTable).
		Columns(caseColumns...).
		Values(
			record.ID,
			record.Owner,
			string(record.Status),
			data,
			record.CompletionPercentage,
			record.MinorName,
			record.Version,
			record.CreatedAt.UTC(),
			record.UpdatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.q.Exec(ctx, query, args...); err != nil {
		return mapError(err, record.ID)
	}
	return nil
}

func (s *CaseStore) Get(ctx context.Context, caseID string) (cases.Case, error) {
	query, args, err := s.builder.
		Select(caseColumns...).
		From(casesTable).
		Where(squirrel.Eq{"case_id": caseID}).
		ToSql()
	if err != nil {
		return cases.Case{}, fmt.Errorf("build select: %w", err)
	}
	record, err := scanCase(s.q.QueryRow(ctx, query, args...))
	if err != nil {
		return cases.Case{}, mapError(err, caseID)
	}
	return record, nil
}

func (s *CaseStore) Save(ctx context.Context, record cases.Case) error {
	data, err := encodeFormData(record.FormData)
	if err != nil {
		return fmt.Errorf("case %s: %w", record.ID, err)
	}
	query, args, err := s.builder.
		Update(casesTable).
		Set("status", string(record.Status)).
		Set("form_data", data).
		Set("completion_percentage", record.CompletionPercentage).
		Set("minor_name", cases.MinorNameOf(record.FormData)).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", record.UpdatedAt.UTC()).
		Where(squirrel.Eq{"case_id": record.ID, "version": record.Version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return mapError(err, record.ID)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, record.ID)
	}
	return nil
}

func (s *CaseStore) UpdateStatus(ctx context.Context, caseID string, status cases.Status, updatedAt time.Time) error {
	query, args, err := s.builder.
		Update(casesTable).
		Set("status", string(status)).
		Set("updated_at", updatedAt.UTC()).
		Where(squirrel.Eq{"case_id": caseID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build status update: %w", err)
	}
	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return mapError(err, caseID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("case %s: %w", caseID, cases.ErrCaseNotFound)
	}
	return nil
}

// missingOrConflict tells a vanished row apart from a stale version after an
// UPDATE matched nothing.
func (s *CaseStore) missingOrConflict(ctx context.Context, caseID string) error {
	query, args, err := s.builder.
		Select("1").
		From(casesTable).
		Where(squirrel.Eq{"case_id": caseID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build existence check: %w", err)
	}
	var exists int
	if err := s.q.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return mapError(err, caseID)
	}
	return fmt.Errorf("case %s: %w", caseID, cases.ErrVersionConflict)
}

// UpdateProgress writes one auto-save snapshot in a single UPDATE ... RETURNING statement.
func (s *CaseStore) UpdateProgress(ctx context.Context, caseID string, progress cases.Progress) (cases.Case, error) {
	data, err := encodeFormData(progress.FormData)
	if err != nil {
		return cases.Case{}, fmt.Errorf("case %s: %w", caseID, err)
	}
	query, args, err := s.builder.
		Update(casesTable).
		Set("form_data", data).
		Set("completion_percentage", progress.CompletionPercentage).
		Set("minor_name", cases.MinorNameOf(progress.FormData)).
		Set("updated_at", progress.UpdatedAt.UTC()).
		Set("version", squirrel.Expr("version + 1")).
		Set("status", squirrel.Expr("CASE WHEN status = ? AND ? >= 100 THEN ? ELSE status END",
			string(cases.StatusDraft), progress.CompletionPercentage, string(cases.StatusReady))).
		Where(squirrel.Eq{"case_id": caseID}).
		Suffix("RETURNING " + strings.Join(caseColumns, ", ")).
		ToSql()
	if err != nil {
		return cases.Case{}, fmt.Errorf("build progress update: %w", err)
	}
	record, err := scanCase(s.q.QueryRow(ctx, query, args...))
	if err != nil {
		return cases.Case{}, mapError(err, caseID)
	}
	return record, nil
}

func (s *CaseStore) ListByOwner(ctx context.Context, owner string) ([]cases.Case, error) {
	query, args, err := s.builder.
		Select(caseColumns...).
		From(casesTable).
		Where(squirrel.Eq{"owner": owner}).
		OrderBy("updated_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases for %s: %w", owner, err)
	}
	defer rows.Close()

	records := make([]cases.Case, 0)
	for rows.Next() {
		record, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("list cases for %s: %w", owner, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cases for %s: %w", owner, err)
	}
	return records, nil
}

func (s *CaseStore) Delete(ctx context.Context, caseID string) error {
	query, args, err := s.builder.
		Delete(casesTable).
		Where(squirrel.Eq{"case_id": caseID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return mapError(err, caseID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("case %s: %w", caseID, cases.ErrCaseNotFound)
	}
	return nil
}

func scanCase(row pgx.Row) (cases.Case, error) {
	var (
		record    cases.Case
		status    string
		formData  []byte
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(
		&record.ID,
		&record.Owner,
		&status,
		&formData,
		&record.CompletionPercentage,
		&record.MinorName,
		&record.Version,
		&createdAt,
		&updatedAt,
	); err != nil {
		return cases.Case{}, err
	}
	record.Status = cases.Status(status)
	record.FormData = cases.FormData{}
	if len(formData) > 0 {
		if err := json.Unmarshal(formData, &record.FormData); err != nil {
			return cases.Case{}, fmt.Errorf("decode form data: %w", err)
		}
	}
	record.CreatedAt = createdAt.UTC()
	record.UpdatedAt = updatedAt.UTC()
	return record, nil
}

func encodeFormData(data cases.FormData) ([]byte, error) {
	encoded, err := data.Serialize()
	if err != nil {
		return nil, fmt.Errorf("encode form data: %w", err)
	}
	return encoded, nil
}

// mapError converts pgx errors to case store errors. Context errors pass through.
func mapError(err error, caseID string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("case %s: %w", caseID, err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("case %s: %w", caseID, cases.ErrCaseNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("case %s: %w", caseID, ErrCaseExists)
	}
	return fmt.Errorf("case %s: %w", caseID, err)
}
