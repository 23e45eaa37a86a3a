package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Diagnosis is the log-side view of a failed request. It is never rendered to
// clients; responses.WriteError sends only the code metadata.
type Diagnosis struct {
	Message string
	Code    Code
	Chain   []string
	PG      *PGDetails
}

// PGDetails is what postgres reported for a failed statement, from either
// pgx or lib/pq.
type PGDetails struct {
	Code       string
	Constraint string
	Table      string
	Column     string
	Detail     string
}

func Diagnose(err error) Diagnosis {
	if err == nil {
		return Diagnosis{}
	}
	d := Diagnosis{Message: err.Error(), PG: pgDetails(err)}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T", e))
	}
	return d
}

// Fields flattens the diagnosis for logger.WithFields.
func (d Diagnosis) Fields() map[string]any {
	f := map[string]any{"error": d.Message}
	if d.Code != "" {
		f["error_code"] = string(d.Code)
	}
	if len(d.Chain) > 0 {
		f["error_chain"] = d.Chain
	}
	if d.PG != nil {
		f["pg_code"] = d.PG.Code
		if d.PG.Constraint != "" {
			f["pg_constraint"] = d.PG.Constraint
		}
		if d.PG.Table != "" {
			f["pg_table"] = d.PG.Table
		}
		if d.PG.Detail != "" {
			f["pg_detail"] = d.PG.Detail
		}
	}
	return f
}

func pgDetails(err error) *PGDetails {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &PGDetails{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &PGDetails{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
		}
	}
	return nil
}
