package store

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"text/template"
)

// Tables names every table the engines touch.
type Tables struct {
	Applications string
	Approved     string
	Rejected     string
	Payments     string
	AdminLogs    string
}

func DefaultTables() Tables {
	return Tables{
		Applications: "applications",
		Approved:     "approved_applications",
		Rejected:     "rejected_applications",
		Payments:     "payments",
		AdminLogs:    "admin_logs",
	}
}

//go:embed schema.sql
var schemaSQL string

var schemaTmpl = template.Must(template.New("schema").Parse(schemaSQL))

// RenderSchema returns the DDL for t.
func RenderSchema(t Tables) (string, error) {
	var buf bytes.Buffer
	if err := schemaTmpl.Execute(&buf, t); err != nil {
		return "", fmt.Errorf("render schema: %w", err)
	}
	return buf.String(), nil
}

// EnsureSchema creates the tables, the version column and the change
// notification triggers if they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB, t Tables) error {
	ddl, err := RenderSchema(t)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
