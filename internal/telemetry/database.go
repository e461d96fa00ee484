package telemetry

import (
	"context"
	"database/sql"

	"github.com/XSAM/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OpenDB opens an instrumented Postgres pool and pins every connection to
// schema through the search_path connection parameter.
func OpenDB(ctx context.Context, dsn, schema string) (*sql.DB, error) {
	db, err := otelsql.Open("postgres", withSearchPath(dsn, schema),
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
