package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	FacilityIDKey contextKey = "facility_id"
	DBConnKey     contextKey = "db_conn"
	TxKey         contextKey = "db_tx"
)

// FacilityHeader selects the facility whose schema serves a request.
const FacilityHeader = "X-Facility-ID"

var facilityIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaName returns the Postgres schema holding a facility's data.
func SchemaName(facilityID string) string {
	return fmt.Sprintf("facility_%s", facilityID)
}

// FacilityMiddleware pins a pooled connection to the facility's schema for
// the lifetime of the request.
func FacilityMiddleware(pool *pgxpool.Pool, defaultFacility string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			facilityID := extractFacilityID(c, defaultFacility)
			if !facilityIDPattern.MatchString(facilityID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid facility identifier")
			}

			ctx, release, err := AcquireFacility(c.Request().Context(), pool, facilityID)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer release()

			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("facility_id", facilityID)
			return next(c)
		}
	}
}

// AcquireFacility acquires a connection, sets its search_path to the
// facility schema and returns a context carrying both. release must be
// called once the context is no longer used.
func AcquireFacility(ctx context.Context, pool *pgxpool.Pool, facilityID string) (context.Context, func(), error) {
	if !facilityIDPattern.MatchString(facilityID) {
		return ctx, func() {}, fmt.Errorf("invalid facility identifier: %s", facilityID)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, func() {}, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(facilityID))); err != nil {
		conn.Release()
		return ctx, func() {}, fmt.Errorf("set search_path: %w", err)
	}
	ctx = context.WithValue(ctx, FacilityIDKey, facilityID)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return ctx, conn.Release, nil
}

func extractFacilityID(c echo.Context, defaultFacility string) string {
	// JWT claim wins over the header, header over the query string.
	if fid, ok := c.Get("jwt_facility_id").(string); ok && fid != "" {
		return fid
	}
	if fid := c.Request().Header.Get(FacilityHeader); fid != "" {
		return fid
	}
	if fid := c.QueryParam("facility_id"); fid != "" {
		return fid
	}
	return defaultFacility
}

// ConnFromContext returns the transaction in ctx if there is one, otherwise
// the facility-scoped connection, otherwise nil.
func ConnFromContext(ctx context.Context) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	if conn, ok := ctx.Value(DBConnKey).(*pgxpool.Conn); ok && conn != nil {
		return conn
	}
	return nil
}

// FacilityFromContext retrieves the facility ID from context.
func FacilityFromContext(ctx context.Context) string {
	fid, _ := ctx.Value(FacilityIDKey).(string)
	return fid
}

// CreateFacilitySchema creates a facility's schema and runs all migrations
// against it. Migrations are skipped when migrationsDir is empty.
func CreateFacilitySchema(ctx context.Context, pool *pgxpool.Pool, facilityID string, migrationsDir string) error {
	if !facilityIDPattern.MatchString(facilityID) {
		return fmt.Errorf("invalid facility identifier: %s", facilityID)
	}
	schema := SchemaName(facilityID)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrationsDir != "" {
		migrator := NewMigrator(pool, migrationsDir)
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}
