// Package sessionstate implements the Session State component (C15):
// tracking the handful of per-connection settings a switch between hosts
// (failover or read/write splitting) must carry forward so the application
// doesn't notice the connection underneath changed (spec §6, §4.7).
package sessionstate

import (
	"context"
	"database/sql"

	"github.com/clusterwrap/driver/internal/dialect"
)

// State is the tracked subset of session settings spec §6 names: read-only
// mode, autocommit, transaction isolation, catalog and schema. A zero value
// means "never explicitly set," distinguished from "explicitly set to the
// zero-equivalent value" by the accompanying bool.
type State struct {
	ReadOnly    bool
	readOnlySet bool

	AutoCommit    bool
	autoCommitSet bool

	Isolation    dialect.IsolationLevel
	isolationSet bool

	Catalog string
	Schema  string
}

// New returns a State with nothing yet tracked.
func New() *State { return &State{} }

func (s *State) SetReadOnly(v bool) {
	s.ReadOnly, s.readOnlySet = v, true
}

func (s *State) SetAutoCommit(v bool) {
	s.AutoCommit, s.autoCommitSet = v, true
}

func (s *State) SetIsolation(level dialect.IsolationLevel) {
	s.Isolation, s.isolationSet = level, true
}

func (s *State) SetCatalog(catalog string) { s.Catalog = catalog }
func (s *State) SetSchema(schema string)   { s.Schema = schema }

// ObserveStatement inspects application-issued SQL for a session-state-
// changing statement the wrapper didn't itself originate, updating the
// tracked State to match so a later failover carries forward state the
// application set directly rather than through the wrapper's API (spec §6:
// "does-statement-set-* sniffers keep tracked state honest").
func (s *State) ObserveStatement(db dialect.Database, sql string) {
	if v, ok := db.DoesStatementSetReadOnly(sql); ok {
		s.SetReadOnly(v)
	}
	if v, ok := db.DoesStatementSetAutoCommit(sql); ok {
		s.SetAutoCommit(v)
	}
	if v, ok := db.DoesStatementSetTransactionIsolation(sql); ok {
		s.SetIsolation(v)
	}
	if v, ok := db.DoesStatementSetCatalog(sql); ok {
		s.SetCatalog(v)
	}
	if v, ok := db.DoesStatementSetSchema(sql); ok {
		s.SetSchema(v)
	}
}

// Reapply issues whatever SQL is needed against conn to bring it to match s,
// called immediately after a connection switch (spec §4.7: "the new
// connection MUST be brought to the same session state as the old one
// before the application's next call proceeds").
func (s *State) Reapply(ctx context.Context, conn *sql.DB, db dialect.Database) error {
	if s.readOnlySet {
		if _, err := conn.ExecContext(ctx, db.GetSetReadOnlyQuery(s.ReadOnly)); err != nil {
			return err
		}
	}
	if s.autoCommitSet {
		if _, err := conn.ExecContext(ctx, db.GetSetAutoCommitQuery(s.AutoCommit)); err != nil {
			return err
		}
	}
	if s.isolationSet {
		if _, err := conn.ExecContext(ctx, db.GetSetTransactionIsolationQuery(s.Isolation)); err != nil {
			return err
		}
	}
	if s.Catalog != "" {
		if _, err := conn.ExecContext(ctx, db.GetSetCatalogQuery(s.Catalog)); err != nil {
			return err
		}
	}
	if s.Schema != "" {
		if _, err := conn.ExecContext(ctx, db.GetSetSchemaQuery(s.Schema)); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns an independent copy, used when a plugin wants to snapshot
// state before attempting a risky operation it might need to roll back.
func (s *State) Clone() *State {
	cp := *s
	return &cp
}
