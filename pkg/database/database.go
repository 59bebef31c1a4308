// Copyright 2024-2026 Aiku AI

// Package database persists bridge state: federation instances, forward
// pairs and the message correlation table.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
	_ "modernc.org/sqlite"

	"github.com/aiku/q2tg/pkg/database/upgrades"
)

// Database bundles the query helpers of every table.
type Database struct {
	*dbutil.Database

	Instance *InstanceQuery
	Pair     *PairQuery
	Message  *MessageQuery
}

// New wraps an existing dbutil database.
func New(db *dbutil.Database, log zerolog.Logger) *Database {
	db.UpgradeTable = upgrades.Table
	db.Log = dbutil.ZeroLogger(log.With().Str("db_section", "main").Logger())
	return &Database{
		Database: db,
		Instance: &InstanceQuery{dbutil.MakeQueryHelper(db, func(qh *dbutil.QueryHelper[*Instance]) *Instance {
			return &Instance{qh: qh}
		})},
		Pair: &PairQuery{dbutil.MakeQueryHelper(db, func(qh *dbutil.QueryHelper[*Pair]) *Pair {
			return &Pair{qh: qh}
		})},
		Message: &MessageQuery{dbutil.MakeQueryHelper(db, func(qh *dbutil.QueryHelper[*Message]) *Message {
			return &Message{qh: qh}
		})},
	}
}

// Open opens (creating if needed) the SQLite file at path and upgrades the
// schema to the latest version.
func Open(ctx context.Context, path string, log zerolog.Logger) (*Database, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	rawDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc connections do not share an in-memory database, and SQLite
	// serializes writers anyway.
	rawDB.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err = rawDB.ExecContext(ctx, pragma); err != nil {
			_ = rawDB.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	wrapped, err := dbutil.NewWithDB(rawDB, "sqlite3")
	if err != nil {
		_ = rawDB.Close()
		return nil, fmt.Errorf("failed to wrap database: %w", err)
	}
	db := New(wrapped, log)
	if err = db.Upgrade(ctx); err != nil {
		_ = rawDB.Close()
		return nil, fmt.Errorf("failed to upgrade database: %w", err)
	}
	return db, nil
}
