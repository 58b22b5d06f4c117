/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type sqliteScoreStore struct {
	db *sql.DB
}

func openSQLiteScoreStore(path string) (*sqliteScoreStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := applyMigrations(ctx, db, migrations, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &sqliteScoreStore{db: db}, nil
}

func (s *sqliteScoreStore) RecordScore(ctx context.Context, name string, score int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name, err := normalizeScore(name, score)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO player_scores (name, score, recorded_at) VALUES (?, ?, ?)`,
		name, score, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert score: %w", err)
	}

	return nil
}

func (s *sqliteScoreStore) TopScores(ctx context.Context, limit int) ([]ScoreEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []ScoreEntry{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, score, recorded_at
		   FROM player_scores
		  ORDER BY score DESC, recorded_at ASC, id ASC
		  LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	scores := make([]ScoreEntry, 0, limit)
	for rows.Next() {
		var (
			entry      ScoreEntry
			recordedAt int64
		)
		if err := rows.Scan(&entry.Name, &entry.Score, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		entry.RecordedAt = time.UnixMilli(recordedAt).UTC()
		scores = append(scores, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scores: %w", err)
	}

	return scores, nil
}

func (s *sqliteScoreStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
