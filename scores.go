/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const maxNameLength = 32

// ScoreEntry is one leaderboard row.
type ScoreEntry struct {
	Name       string    `json:"name"`
	Score      int       `json:"score"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ScoreStore persists finished games. TopScores orders by score descending,
// then by the order scores were recorded.
type ScoreStore interface {
	RecordScore(ctx context.Context, name string, score int) error
	TopScores(ctx context.Context, limit int) ([]ScoreEntry, error)
	Close() error
}

func normalizeScore(name string, score int) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidScore)
	}
	if score < 0 {
		return "", fmt.Errorf("%w: score must not be negative", ErrInvalidScore)
	}

	if utf8.RuneCountInString(name) > maxNameLength {
		name = string([]rune(name)[:maxNameLength])
	}

	return name, nil
}

func openScoreStore(cfg *Config) (ScoreStore, error) {
	switch cfg.store {
	case storeSQLite:
		return openSQLiteScoreStore(cfg.database)
	case storeBolt:
		return openBoltScoreStore(cfg.database)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStore, cfg.store)
	}
}
