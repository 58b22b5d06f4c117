/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.etcd.io/bbolt"
)

var scoresBucket = []byte("scores")

type boltScoreStore struct {
	db *bbolt.DB
}

func openBoltScoreStore(path string) (*boltScoreStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(scoresBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not create scores bucket: %w", err)
	}

	return &boltScoreStore{db: db}, nil
}

// scoreKey sorts by score ascending, then by insertion descending, so a
// reverse cursor walk yields the highest score first and ties in the order
// they were recorded.
func scoreKey(score int, recordedAt time.Time, seq uint64) []byte {
	key := make([]byte, 24)
	binary.BigEndian.PutUint64(key[0:8], uint64(score))
	binary.BigEndian.PutUint64(key[8:16], math.MaxUint64-uint64(recordedAt.UnixNano()))
	binary.BigEndian.PutUint64(key[16:24], math.MaxUint64-seq)
	return key
}

func (s *boltScoreStore) RecordScore(ctx context.Context, name string, score int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name, err := normalizeScore(name, score)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(scoresBucket)

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		entry := ScoreEntry{
			Name:       name,
			Score:      score,
			RecordedAt: time.Now().UTC(),
		}

		value, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("error serializing score entry: %w", err)
		}

		return b.Put(scoreKey(score, entry.RecordedAt, seq), value)
	})
}

func (s *boltScoreStore) TopScores(ctx context.Context, limit int) ([]ScoreEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scores := []ScoreEntry{}
	if limit <= 0 {
		return scores, nil
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(scoresBucket).Cursor()

		for k, v := c.Last(); k != nil && len(scores) < limit; k, v = c.Prev() {
			var entry ScoreEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("error deserializing score entry: %w", err)
			}
			scores = append(scores, entry)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return scores, nil
}

func (s *boltScoreStore) Close() error {
	return s.db.Close()
}
