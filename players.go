/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const playerCookieName = "higherlower_id"

// FinishedGame is the last game a player lost, kept for the game-over chart
// and for claiming a leaderboard entry.
type FinishedGame struct {
	Score      int
	History    []GuessEntry
	FinishedAt time.Time
	Claimed    bool
}

// Player is the server-side state behind one cookie. Callers hold mu for the
// duration of a request.
type Player struct {
	mu       sync.Mutex
	session  Session
	lastGame *FinishedGame
}

// finish stores the result of a terminated session.
func (p *Player) finish(result GuessResult) {
	p.lastGame = &FinishedGame{
		Score:      result.Score,
		History:    slices.Clone(result.History),
		FinishedAt: time.Now(),
	}
}

// claim hands out the last finished score once.
func (p *Player) claim() (int, error) {
	if p.lastGame == nil || p.lastGame.Claimed {
		return 0, ErrNoFinishedGame
	}
	p.lastGame.Claimed = true
	return p.lastGame.Score, nil
}

func (p *Player) unclaim() {
	if p.lastGame != nil {
		p.lastGame.Claimed = false
	}
}

type playerEntry struct {
	player     *Player
	lastActive time.Time
}

// PlayerManager holds players keyed by cookie ID and forgets the ones that
// have been idle longer than idleTimeout.
type PlayerManager struct {
	mu          sync.Mutex
	players     map[string]*playerEntry
	idleTimeout time.Duration
}

func newPlayerManager(idleTimeout time.Duration) *PlayerManager {
	return &PlayerManager{
		players:     make(map[string]*playerEntry),
		idleTimeout: idleTimeout,
	}
}

func (pm *PlayerManager) get(id string) *Player {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if e, ok := pm.players[id]; ok {
		e.lastActive = time.Now()
		return e.player
	}

	p := &Player{}
	pm.players[id] = &playerEntry{
		player:     p,
		lastActive: time.Now(),
	}
	return p
}

func (pm *PlayerManager) count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	return len(pm.players)
}

// reap drops players idle since before cutoff and reports how many were removed.
func (pm *PlayerManager) reap(cutoff time.Time) int {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	removed := 0
	for id, e := range pm.players {
		if e.lastActive.Before(cutoff) {
			delete(pm.players, id)
			removed++
		}
	}
	return removed
}

// reaperLoop periodically removes idle players until ctx is done.
func (pm *PlayerManager) reaperLoop(ctx context.Context, cfg *Config) {
	if pm.idleTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(pm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := pm.reap(now.Add(-pm.idleTimeout)); n > 0 {
				logf(cfg, "GAMES: Dropped %d idle player(s), %d remaining", n, pm.count())
			}
		}
	}
}

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request, prefix string) string {
	if c, err := r.Cookie(playerCookieName); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}

	id := uuid.NewString()

	path := prefix + "/"

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     path,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})

	return id
}
