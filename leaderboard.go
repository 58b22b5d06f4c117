/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// LeaderboardMessage is pushed to every connected leaderboard page.
type LeaderboardMessage struct {
	Type   string       `json:"type"` // "leaderboard"
	Scores []ScoreEntry `json:"scores"`
}

type leaderboardClient struct {
	conn *websocket.Conn
	send chan any
}

// LeaderboardHub fans fresh top scores out to websocket clients.
type LeaderboardHub struct {
	clients   map[*leaderboardClient]bool
	register  chan *leaderboardClient
	unreg     chan *leaderboardClient
	broadcast chan []ScoreEntry
	done      chan struct{}
}

func newLeaderboardHub() *LeaderboardHub {
	return &LeaderboardHub{
		clients:   make(map[*leaderboardClient]bool),
		register:  make(chan *leaderboardClient),
		unreg:     make(chan *leaderboardClient),
		broadcast: make(chan []ScoreEntry, 8),
		done:      make(chan struct{}),
	}
}

func (h *LeaderboardHub) run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return

		case c := <-h.register:
			h.clients[c] = true

		case c := <-h.unreg:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case scores := <-h.broadcast:
			msg := LeaderboardMessage{
				Type:   "leaderboard",
				Scores: scores,
			}

			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// publish queues scores for broadcast. It never blocks a request once the
// hub has stopped.
func (h *LeaderboardHub) publish(scores []ScoreEntry) {
	select {
	case h.broadcast <- scores:
	case <-h.done:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (c *leaderboardClient) readPump(h *LeaderboardHub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Time{})

	// Clients never send anything meaningful; reading only detects disconnects.
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

func (c *leaderboardClient) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func serveLeaderboardWS(cfg *Config, scores ScoreStore, hub *LeaderboardHub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		top, err := scores.TopScores(r.Context(), cfg.leaderboardSize)
		if err != nil {
			http.Error(w, "unable to load leaderboard", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ERROR: websocket upgrade from %s: %v", realIP(r), err)
			return
		}

		client := &leaderboardClient{
			conn: conn,
			send: make(chan any, 8),
		}

		client.send <- LeaderboardMessage{
			Type:   "leaderboard",
			Scores: top,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		logf(cfg, "SERVE: Leaderboard feed to %s", realIP(r))

		go client.writePump()
		client.readPump(hub)
	}
}
