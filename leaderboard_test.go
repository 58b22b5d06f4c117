package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialLeaderboard(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.server.URL, "http") + ts.cfg.prefix + "/leaderboard/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readLeaderboard(t *testing.T, conn *websocket.Conn) LeaderboardMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg LeaderboardMessage
	require.NoError(t, conn.ReadJSON(&msg))

	return msg
}

func TestLeaderboardFeedSnapshot(t *testing.T) {
	ts := newTestServer(t, testArtists)
	require.NoError(t, ts.game.scores.RecordScore(context.Background(), "Ada", 5))

	conn := dialLeaderboard(t, ts)

	msg := readLeaderboard(t, conn)
	assert.Equal(t, "leaderboard", msg.Type)
	require.Len(t, msg.Scores, 1)
	assert.Equal(t, "Ada", msg.Scores[0].Name)
	assert.Equal(t, 5, msg.Scores[0].Score)
}

func TestLeaderboardFeedPushesClaims(t *testing.T) {
	ts := newTestServer(t, testArtists)

	conn := dialLeaderboard(t, ts)
	assert.Empty(t, readLeaderboard(t, conn).Scores)

	c := ts.newClient(t)
	c.get("/")
	c.guess("A", "B")
	c.guess("B", "A")

	resp, _ := c.postForm("/leaderboard", url.Values{"name": {"Grace"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	msg := readLeaderboard(t, conn)
	assert.Equal(t, "leaderboard", msg.Type)
	require.Len(t, msg.Scores, 1)
	assert.Equal(t, "Grace", msg.Scores[0].Name)
	assert.Equal(t, 1, msg.Scores[0].Score)
}

func TestLeaderboardHubFanOut(t *testing.T) {
	ts := newTestServer(t, testArtists)

	first := dialLeaderboard(t, ts)
	second := dialLeaderboard(t, ts)
	readLeaderboard(t, first)
	readLeaderboard(t, second)

	// The snapshot is only written once a client has joined the hub.
	ts.game.hub.publish([]ScoreEntry{{Name: "Lin", Score: 3}})

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readLeaderboard(t, conn)
		require.Len(t, msg.Scores, 1)
		assert.Equal(t, "Lin", msg.Scores[0].Name)
	}
}

func TestLeaderboardHubStops(t *testing.T) {
	hub := newLeaderboardHub()
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		hub.run(ctx)
		close(stopped)
	}()

	cancel()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not stop")
	}

	done := make(chan struct{})
	go func() {
		for range 20 {
			hub.publish(nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked after the hub stopped")
	}
}

func TestLeaderboardFeedOrderUnderConcurrentClaims(t *testing.T) {
	const players = 5

	ts := newTestServer(t, testArtists)
	conn := dialLeaderboard(t, ts)
	readLeaderboard(t, conn)

	clients := make([]*testClient, players)
	for i := range clients {
		clients[i] = ts.newClient(t)
		clients[i].get("/")
		clients[i].guess("B", "A")
	}

	var wg sync.WaitGroup
	statuses := make([]int, players)
	for i, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()

			req, err := http.NewRequest(http.MethodPost, c.base+"/leaderboard",
				strings.NewReader(url.Values{"name": {fmt.Sprintf("player%d", i)}}.Encode()))
			if err != nil {
				return
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			resp, err := c.client.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}()
	}
	wg.Wait()

	for _, status := range statuses {
		require.Equal(t, http.StatusSeeOther, status)
	}

	previous := 0
	for range players {
		msg := readLeaderboard(t, conn)
		assert.GreaterOrEqual(t, len(msg.Scores), previous, "snapshots never go back in time")
		previous = len(msg.Scores)
	}
	assert.Equal(t, players, previous)
}
