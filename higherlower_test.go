package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	cfg    *Config
	game   *game
	server *httptest.Server
}

func newTestServer(t *testing.T, artists []Artist, opts ...func(*Config)) *testServer {
	t.Helper()

	dir := t.TempDir()

	cfg := &Config{
		dataset:         filepath.Join(dir, "artists.csv"),
		database:        filepath.Join(dir, "scores.db"),
		leaderboardSize: 10,
		maxUpload:       1 << 20,
		port:            8080,
		store:           storeSQLite,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	scores, err := openScoreStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = scores.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errs := make(chan error, 64)
	go drainErrors(ctx, errs)

	hub := newLeaderboardHub()
	go hub.run(ctx)

	g, err := newGame(cfg, newPoolHolder(NewPool(artists)), newPlayerManager(0), scores, hub, errs)
	require.NoError(t, err)

	srv := httptest.NewServer(newRouter(cfg, g, errs))
	t.Cleanup(srv.Close)

	return &testServer{cfg: cfg, game: g, server: srv}
}

// testClient is one browser: it keeps its own player cookie and does not
// follow redirects.
type testClient struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (ts *testServer) newClient(t *testing.T) *testClient {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testClient{
		t:    t,
		base: ts.server.URL + ts.cfg.prefix,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (c *testClient) do(req *http.Request) (*http.Response, string) {
	c.t.Helper()

	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)

	return resp, string(body)
}

func (c *testClient) get(path string) (*http.Response, string) {
	c.t.Helper()

	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	require.NoError(c.t, err)

	return c.do(req)
}

func (c *testClient) postForm(path string, form url.Values) (*http.Response, string) {
	c.t.Helper()

	req, err := http.NewRequest(http.MethodPost, c.base+path, strings.NewReader(form.Encode()))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req)
}

func (c *testClient) guess(chosen, other string) (*http.Response, string) {
	c.t.Helper()

	return c.postForm("/guess", url.Values{"chosen": {chosen}, "other": {other}})
}

func (c *testClient) upload(filename, content string) (*http.Response, string) {
	c.t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(c.t, err)
	_, err = io.WriteString(part, content)
	require.NoError(c.t, err)
	require.NoError(c.t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, c.base+"/upload", &body)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.do(req)
}

var testArtists = []Artist{
	{Name: "A", MonthlyListeners: 100},
	{Name: "B", MonthlyListeners: 50},
}

func scoreMarkup(score string) string {
	return `<strong id="score">` + score + `</strong>`
}

func TestIndexStartsGame(t *testing.T) {
	ts := newTestServer(t, testArtists)
	c := ts.newClient(t)

	resp, body := c.get("/")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "default-src 'self'", resp.Header.Get("Content-Security-Policy"))
	assert.Contains(t, body, scoreMarkup("0"))
	assert.Contains(t, body, `name="chosen" value="A"`)
	assert.Contains(t, body, `name="chosen" value="B"`)

	var found bool
	for _, cookie := range resp.Cookies() {
		if cookie.Name == playerCookieName {
			found = true
		}
	}
	assert.True(t, found, "the first visit issues a player cookie")
}

func TestGuessContinues(t *testing.T) {
	ts := newTestServer(t, testArtists)
	c := ts.newClient(t)
	c.get("/")

	resp, body := c.guess("A", "B")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, scoreMarkup("1"))
	assert.Contains(t, body, "Correct!")

	_, body = c.guess("A", "B")
	assert.Contains(t, body, scoreMarkup("2"))
}

func TestGuessTerminates(t *testing.T) {
	ts := newTestServer(t, testArtists)
	c := ts.newClient(t)
	c.get("/")

	c.guess("A", "B")
	resp, body := c.guess("B", "A")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Game over")
	assert.Contains(t, body, `<strong id="final-score">1</strong>`)
	assert.Contains(t, body, "/guess_plot.svg")
	assert.Contains(t, body, `action="/leaderboard"`, "a finished game offers the claim form")

	_, body = c.guess("A", "B")
	assert.Contains(t, body, scoreMarkup("1"), "the next guess after a loss starts from zero")
}

func TestGuessTieEndsGame(t *testing.T) {
	ts := newTestServer(t, []Artist{
		{Name: "A", MonthlyListeners: 100},
		{Name: "B", MonthlyListeners: 100},
	})
	c := ts.newClient(t)
	c.get("/")

	_, body := c.guess("A", "B")

	assert.Contains(t, body, "Game over")
	assert.Contains(t, body, `<strong id="final-score">0</strong>`)
}

func TestGuessUnknownArtist(t *testing.T) {
	ts := newTestServer(t, testArtists)
	c := ts.newClient(t)
	c.get("/")
	c.guess("A", "B")

	resp, body := c.guess("Z", "A")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Unknown artist")
	assert.NotContains(t, body, `action="/leaderboard"`)

	_, body = c.guess("A", "B")
	assert.Contains(t, body, scoreMarkup("2"), "a rejected guess leaves the session untouched")
}

func TestGuessEscapesNames(t *testing.T) {
	ts := newTestServer(t, testArtists)
	c := ts.newClient(t)

	_, body := c.guess("<script>alert(1)</script>", "A")

	assert.NotContains(t, body, "<script>alert(1)</script>")
	assert.Contains(t, body, "&lt;script&gt;")
}

func TestIndexResetsSession(t *testing.T) {
	ts := newTestServer(t, testArtists)
	c := ts.newClient(t)
	c.get("/")
	c.guess("A", "B")
	c.guess("A", "B")

	_, body := c.get("/")
	assert.Contains(t, body, scoreMarkup("0"))

	_, body = c.guess("A", "B")
	assert.Contains(t, body, scoreMarkup("1"))
}

func TestPlayersAreIsolated(t *testing.T) {
	ts := newTestServer(t, testArtists)
	alice := ts.newClient(t)
	bob := ts.newClient(t)

	alice.get("/")
	bob.get("/")

	alice.guess("A", "B")
	alice.guess("A", "B")
	alice.guess("A", "B")

	_, body := bob.guess("A", "B")
	assert.Contains(t, body, scoreMarkup("1"))

	_, body = bob.guess("B", "A")
	assert.Contains(t, body, "Game over")

	_, body = alice.guess("A", "B")
	assert.Contains(t, body, scoreMarkup("4"), "another player's loss does not touch this session")
}

func TestClaimScore(t *testing.T) {
	ts := newTestServer(t, testArtists)
	c := ts.newClient(t)
	c.get("/")
	c.guess("A", "B")
	c.guess("A", "B")
	c.guess("B", "A")

	_, body := c.get("/leaderboard")
	assert.Contains(t, body, "No scores yet.")
	assert.Contains(t, body, "Save your last score of <strong>2</strong>")

	resp, _ := c.postForm("/leaderboard", url.Values{"name": {"  Ada  "}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/leaderboard", resp.Header.Get("Location"))

	_, body = c.get("/leaderboard")
	assert.Contains(t, body, "<td>Ada</td><td>2</td>")
	assert.NotContains(t, body, "Save your last score")

	resp, _ = c.postForm("/leaderboard", url.Values{"name": {"Ada"}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "a score is claimed once")

	top, err := ts.game.scores.TopScores(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, ScoreEntry{Name: "Ada", Score: 2, RecordedAt: top[0].RecordedAt}, top[0])
}

func TestClaimWithoutGame(t *testing.T) {
	ts := newTestServer(t, testArtists)
	c := ts.newClient(t)
	c.get("/")

	resp, _ := c.postForm("/leaderboard", url.Values{"name": {"Ada"}})

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestClaimRequiresName(t *testing.T) {
	ts := newTestServer(t, testArtists)
	c := ts.newClient(t)
	c.get("/")
	c.guess("B", "A")

	resp, _ := c.postForm("/leaderboard", url.Values{"name": {"   "}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = c.postForm("/leaderboard", url.Values{"name": {"Grace"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode, "a rejected name keeps the score claimable")
}

func TestUploadReplacesPool(t *testing.T) {
	ts := newTestServer(t, testArtists)
	c := ts.newClient(t)

	_, body := c.get("/upload")
	assert.Contains(t, body, "<strong>2</strong> artist(s)")

	resp, _ := c.upload("top.csv", "Artist,MonthlyListeners\nX,10\nY,20\n")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	_, body = c.get("/")
	assert.Contains(t, body, `name="chosen" value="X"`)
	assert.Contains(t, body, `name="chosen" value="Y"`)

	_, body = c.guess("Y", "X")
	assert.Contains(t, body, scoreMarkup("1"))

	_, body = c.guess("A", "B")
	assert.Contains(t, body, "Unknown artist", "the old dataset is gone")

	data, err := os.ReadFile(ts.cfg.dataset)
	require.NoError(t, err)
	assert.Equal(t, "Artist,MonthlyListeners\nX,10\nY,20\n", string(data))
}

func TestUploadRejectsBadFiles(t *testing.T) {
	ts := newTestServer(t, testArtists)
	c := ts.newClient(t)

	resp, _ := c.upload("empty.csv", "Artist,MonthlyListeners\n")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = c.upload("broken.csv", "Artist,MonthlyListeners\n\"open,1\n")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = c.postForm("/upload", url.Values{"file": {"not a file"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, 2, ts.game.pools.Current().Len())
	_, err := os.Stat(ts.cfg.dataset)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUploadTooLarge(t *testing.T) {
	ts := newTestServer(t, testArtists, func(cfg *Config) { cfg.maxUpload = 256 })
	c := ts.newClient(t)

	resp, _ := c.upload("huge.csv", "Artist,MonthlyListeners\n"+strings.Repeat("Someone,1000\n", 100))

	assert.NotEqual(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, 2, ts.game.pools.Current().Len())
}

func TestEmptyPool(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.newClient(t)

	resp, body := c.get("/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, placeholderPair[0].Name)
	assert.Contains(t, body, placeholderPair[1].Name)
	assert.NotContains(t, body, `action="/guess"`)

	_, body = c.get("/plot")
	assert.Contains(t, body, "No data available for the histogram")

	resp, _ = c.get("/plot.svg")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestZeroListenerArtistsArePlayable(t *testing.T) {
	ts := newTestServer(t, []Artist{
		{Name: "Quiet", MonthlyListeners: 0},
		{Name: "Silent", MonthlyListeners: 0},
	})
	c := ts.newClient(t)

	_, body := c.get("/")

	assert.Contains(t, body, `name="chosen" value="Quiet"`)
	assert.Contains(t, body, `name="chosen" value="Silent"`)
	assert.NotContains(t, body, "There is no artist data yet.")
}

func TestPlot(t *testing.T) {
	ts := newTestServer(t, testArtists)
	c := ts.newClient(t)

	_, body := c.get("/plot")
	assert.Contains(t, body, "2 artist(s)")
	assert.Contains(t, body, "/plot.svg")

	resp, body := c.get("/plot.svg")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/svg+xml; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(body, "<svg "))
}

func TestGuessPlot(t *testing.T) {
	ts := newTestServer(t, testArtists)
	c := ts.newClient(t)
	c.get("/")

	for _, path := range []string{"/guess_plot", "/guess_plot.svg", "/guess_plot.json"} {
		resp, _ := c.get(path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}

	c.guess("A", "B")
	c.guess("B", "A")

	resp, body := c.get("/guess_plot.json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))

	var records []ChartRecord
	require.NoError(t, json.Unmarshal([]byte(body), &records))
	assert.Equal(t, []ChartRecord{
		{GuessIndex: 1, ChosenName: "A", ChosenListeners: 100, OtherName: "B", OtherListeners: 50},
		{GuessIndex: 2, ChosenName: "B", ChosenListeners: 50, OtherName: "A", OtherListeners: 100},
	}, records)

	resp, body = c.get("/guess_plot.svg")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/svg+xml; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, "#2")

	resp, body = c.get("/guess_plot")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "after 2 guess(es)")
	assert.Contains(t, body, `<time datetime="`, "the page shows when the game finished")

	other := ts.newClient(t)
	resp, _ = other.get("/guess_plot.json")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "charts belong to the player who played")
}

func TestQR(t *testing.T) {
	ts := newTestServer(t, testArtists)
	c := ts.newClient(t)

	resp, body := c.get("/qr")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(body, "\x89PNG"))
}

func TestPrefix(t *testing.T) {
	ts := newTestServer(t, testArtists, func(cfg *Config) { cfg.prefix = "/game" })
	c := ts.newClient(t)

	resp, body := c.get("/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `action="/game/guess"`)

	_, body = c.guess("A", "B")
	assert.Contains(t, body, scoreMarkup("1"))

	resp, err := http.Get(ts.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAmbientRoutes(t *testing.T) {
	ts := newTestServer(t, testArtists)
	c := ts.newClient(t)

	resp, body := c.get("/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Ok\n", body)

	_, body = c.get("/version")
	assert.Equal(t, "higherlower v"+releaseVersion+"\n", body)

	_, body = c.get("/robots.txt")
	assert.Contains(t, body, "Disallow: /guess")

	resp, _ = c.get("/assets/higherlower/app.css")
	assert.Equal(t, "text/css; charset=utf-8", resp.Header.Get("Content-Type"))

	resp, _ = c.get("/assets/higherlower/missing.css")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = c.get("/favicons/favicon.svg")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = c.get("/pprof/")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "pprof is off by default")
}
