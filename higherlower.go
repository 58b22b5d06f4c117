// Higher or Lower
//
// Two artists are shown side by side and the player picks the one with more
// monthly listeners. Every correct pick scores a point and draws a new pair;
// the first wrong pick (ties included) ends the game and shows a chart of
// every guess made.
//
// Features:
// - Players identified by cookie; each cookie owns one isolated session
// - Visiting / always starts a fresh game
// - Finished scores can be claimed once for the leaderboard
// - Leaderboard updates pushed live over a websocket
// - Dataset replaceable at runtime by CSV upload
// - Listener histogram and per-game guess chart rendered as SVG
// - QR code linking to the game, backed by go-qrcode
// - Idle players reaped after a configurable timeout

package main

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

//go:embed higherlower/*.html
var viewFiles embed.FS

func parseViews() (*template.Template, error) {
	return template.New("").Funcs(template.FuncMap{
		"favicon": func(prefix string) template.HTML {
			return template.HTML(getFavicon(prefix))
		},
		"inc": func(i int) int {
			return i + 1
		},
		"listeners": formatListeners,
	}).ParseFS(viewFiles, "higherlower/*.html")
}

type pageData struct {
	Prefix string
	Title  string
}

type indexView struct {
	pageData
	Left        Artist
	Right       Artist
	Score       int
	LastGuess   *GuessEntry
	Placeholder bool
}

type resultView struct {
	pageData
	Result          string // "error" or "lose"
	Chosen          string
	Other           string
	ChosenListeners int64
	OtherListeners  int64
	Score           int
	Records         []ChartRecord
	CanClaim        bool
}

type leaderboardView struct {
	pageData
	Scores    []ScoreEntry
	CanClaim  bool
	LastScore int
}

type uploadView struct {
	pageData
	Artists   int
	MaxUpload string
}

type plotView struct {
	pageData
	Artists int
}

type guessPlotView struct {
	pageData
	Score      int
	Records    []ChartRecord
	FinishedAt time.Time
}

type game struct {
	cfg     *Config
	pools   *PoolHolder
	players *PlayerManager
	scores  ScoreStore
	hub     *LeaderboardHub
	charts  ChartRenderer
	views   *template.Template
	errs    chan<- error

	// publishMu keeps leaderboard broadcasts in the order their snapshots
	// were read.
	publishMu sync.Mutex
}

func newGame(cfg *Config, pools *PoolHolder, players *PlayerManager, scores ScoreStore, hub *LeaderboardHub, errs chan<- error) (*game, error) {
	views, err := parseViews()
	if err != nil {
		return nil, fmt.Errorf("parse views: %w", err)
	}

	return &game{
		cfg:     cfg,
		pools:   pools,
		players: players,
		scores:  scores,
		hub:     hub,
		charts:  svgRenderer{},
		views:   views,
		errs:    errs,
	}, nil
}

func (g *game) page(title string) pageData {
	return pageData{Prefix: g.cfg.prefix, Title: title}
}

func (g *game) player(w http.ResponseWriter, r *http.Request) *Player {
	return g.players.get(getOrSetPlayerID(w, r, g.cfg.prefix))
}

func (g *game) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	startTime := time.Now()

	var buf bytes.Buffer
	if err := g.views.ExecuteTemplate(&buf, name, data); err != nil {
		g.errs <- fmt.Errorf("render %s: %w", name, err)
		g.message(w, r, http.StatusInternalServerError, "Server Error", "An error has occurred. Please try again.")

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(g.cfg, w)
	w.WriteHeader(status)

	written, err := w.Write(buf.Bytes())
	if err != nil {
		g.errs <- err

		return
	}

	logf(g.cfg, "SERVE: %s (%s) to %s in %s",
		name,
		humanReadableSize(int64(written)),
		realIP(r),
		time.Since(startTime).Round(time.Microsecond),
	)
}

func (g *game) message(w http.ResponseWriter, r *http.Request, status int, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	securityHeaders(g.cfg, w)
	w.WriteHeader(status)

	_, err := w.Write([]byte(newPage(g.cfg.prefix, title, body)))
	if err != nil {
		g.errs <- err
	}
}

func (g *game) serveIndex() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		p := g.player(w, r)

		p.mu.Lock()
		p.session.Start(g.pools.Current())
		pair := p.session.Pair()
		p.mu.Unlock()

		g.render(w, r, http.StatusOK, "index.html", indexView{
			pageData:    g.page("Play"),
			Left:        pair[0],
			Right:       pair[1],
			Placeholder: pair == placeholderPair,
		})
	}
}

func (g *game) serveGuess() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if err := r.ParseForm(); err != nil {
			g.message(w, r, http.StatusBadRequest, "Bad Request", "Unable to read your guess.")

			return
		}

		chosen := r.PostForm.Get("chosen")
		other := r.PostForm.Get("other")

		p := g.player(w, r)

		p.mu.Lock()
		result := p.session.SubmitGuess(g.pools.Current(), chosen, other)
		score := p.session.Score()
		if result.Outcome == OutcomeTerminate {
			p.finish(result)
		}
		p.mu.Unlock()

		switch result.Outcome {
		case OutcomeContinue:
			g.render(w, r, http.StatusOK, "index.html", indexView{
				pageData:  g.page("Play"),
				Left:      result.Pair[0],
				Right:     result.Pair[1],
				Score:     result.Score,
				LastGuess: &result.Entry,
			})

		case OutcomeTerminate:
			logf(g.cfg, "GAMES: Game over for %s with score %d after %d guess(es)",
				realIP(r), result.Score, len(result.History))

			g.render(w, r, http.StatusOK, "result.html", resultView{
				pageData:        g.page("Game Over"),
				Result:          "lose",
				Chosen:          result.Entry.ChosenName,
				Other:           result.Entry.OtherName,
				ChosenListeners: result.Entry.ChosenListeners,
				OtherListeners:  result.Entry.OtherListeners,
				Score:           result.Score,
				Records:         projectChart(result.History),
				CanClaim:        true,
			})

		default:
			logf(g.cfg, "GAMES: Guess %q vs %q from %s ended in %s: %v", chosen, other, realIP(r), result.Outcome, result.Err)

			g.render(w, r, http.StatusOK, "result.html", resultView{
				pageData: g.page("Unknown Artist"),
				Result:   "error",
				Chosen:   chosen,
				Other:    other,
				Score:    score,
			})
		}
	}
}

func (g *game) serveLeaderboard() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		top, err := g.scores.TopScores(r.Context(), g.cfg.leaderboardSize)
		if err != nil {
			g.errs <- fmt.Errorf("load leaderboard: %w", err)
			g.message(w, r, http.StatusInternalServerError, "Server Error", "Unable to load the leaderboard.")

			return
		}

		p := g.player(w, r)

		view := leaderboardView{
			pageData: g.page("Leaderboard"),
			Scores:   top,
		}

		p.mu.Lock()
		if p.lastGame != nil && !p.lastGame.Claimed {
			view.CanClaim = true
			view.LastScore = p.lastGame.Score
		}
		p.mu.Unlock()

		g.render(w, r, http.StatusOK, "leaderboard.html", view)
	}
}

func (g *game) serveClaimScore() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if err := r.ParseForm(); err != nil {
			g.message(w, r, http.StatusBadRequest, "Bad Request", "Unable to read your name.")

			return
		}

		name := r.PostForm.Get("name")

		p := g.player(w, r)

		p.mu.Lock()
		score, err := p.claim()
		if err != nil {
			p.mu.Unlock()
			g.message(w, r, http.StatusConflict, "Nothing To Record", "There is no finished game to record. Play a round first.")

			return
		}

		err = g.scores.RecordScore(r.Context(), name, score)
		if err != nil {
			p.unclaim()
		}
		p.mu.Unlock()

		switch {
		case errors.Is(err, ErrInvalidScore):
			g.message(w, r, http.StatusBadRequest, "Bad Request", "Please enter a name for the leaderboard.")

			return
		case err != nil:
			g.errs <- fmt.Errorf("record score: %w", err)
			g.message(w, r, http.StatusInternalServerError, "Server Error", "Unable to record your score. Please try again.")

			return
		}

		logf(g.cfg, "STORE: Recorded score %d for %q", score, name)

		g.publishTopScores(r.Context())

		http.Redirect(w, r, g.cfg.prefix+"/leaderboard", http.StatusSeeOther)
	}
}

// publishTopScores reads the current top scores and queues them for every
// leaderboard feed. Reads and queueing happen under one lock, so a feed never
// receives an older snapshot after a newer one.
func (g *game) publishTopScores(ctx context.Context) {
	g.publishMu.Lock()
	defer g.publishMu.Unlock()

	top, err := g.scores.TopScores(ctx, g.cfg.leaderboardSize)
	if err != nil {
		g.errs <- fmt.Errorf("load leaderboard: %w", err)

		return
	}

	g.hub.publish(top)
}

func (g *game) serveUploadForm() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		g.render(w, r, http.StatusOK, "upload.html", uploadView{
			pageData:  g.page("Upload"),
			Artists:   g.pools.Current().Len(),
			MaxUpload: humanReadableSize(g.cfg.maxUpload),
		})
	}
}

func (g *game) serveUpload() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		r.Body = http.MaxBytesReader(w, r.Body, g.cfg.maxUpload)

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				g.message(w, r, http.StatusRequestEntityTooLarge, "Upload Too Large",
					"That file is larger than "+humanReadableSize(g.cfg.maxUpload)+".")

				return
			}

			g.message(w, r, http.StatusBadRequest, "Bad Request", "Please choose a CSV file to upload.")

			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			g.message(w, r, http.StatusBadRequest, "Bad Request", "Please choose a CSV file to upload.")

			return
		}
		defer file.Close()

		artists, err := ParseArtists(file)
		if err != nil {
			g.message(w, r, http.StatusBadRequest, "Invalid CSV", "That file could not be read as CSV.")

			return
		}
		if len(artists) == 0 {
			g.message(w, r, http.StatusBadRequest, "Invalid CSV", "No artists found. Expected Artist and MonthlyListeners columns.")

			return
		}

		pool := NewPool(artists)

		if err := saveDataset(g.cfg.dataset, pool.Artists()); err != nil {
			g.errs <- fmt.Errorf("save dataset: %w", err)
			g.message(w, r, http.StatusInternalServerError, "Server Error", "Unable to save the dataset.")

			return
		}

		g.pools.Replace(pool)

		logf(g.cfg, "GAMES: Loaded %d artist(s) from upload %q by %s", len(artists), header.Filename, realIP(r))

		http.Redirect(w, r, g.cfg.prefix+"/", http.StatusSeeOther)
	}
}

func (g *game) servePlot() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		g.render(w, r, http.StatusOK, "plot.html", plotView{
			pageData: g.page("Listeners"),
			Artists:  g.pools.Current().Len(),
		})
	}
}

func (g *game) servePlotImage() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		bins := g.pools.Current().Histogram(histogramBins)

		var buf bytes.Buffer
		if err := g.charts.RenderHistogram(&buf, bins); err != nil {
			g.errs <- fmt.Errorf("render histogram: %w", err)
			http.Error(w, "unable to render chart", http.StatusInternalServerError)

			return
		}

		g.writeChart(w, buf.Bytes())
	}
}

// lastGame returns a copy of the player's last finished game.
func (g *game) lastGame(w http.ResponseWriter, r *http.Request) (FinishedGame, bool) {
	p := g.player(w, r)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastGame == nil {
		return FinishedGame{}, false
	}

	last := *p.lastGame
	last.History = slices.Clone(last.History)

	return last, true
}

func (g *game) serveGuessPlot() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		last, ok := g.lastGame(w, r)
		if !ok {
			g.message(w, r, http.StatusNotFound, "No Game Yet", "Finish a game to see its chart.")

			return
		}

		g.render(w, r, http.StatusOK, "guess_plot.html", guessPlotView{
			pageData:   g.page("Your Guesses"),
			Score:      last.Score,
			Records:    projectChart(last.History),
			FinishedAt: last.FinishedAt,
		})
	}
}

func (g *game) serveGuessPlotImage() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		last, ok := g.lastGame(w, r)
		if !ok {
			http.NotFound(w, r)

			return
		}

		records := projectChart(last.History)

		var buf bytes.Buffer
		if err := g.charts.RenderGuesses(&buf, records); err != nil {
			g.errs <- fmt.Errorf("render guesses: %w", err)
			http.Error(w, "unable to render chart", http.StatusInternalServerError)

			return
		}

		g.writeChart(w, buf.Bytes())
	}
}

func (g *game) serveGuessPlotData() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		last, ok := g.lastGame(w, r)
		if !ok {
			http.NotFound(w, r)

			return
		}

		records := projectChart(last.History)

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(g.cfg, w)

		if err := json.NewEncoder(w).Encode(records); err != nil {
			g.errs <- err
		}
	}
}

func (g *game) writeChart(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", g.charts.ContentType())
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(g.cfg, w)

	if _, err := w.Write(data); err != nil {
		g.errs <- err
	}
}

// serveQR generates a PNG QR code pointing at the game's landing page.
func serveQR(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + cfg.prefix + "/"

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

// registerHigherLower sets up routes so that:
//   - $prefix/                 → fresh game
//   - $prefix/guess            → guess submission
//   - $prefix/leaderboard      → top scores, claim form, live feed at /ws
//   - $prefix/upload           → dataset replacement
//   - $prefix/plot             → listener histogram
//   - $prefix/guess_plot       → chart of the player's last game (.svg, .json)
//   - $prefix/qr               → PNG QR code for the game URL
func registerHigherLower(cfg *Config, g *game, mux *httprouter.Router) {
	mux.GET(cfg.prefix+"/", g.serveIndex())
	mux.POST(cfg.prefix+"/guess", g.serveGuess())

	mux.GET(cfg.prefix+"/leaderboard", g.serveLeaderboard())
	mux.POST(cfg.prefix+"/leaderboard", g.serveClaimScore())
	mux.GET(cfg.prefix+"/leaderboard/ws", serveLeaderboardWS(cfg, g.scores, g.hub))

	mux.GET(cfg.prefix+"/upload", g.serveUploadForm())
	mux.POST(cfg.prefix+"/upload", g.serveUpload())

	mux.GET(cfg.prefix+"/plot", g.servePlot())
	mux.GET(cfg.prefix+"/plot.svg", g.servePlotImage())

	mux.GET(cfg.prefix+"/guess_plot", g.serveGuessPlot())
	mux.GET(cfg.prefix+"/guess_plot.svg", g.serveGuessPlotImage())
	mux.GET(cfg.prefix+"/guess_plot.json", g.serveGuessPlotData())

	mux.GET(cfg.prefix+"/qr", serveQR(cfg))
}
