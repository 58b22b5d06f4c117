/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
)

const (
	artistColumn    = "Artist"
	listenersColumn = "MonthlyListeners"
	histogramBins   = 20
)

// Artist is a single row of the comparison dataset.
type Artist struct {
	Name             string `json:"name"`
	MonthlyListeners int64  `json:"monthly_listeners"`
}

// placeholderPair is handed out by pools too small to draw from.
var placeholderPair = [2]Artist{
	{Name: "No data available"},
	{Name: "Please upload a CSV"},
}

// Pool is an immutable set of artists. It is safe for concurrent use.
type Pool struct {
	artists []Artist
	intN    func(int) int
}

func NewPool(artists []Artist) *Pool {
	return &Pool{
		artists: slices.Clone(artists),
		intN:    rand.IntN,
	}
}

func (p *Pool) Len() int {
	return len(p.artists)
}

// Artists returns a copy of the pool contents in load order.
func (p *Pool) Artists() []Artist {
	return slices.Clone(p.artists)
}

// SampleTwo draws two distinct records uniformly at random. Pools with fewer
// than two records yield the placeholder pair.
func (p *Pool) SampleTwo() (Artist, Artist) {
	n := len(p.artists)
	if n < 2 {
		return placeholderPair[0], placeholderPair[1]
	}

	i := p.intN(n)
	j := p.intN(n - 1)
	if j >= i {
		j++
	}

	return p.artists[i], p.artists[j]
}

// Lookup returns the first artist whose name matches exactly.
func (p *Pool) Lookup(name string) (Artist, error) {
	for _, a := range p.artists {
		if a.Name == name {
			return a, nil
		}
	}

	return Artist{}, fmt.Errorf("%w: %q", ErrArtistNotFound, name)
}

type HistogramBin struct {
	Lower int64 `json:"lower"`
	Upper int64 `json:"upper"`
	Count int   `json:"count"`
}

// Histogram buckets listener counts into equal-width bins spanning the
// observed range.
func (p *Pool) Histogram(bins int) []HistogramBin {
	if len(p.artists) == 0 || bins < 1 {
		return nil
	}

	lo, hi := p.artists[0].MonthlyListeners, p.artists[0].MonthlyListeners
	for _, a := range p.artists[1:] {
		lo = min(lo, a.MonthlyListeners)
		hi = max(hi, a.MonthlyListeners)
	}

	if lo == hi {
		return []HistogramBin{{Lower: lo, Upper: hi, Count: len(p.artists)}}
	}

	width := float64(hi-lo) / float64(bins)

	out := make([]HistogramBin, bins)
	for i := range out {
		out[i].Lower = lo + int64(math.Round(float64(i)*width))
		out[i].Upper = lo + int64(math.Round(float64(i+1)*width))
	}
	out[bins-1].Upper = hi

	for _, a := range p.artists {
		idx := int(float64(a.MonthlyListeners-lo) / width)
		if idx >= bins {
			idx = bins - 1
		}
		out[idx].Count++
	}

	return out
}

// ParseArtists reads CSV rows of (artist, monthly listeners). Columns are
// located by header name; without a recognizable header the first two
// columns are used and the first row is treated as data.
func ParseArtists(r io.Reader) ([]Artist, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	first, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	if len(first) > 0 {
		first[0] = strings.TrimPrefix(first[0], "\ufeff")
	}

	nameCol, countCol := 0, 1
	var artists []Artist

	header := false
	for i, field := range first {
		switch {
		case strings.EqualFold(strings.TrimSpace(field), artistColumn):
			nameCol = i
			header = true
		case strings.EqualFold(strings.TrimSpace(field), listenersColumn):
			countCol = i
			header = true
		}
	}

	if !header {
		if a, ok := parseArtistRecord(first, nameCol, countCol); ok {
			artists = append(artists, a)
		}
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}

		if a, ok := parseArtistRecord(record, nameCol, countCol); ok {
			artists = append(artists, a)
		}
	}

	return artists, nil
}

func parseArtistRecord(record []string, nameCol, countCol int) (Artist, bool) {
	if nameCol >= len(record) || countCol >= len(record) {
		return Artist{}, false
	}

	name := strings.TrimSpace(record[nameCol])
	if name == "" {
		return Artist{}, false
	}

	listeners, ok := parseListeners(record[countCol])
	if !ok {
		return Artist{}, false
	}

	return Artist{Name: name, MonthlyListeners: listeners}, true
}

func parseListeners(s string) (int64, bool) {
	s = strings.NewReplacer(",", "", "_", "", " ", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, n >= 0
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f >= math.MaxInt64 {
		return 0, false
	}

	return int64(f), true
}

// WriteArtists writes artists as CSV with the canonical header.
func WriteArtists(w io.Writer, artists []Artist) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{artistColumn, listenersColumn}); err != nil {
		return err
	}

	for _, a := range artists {
		if err := writer.Write([]string{a.Name, strconv.FormatInt(a.MonthlyListeners, 10)}); err != nil {
			return err
		}
	}

	writer.Flush()

	return writer.Error()
}

// LoadFile always returns a usable pool. When the dataset cannot be read the
// pool is empty and the returned error is a *DataError.
func LoadFile(path string) (*Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return NewPool(nil), &DataError{Source: path, Err: err}
	}
	defer f.Close()

	artists, err := ParseArtists(f)
	if err != nil {
		return NewPool(nil), &DataError{Source: path, Err: err}
	}

	return NewPool(artists), nil
}

// saveDataset replaces the file at path with the canonical CSV form of artists.
func saveDataset(path string, artists []Artist) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dataset-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := WriteArtists(tmp, artists); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

// PoolHolder hands out the current pool and lets uploads swap it.
type PoolHolder struct {
	pool atomic.Pointer[Pool]
}

func newPoolHolder(p *Pool) *PoolHolder {
	h := &PoolHolder{}
	h.Replace(p)
	return h
}

func (h *PoolHolder) Current() *Pool {
	return h.pool.Load()
}

func (h *PoolHolder) Replace(p *Pool) {
	if p == nil {
		p = NewPool(nil)
	}
	h.pool.Store(p)
}
