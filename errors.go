/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"time"
)

var (
	ErrArtistNotFound = errors.New("artist not found")
	ErrInvalidScore   = errors.New("invalid score")
	ErrNoFinishedGame = errors.New("no unclaimed finished game")
	ErrUnknownStore   = errors.New("unknown score store")
)

// DataError reports a dataset that could not be loaded.
type DataError struct {
	Source string
	Err    error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("load artists from %s: %v", e.Source, e.Err)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func newPage(prefix, title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(getFavicon(prefix))
	htmlBody.WriteString(fmt.Sprintf(`<link rel="stylesheet" href="%s/assets/higherlower/app.css">`, prefix))
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", html.EscapeString(title)))
	htmlBody.WriteString(fmt.Sprintf("<body class=\"page-message\"><a href=\"%s/\">%s</a></body></html>", prefix, html.EscapeString(body)))

	return htmlBody.String()
}
