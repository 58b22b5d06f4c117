/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"embed"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/julienschmidt/httprouter"
)

//go:embed favicons/*
var favicons embed.FS

func getFavicon(prefix string) string {
	return fmt.Sprintf(`<link rel="icon" type="image/svg+xml" href="%[1]s/favicons/favicon.svg">
	<link rel="manifest" href="%[1]s/favicons/site.webmanifest" crossorigin="use-credentials">
	<meta name="theme-color" content="#191414">`, prefix)
}

func serveFavicons(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		fname := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, cfg.prefix), "/")

		data, err := favicons.ReadFile(fname)
		if err != nil {
			http.NotFound(w, r)

			return
		}

		if ctype := mime.TypeByExtension(filepath.Ext(fname)); ctype != "" {
			w.Header().Set("Content-Type", ctype)
		}
		securityHeaders(cfg, w)

		_, err = w.Write(data)
		if err != nil {
			errs <- err

			return
		}
	}
}
