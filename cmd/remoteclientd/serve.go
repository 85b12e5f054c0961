package main

import (
	"compress/gzip"
	"context"
	"errors"
	"flag"
	"log"
	"mime"
	"net"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/lpar/gzipped/v2"

	"github.com/robrowserlegacy/remoteclient/internal/asset"
)

var (
	allowedDirs = flag.String("allowed-dirs", "", "comma-separated whitelist of top-level request directories (empty allows any)")
	gzipEnabled = flag.Bool("gzip", true, "compress responses when the client accepts gzip")
)

// tcpKeepAliveListener sets TCP keep-alives on accepted connections, same
// as the one net/http/server.go used to export before it became private.
type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepAliveListener) Accept() (net.Conn, error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}

// errHandlerFunc adapts a handler that can fail into a plain http.Handler,
// turning a returned error into a 500 response.
func errHandlerFunc(h func(w http.ResponseWriter, r *http.Request) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			log.Printf("HTTP serving error for %s: %v", r.URL.Path, err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func splitAllowedDirs(s string) map[string]bool {
	m := make(map[string]bool)
	for _, d := range strings.Split(s, ",") {
		d = strings.Trim(strings.TrimSpace(d), "/")
		if d != "" {
			m[strings.ToLower(d)] = true
		}
	}
	return m
}

// topLevelDir returns the first path component of a cleaned, slash-form
// request path.
func topLevelDir(requestPath string) string {
	trimmed := strings.TrimPrefix(path.Clean("/"+requestPath), "/")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return strings.ToLower(trimmed[:i])
	}
	return strings.ToLower(trimmed)
}

// assetHandler adapts asset.Store.GetAsset to net/http: MIME is chosen
// best-effort from the extension, and the response is gzip-compressed when
// the client advertises support for it and -gzip is enabled. There is no
// conditional-request (ETag/If-None-Match) handling, matching the
// documented thin front-end.
func assetHandler(store *asset.Store, allowed map[string]bool) http.Handler {
	return errHandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		requestPath := strings.TrimPrefix(r.URL.Path, "/")
		if len(allowed) > 0 && !allowed[topLevelDir(requestPath)] {
			http.Error(w, "forbidden", http.StatusForbidden)
			return nil
		}

		data, err := store.GetAsset(requestPath)
		if errors.Is(err, asset.ErrNotFound) {
			http.NotFound(w, r)
			return nil
		}
		if err != nil {
			return err
		}

		if ct := mime.TypeByExtension(path.Ext(requestPath)); ct != "" {
			w.Header().Set("Content-Type", ct)
		}

		if *gzipEnabled && strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			w.Header().Set("Content-Encoding", "gzip")
			w.Header().Del("Content-Length")
			gz := gzip.NewWriter(w)
			defer gz.Close()
			_, err := gz.Write(data)
			return err
		}
		_, err = w.Write(data)
		return err
	})
}

// localFileServer serves localDir directly via a file server that prefers a
// precompressed .gz/.br sibling of the requested file when the client
// accepts it, for browsing the local overlay directory's contents
// without going through the archive-backed asset lookup chain.
func localFileServer(localDir string) http.Handler {
	return gzipped.FileServer(http.Dir(localDir))
}

// searchHandler adapts asset.Store.Search to an HTTP query parameter,
// returning one matching path per line.
func searchHandler(store *asset.Store) http.Handler {
	return errHandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		pattern := r.URL.Query().Get("q")
		if pattern == "" {
			http.Error(w, "missing q parameter", http.StatusBadRequest)
			return nil
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			http.Error(w, "invalid regular expression: "+err.Error(), http.StatusBadRequest)
			return nil
		}
		w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
		for _, match := range store.Search(re) {
			if _, err := w.Write([]byte(match + "\n")); err != nil {
				return err
			}
		}
		return nil
	})
}

func serve(ctx context.Context, listen string, store *asset.Store, localDir string) error {
	allowed := splitAllowedDirs(*allowedDirs)

	mux := http.NewServeMux()
	mux.Handle("/search", searchHandler(store))
	if localDir != "" {
		mux.Handle("/browse/", http.StripPrefix("/browse/", localFileServer(localDir)))
	}
	mux.Handle("/", assetHandler(store, allowed))

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: mux}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(tcpKeepAliveListener{ln.(*net.TCPListener)})
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}
