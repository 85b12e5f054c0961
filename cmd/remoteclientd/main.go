// Command remoteclientd serves read-only access to assets packed inside
// GRF archives (optionally overlaid by a local directory of unpacked
// files) over HTTP.
package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/robrowserlegacy/remoteclient"
	"github.com/robrowserlegacy/remoteclient/internal/asset"
	"github.com/robrowserlegacy/remoteclient/internal/config"
	"github.com/robrowserlegacy/remoteclient/internal/grf"
	"github.com/robrowserlegacy/remoteclient/internal/indexcache"
	"github.com/robrowserlegacy/remoteclient/internal/lru"
	"github.com/robrowserlegacy/remoteclient/internal/missinglog"
	"github.com/robrowserlegacy/remoteclient/internal/overlay"
	"github.com/robrowserlegacy/remoteclient/internal/pathmap"
)

var (
	configPath  = flag.String("config", "remoteclientd.conf", "path to the key=value configuration file")
	httpListen  = flag.String("listen", "localhost:8080", "[host]:port to listen on")
	missingPath = flag.String("missing-log", "", "path to append observed not-found asset paths to (disabled if empty)")
)

// bumpRlimitNOFILE raises the process's open-file limit to the kernel
// maximum, since serving many archives each holding an open *os.File
// handle is exactly the scenario this exists for.
func bumpRlimitNOFILE() error {
	var fileMax, nrOpen uint64
	{
		b, err := ioutil.ReadFile("/proc/sys/fs/file-max")
		if err != nil {
			return err
		}
		fileMax, err = strconv.ParseUint(strings.TrimSpace(string(b)), 0, 64)
		if err != nil {
			return err
		}
	}
	{
		b, err := ioutil.ReadFile("/proc/sys/fs/nr_open")
		if err != nil {
			return err
		}
		nrOpen, err = strconv.ParseUint(strings.TrimSpace(string(b)), 0, 64)
		if err != nil {
			return err
		}
	}
	max := fileMax
	if nrOpen < max {
		max = nrOpen
	}
	set := unix.Rlimit{Max: max, Cur: max}
	return unix.Setrlimit(unix.RLIMIT_NOFILE, &set)
}

// printBanner writes a one-line startup banner, colorized only when
// stdout is a terminal.
func printBanner(listen string, archiveCount int) {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("\033[1;32mremoteclientd\033[0m listening on %s (%d archives loaded)\n", listen, archiveCount)
		return
	}
	fmt.Printf("remoteclientd listening on %s (%d archives loaded)\n", listen, archiveCount)
}

func openArchives(cfg config.Config) ([]*grf.Archive, []indexcache.ArchiveStat, error) {
	manifest, err := config.LoadManifest(filepath.Join(cfg.ResourcePath, cfg.DataManifest))
	if err != nil {
		return nil, nil, xerrors.Errorf("loading data manifest: %w", err)
	}

	archives := make([]*grf.Archive, 0, len(manifest))
	stats := make([]indexcache.ArchiveStat, 0, len(manifest))
	for _, m := range manifest {
		path := filepath.Join(cfg.ResourcePath, m.Filename)
		info, err := os.Stat(path)
		if err != nil {
			return nil, nil, xerrors.Errorf("stat %s: %w", path, err)
		}
		a, err := grf.Open(path)
		if err != nil {
			return nil, nil, xerrors.Errorf("opening %s: %w", path, err)
		}
		archives = append(archives, a)
		stats = append(stats, indexcache.ArchiveStat{
			Path:  path,
			MTime: info.ModTime().UnixNano(),
			Size:  info.Size(),
		})
	}
	return archives, stats, nil
}

func buildIndex(cfg config.Config, archives []*grf.Archive, stats []indexcache.ArchiveStat) *overlay.Index {
	var cachePath string
	if cfg.IndexCacheEnabled && cfg.IndexCacheDir != "" {
		cachePath = filepath.Join(cfg.IndexCacheDir, "index.gob")
		digest := indexcache.Digest(cfg.GRFEncoding, stats)
		if entries, ok := indexcache.Load(cachePath, digest); ok {
			log.Printf("index cache hit: %s (%d entries)", cachePath, len(entries))
			return overlay.NewFromEntries(entries)
		}
	}

	readers := make([]overlay.ArchiveReader, len(archives))
	for i, a := range archives {
		readers[i] = a
	}
	idx := overlay.Build(readers, cfg.GRFEncoding)

	if cachePath != "" {
		digest := indexcache.Digest(cfg.GRFEncoding, stats)
		if err := indexcache.Save(cachePath, digest, idx.Entries()); err != nil {
			log.Printf("warning: saving index cache failed: %v", err)
		}
	}
	return idx
}

func logic() error {
	flag.Parse()

	if err := bumpRlimitNOFILE(); err != nil {
		log.Printf("warning: bumping RLIMIT_NOFILE failed: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return xerrors.Errorf("loading config: %w", err)
	}

	archives, stats, err := openArchives(cfg)
	if err != nil {
		return err
	}
	archiveReaders := make([]asset.ArchiveReader, len(archives))
	for i, a := range archives {
		archiveReaders[i] = a
	}

	idx := buildIndex(cfg, archives, stats)
	if cfg.LocalScan && cfg.ResourcePath != "" {
		if err := idx.ScanLocal(cfg.ResourcePath); err != nil {
			log.Printf("warning: local overlay scan failed: %v", err)
		}
	}

	var mapping *pathmap.Mapping
	if cfg.PathMappingEnabled && cfg.PathMappingFile != "" {
		mapping, err = pathmap.Load(cfg.PathMappingFile)
		if err != nil {
			log.Printf("warning: loading path-mapping file failed: %v", err)
		}
	}

	var cache *lru.Cache
	if cfg.CacheEnabled {
		cache = lru.New(cfg.CacheMaxItems, cfg.CacheMaxBytes)
	}

	assetCfg := asset.Config{
		Cache:    cache,
		Index:    idx,
		Mapping:  mapping,
		Archives: archiveReaders,
		// Convert is left nil: the BMP->PNG converter implementation is an
		// external collaborator out of scope here. internal/asset still
		// exercises the convert.Hook seam whenever one is configured.
		LocalDir:    cfg.ResourcePath,
		AutoExtract: cfg.AutoExtract,
		Coalesce:    true,
	}
	if *missingPath != "" {
		missing := missinglog.New()
		defer flushMissingLog(missing, *missingPath)
		// Assigned only when non-nil: a nil *missinglog.Log stored in the
		// MissingLog interface field would be non-nil as an interface value,
		// turning every miss into a nil-pointer panic inside Observe.
		assetCfg.MissingLog = missing
	}

	store := asset.New(assetCfg)
	remoteclient.RegisterAtExit(store.Close)

	ctx, cancel := remoteclient.InterruptibleContext()
	defer cancel()

	printBanner(*httpListen, len(archives))
	if err := serve(ctx, *httpListen, store, cfg.ResourcePath); err != nil {
		return err
	}
	return remoteclient.RunAtExit()
}

func flushMissingLog(l *missinglog.Log, path string) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("warning: opening missing-asset log %s failed: %v", path, err)
		return
	}
	defer f.Close()
	if err := l.Flush(f); err != nil {
		log.Printf("warning: flushing missing-asset log failed: %v", err)
	}
}

func main() {
	if err := logic(); err != nil {
		log.Fatal(err)
	}
}
