package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/pretty"

	"github.com/phpmago/analyzer/internal/analyzer"
	"github.com/phpmago/analyzer/internal/cache"
	"github.com/phpmago/analyzer/internal/diagnostic"
	"github.com/phpmago/analyzer/internal/server"
)

func main() {
	log.SetFlags(0)

	jsonOut := flag.Bool("json", false, "print diagnostics as JSON")
	serve := flag.Bool("serve", false, "run as a JSON-RPC server on stdio")
	watch := flag.Bool("watch", false, "re-analyze on file changes (with -serve)")
	baselinePath := flag.String("baseline", "", "path to a baseline file of known findings")
	writeBaseline := flag.Bool("write-baseline", false, "record current findings into the baseline file and exit")
	cacheDir := flag.String("cache-dir", "", "directory for the analysis cache (defaults to the user config dir)")
	noCache := flag.Bool("no-cache", false, "disable the analysis cache")
	flag.Parse()

	root := flag.Arg(0)
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to get working directory: %v", err)
		}
		root = cwd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		log.Fatalf("failed to resolve %s: %v", flag.Arg(0), err)
	}

	opts := analyzer.Options{}
	if !*noCache {
		store, err := openCache(root, *cacheDir)
		if err != nil {
			log.Printf("warning: analysis cache unavailable: %v", err)
		} else {
			opts.Cache = store
			defer func() {
				if err := store.Close(); err != nil {
					log.Printf("warning: failed to close cache: %v", err)
				}
			}()
		}
	}

	if *serve {
		srv := server.New(root, opts)
		if *watch {
			if err := srv.StartWatching(context.Background()); err != nil {
				log.Fatalf("failed to start watching: %v", err)
			}
		}
		if err := srv.Start(os.Stdin, os.Stdout); err != nil {
			log.Fatalf("server error: %v", err)
		}
		return
	}

	res, err := analyzer.New(root, opts).Run(context.Background())
	if err != nil {
		log.Fatalf("analysis failed: %v", err)
	}

	diags := res.Diagnostics
	if *baselinePath != "" {
		if *writeBaseline {
			if err := saveBaseline(*baselinePath, root, diags); err != nil {
				log.Fatalf("failed to write baseline: %v", err)
			}
			log.Printf("recorded %d finding(s) in %s", len(diags), *baselinePath)
			return
		}
		diags, err = filterBaseline(*baselinePath, root, diags)
		if err != nil {
			log.Fatalf("failed to read baseline: %v", err)
		}
	}

	if *jsonOut {
		printJSON(root, res, diags)
	} else {
		printText(root, res, diags)
	}

	for _, d := range diags {
		if d.Severity == diagnostic.SeverityError {
			os.Exit(1)
		}
	}
}

const timeRounding = time.Millisecond

func printText(root string, res *analyzer.Result, diags []diagnostic.Diagnostic) {
	for _, d := range diags {
		fmt.Printf("%s:%d:%d: %s: %s [%s]\n",
			relativeTo(root, d.File), d.Line, d.Column, severityLabel(d.Severity), d.Message, d.Code)
	}
	log.Printf("analyzed %d file(s), %d class-like(s) in %s: %d finding(s)",
		res.Files, res.Classes, res.Duration.Round(timeRounding), len(diags))
}

func severityLabel(s diagnostic.Severity) string {
	switch s {
	case diagnostic.SeverityError:
		return "error"
	case diagnostic.SeverityWarning:
		return "warning"
	default:
		return "hint"
	}
}

func printJSON(root string, res *analyzer.Result, diags []diagnostic.Diagnostic) {
	out := struct {
		Diagnostics []diagnostic.Diagnostic `json:"diagnostics"`
		Files       int                     `json:"files"`
		Classes     int                     `json:"classes"`
		DurationMS  int64                   `json:"durationMs"`
	}{diags, res.Files, res.Classes, res.Duration.Milliseconds()}
	for i := range out.Diagnostics {
		out.Diagnostics[i].File = relativeTo(root, out.Diagnostics[i].File)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		log.Fatalf("failed to encode diagnostics: %v", err)
	}
	os.Stdout.Write(pretty.Pretty(raw))
}

func relativeTo(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil && !filepath.IsAbs(rel) {
		return rel
	}
	return path
}

func openCache(root, dir string) (*cache.Store, error) {
	if dir == "" {
		var err error
		dir, err = projectConfigDir(root)
		if err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return cache.Open(filepath.Join(dir, "analysis.db"))
}
