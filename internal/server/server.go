// Package server exposes the analyzer over JSON-RPC on stdio, for editor
// integrations and long-running CI agents. Analysis runs on demand via
// analyzer/analyze and, in watch mode, whenever PHP files change on disk;
// results are pushed per file as analyzer/publishDiagnostics notifications.
package server

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/phpmago/analyzer/internal/analyzer"
	"github.com/phpmago/analyzer/internal/diagnostic"
)

// debounceDelay batches bursts of filesystem events into one re-analysis.
const debounceDelay = 200 * time.Millisecond

// Server is one stdio JSON-RPC session over a project root.
type Server struct {
	rootPath string
	opts     analyzer.Options

	conn *jsonrpc2.Conn

	mu      sync.Mutex
	last    *runStatus
	running bool

	watcher   *fsnotify.Watcher
	watchStop context.CancelFunc
}

type runStatus struct {
	Files       int   `json:"files"`
	Classes     int   `json:"classes"`
	Diagnostics int   `json:"diagnostics"`
	DurationMS  int64 `json:"durationMs"`
}

type analyzeParams struct {
	Path string `json:"path,omitempty"`
}

type analyzeResult struct {
	Diagnostics []diagnostic.Diagnostic `json:"diagnostics"`
	Files       int                     `json:"files"`
	Classes     int                     `json:"classes"`
	DurationMS  int64                   `json:"durationMs"`
}

// New returns a server analyzing the project at rootPath.
func New(rootPath string, opts analyzer.Options) *Server {
	return &Server{rootPath: rootPath, opts: opts}
}

// Start serves JSON-RPC over the given streams until the peer disconnects.
func (s *Server) Start(in io.Reader, out io.Writer) error {
	stream := jsonrpc2.NewBufferedStream(rwc{in, out}, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(context.Background(), stream, jsonrpc2.HandlerWithError(s.handle))
	s.conn = conn

	<-conn.DisconnectNotify()
	s.stopWatching()
	return nil
}

// rwc combines a reader and writer into a single ReadWriteCloser.
type rwc struct {
	io.Reader
	io.Writer
}

func (rwc) Close() error { return nil }

func (s *Server) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	if req.Method == "exit" {
		log.Println("received exit notification, closing connection")
		if err := conn.Close(); err != nil {
			log.Printf("error closing connection: %v", err)
		}
		return nil, nil
	}

	switch req.Method {
	case "initialize":
		var params struct {
			RootPath string `json:"rootPath"`
			RootURI  string `json:"rootUri"`
		}
		if req.Params != nil {
			if err := json.Unmarshal(*req.Params, &params); err != nil {
				return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeParseError, Message: err.Error()}
			}
		}
		if params.RootPath != "" {
			s.rootPath = params.RootPath
		} else if params.RootURI != "" {
			s.rootPath = strings.TrimPrefix(params.RootURI, "file://")
		}
		return map[string]interface{}{
			"serverInfo": map[string]interface{}{"name": "mago-analyzer"},
		}, nil

	case "initialized":
		go s.analyzeAndPublish(ctx, s.rootPath)
		return nil, nil

	case "analyzer/analyze":
		var params analyzeParams
		if req.Params != nil {
			if err := json.Unmarshal(*req.Params, &params); err != nil {
				return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeParseError, Message: err.Error()}
			}
		}
		path := params.Path
		if path == "" {
			path = s.rootPath
		}
		res, err := s.run(ctx, path)
		if err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
		}
		return &analyzeResult{
			Diagnostics: res.Diagnostics,
			Files:       res.Files,
			Classes:     res.Classes,
			DurationMS:  res.Duration.Milliseconds(),
		}, nil

	case "analyzer/status":
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.last == nil {
			return map[string]interface{}{"state": "idle"}, nil
		}
		return map[string]interface{}{"state": "ready", "lastRun": s.last}, nil

	case "analyzer/watch":
		if err := s.StartWatching(context.Background()); err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
		}
		return map[string]interface{}{"watching": true}, nil

	case "shutdown":
		s.stopWatching()
		log.Println("received shutdown request, waiting for exit notification")
		return nil, nil

	default:
		if req.ID == (jsonrpc2.ID{}) {
			return nil, nil
		}
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not implemented: " + req.Method}
	}
}

// run executes one analysis and records its stats.
func (s *Server) run(ctx context.Context, path string) (*analyzer.Result, error) {
	res, err := analyzer.New(path, s.opts).Run(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.last = &runStatus{
		Files:       res.Files,
		Classes:     res.Classes,
		Diagnostics: len(res.Diagnostics),
		DurationMS:  res.Duration.Milliseconds(),
	}
	s.mu.Unlock()
	return res, nil
}

// analyzeAndPublish runs a full analysis and pushes the results grouped per
// file. Files that were reported on previously but are clean now get an
// empty list so clients clear stale markers.
func (s *Server) analyzeAndPublish(ctx context.Context, path string) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if s.conn != nil {
		if err := s.conn.Notify(ctx, "analyzer/analysisStarted", map[string]interface{}{}); err != nil {
			log.Printf("failed to notify analysis start: %v", err)
		}
	}

	res, err := s.run(ctx, path)
	if err != nil {
		log.Printf("analysis failed: %v", err)
		return
	}

	if s.conn != nil {
		byFile := make(map[string][]diagnostic.Diagnostic)
		for _, d := range res.Diagnostics {
			byFile[d.File] = append(byFile[d.File], d)
		}
		for file, diags := range byFile {
			if err := s.conn.Notify(ctx, "analyzer/publishDiagnostics", map[string]interface{}{
				"file":        file,
				"diagnostics": diags,
			}); err != nil {
				log.Printf("failed to publish diagnostics for %s: %v", file, err)
			}
		}
		if err := s.conn.Notify(ctx, "analyzer/analysisCompleted", map[string]interface{}{
			"files":         res.Files,
			"diagnostics":   len(res.Diagnostics),
			"timeInSeconds": res.Duration.Seconds(),
		}); err != nil {
			log.Printf("failed to notify analysis completion: %v", err)
		}
	}
}

// StartWatching re-analyzes the project whenever PHP files change, with a
// debounce so one save burst triggers one run.
func (s *Server) StartWatching(ctx context.Context) error {
	s.mu.Lock()
	if s.watcher != nil {
		s.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.watcher = watcher
	ctx, s.watchStop = context.WithCancel(ctx)
	s.mu.Unlock()

	if err := addDirs(watcher, s.rootPath); err != nil {
		log.Printf("failed to watch %s: %v", s.rootPath, err)
	}

	go s.watchLoop(ctx, watcher)
	return nil
}

func (s *Server) stopWatching() {
	s.mu.Lock()
	watcher, stop := s.watcher, s.watchStop
	s.watcher, s.watchStop = nil, nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	if watcher != nil {
		_ = watcher.Close()
	}
}

func (s *Server) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	timer := time.NewTimer(debounceDelay)
	if !timer.Stop() {
		<-timer.C
	}
	dirty := false

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addDirs(watcher, event.Name); err != nil {
						log.Printf("failed to watch %s: %v", event.Name, err)
					}
					continue
				}
			}
			if !strings.HasSuffix(event.Name, ".php") {
				continue
			}
			dirty = true
			timer.Reset(debounceDelay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("watcher error: %v", err)

		case <-timer.C:
			if dirty {
				dirty = false
				s.analyzeAndPublish(ctx, s.rootPath)
			}
		}
	}
}

// addDirs registers root and its subdirectories with the watcher, honoring
// the same skip list as the scanner.
func addDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (name == ".git" || name == "node_modules" || name == "cache" || name == "var") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
