// Package dataset exports directories of session event trees as training
// conversations.
package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ollama/replagent/api"
	"github.com/ollama/replagent/history"
	"github.com/ollama/replagent/session"
)

var ErrNoSessions = errors.New("dataset: no XML session files found")

// Record is one line of an exported dataset.
type Record struct {
	File          string        `json:"file"`
	Conversations []api.Message `json:"conversations"`
}

type Stats struct {
	Files    int
	Exported int
	Failed   int
}

// Export flattens every *.xml session in dir with opts and writes one JSON
// record per session to w, ordered by file name. Sessions that fail to load
// or flatten are logged and skipped.
func Export(ctx context.Context, dir string, w io.Writer, opts history.Options) (Stats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Stats{}, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".xml") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)

	if len(files) == 0 {
		return Stats{}, fmt.Errorf("%w in %s", ErrNoSessions, dir)
	}

	slog.Info("exporting sessions", "dir", dir, "files", len(files))

	records := make([]*Record, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			msgs, err := load(file, opts)
			if err != nil {
				slog.Warn("skipping session", "file", file, "error", err)
				return nil
			}

			records[i] = &Record{File: file, Conversations: msgs}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	stats := Stats{Files: len(files)}
	enc := json.NewEncoder(w)
	for _, r := range records {
		if r == nil {
			stats.Failed++
			continue
		}

		if err := enc.Encode(r); err != nil {
			return stats, err
		}
		stats.Exported++
	}

	slog.Info("exported sessions", "exported", stats.Exported, "failed", stats.Failed)
	return stats, nil
}

func load(file string, opts history.Options) ([]api.Message, error) {
	s, err := session.ReadFile(file)
	if err != nil {
		return nil, err
	}

	return history.Flatten(s, opts)
}
