package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Paths maps artifact kinds to file paths. Empty paths are skipped.
type Paths map[Kind]string

// maxParallelReads bounds concurrent file reads; reads never overlap with
// computation, which starts only after every file is in memory.
const maxParallelReads = 4

// ReadFiles loads every supplied path into Sources. A required kind without a
// path, or any unreadable file, is a startup error; all such problems are
// reported together in kind order.
func ReadFiles(ctx context.Context, paths Paths) (Sources, error) {
	var missing []error
	for _, k := range Kinds() {
		if Required(k) && paths[k] == "" {
			missing = append(missing, fmt.Errorf("required input %s not supplied", k))
		}
	}
	if len(missing) > 0 {
		return nil, errors.Join(missing...)
	}

	var (
		mu      sync.Mutex
		src     = make(Sources, len(paths))
		readErr = make(map[Kind]error)
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelReads)
	for kind, path := range paths {
		if path == "" {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				readErr[kind] = fmt.Errorf("read %s: %w", kind, err)
				return nil
			}
			src[kind] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(readErr) > 0 {
		kinds := make([]Kind, 0, len(readErr))
		for k := range readErr {
			kinds = append(kinds, k)
		}
		sort.Slice(kinds, func(i, j int) bool { return kindOrder(kinds[i]) < kindOrder(kinds[j]) })
		errs := make([]error, len(kinds))
		for i, k := range kinds {
			errs[i] = readErr[k]
		}
		return nil, errors.Join(errs...)
	}
	return src, nil
}
