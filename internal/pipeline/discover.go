package pipeline

import (
	"context"
	"time"

	"github.com/backmassage/neuroprep/internal/bids"
	"github.com/backmassage/neuroprep/internal/config"
	"github.com/backmassage/neuroprep/internal/logging"
	"github.com/backmassage/neuroprep/internal/store"
)

// LoadLayout returns the index of cfg.BIDSDir. With a store, a cached index
// is reused unless cfg.Reindex is set; a fresh walk is saved back.
func LoadLayout(ctx context.Context, cfg *config.Config, log *logging.Logger, st *store.Store, opts bids.Options) (*bids.Layout, error) {
	return loadLayout(ctx, cfg, log, st, cfg.BIDSDir, opts)
}

func loadLayout(ctx context.Context, cfg *config.Config, log *logging.Logger, st *store.Store, root string, opts bids.Options) (*bids.Layout, error) {
	if st != nil && !cfg.Reindex {
		l, ok, err := st.LoadLayout(ctx, root, opts)
		if err != nil {
			log.Warn("Index cache unreadable, walking dataset: %v", err)
		} else if ok {
			log.Debug(cfg.Verbose, "Loaded %d indexed files for %s", len(l.Files), root)
			return l, nil
		}
	}

	start := time.Now()
	l, err := bids.Index(root, opts)
	if err != nil {
		return nil, err
	}
	log.Info("Indexed %d files in %s (%s)", len(l.Files), root, time.Since(start).Round(time.Millisecond))

	if st != nil {
		if err := st.SaveLayout(ctx, l, opts); err != nil {
			log.Warn("Could not cache index: %v", err)
		}
	}
	return l, nil
}
