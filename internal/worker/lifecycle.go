package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/hydroplante/internal/model"
)

// entryResult is the population result of one manifest entry.
type entryResult struct {
	entry model.ManifestEntry
	err   error
}

// install creates a generation, populates it from the manifest and leaves it
// waiting. It activates at once when nothing is active yet or when skip
// waiting is configured.
//
// Installing the generation that is already active is a no-op.
func (w *Worker) install(ctx context.Context, ev InstallEvent) Outcome {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	gen := ev.Generation
	report := &InstallReport{
		Generation:      gen,
		Cached:          []string{},
		Missing:         []string{},
		MissingRequired: []string{},
	}
	out := Outcome{Install: report}

	if gen == "" {
		out.Err = errors.New("install: empty generation")
		return out
	}
	if gen == w.Active() {
		w.logger.Info("generation already active", "generation", gen)
		report.AlreadyActive = true
		return out
	}

	manifest := ev.Manifest.Normalize()
	log := w.logger.With("generation", gen)
	log.Info("installing generation", "entries", len(manifest))

	var errs []error
	if err := w.store.OpenGeneration(ctx, gen); err != nil {
		// Nothing can be cached; requests will go to the network.
		log.Warn("opening generation failed", "error", err)
		errs = append(errs, &Failure{Code: CodeStoreUnavailable, Op: "open", Err: err})
		for _, e := range manifest {
			report.record(entryResult{entry: e, err: err})
		}
	} else {
		for _, r := range w.populate(ctx, gen, manifest) {
			report.record(r)
			switch {
			case r.err == nil:
			case r.entry.Required:
				log.Warn("required asset not cached", "path", r.entry.Path, "error", r.err)
			default:
				log.Debug("optional asset not cached", "path", r.entry.Path, "error", r.err)
			}
		}
	}

	if n := len(report.MissingRequired); n > 0 {
		errs = append(errs, &Failure{
			Code: CodeEntryMissing,
			Op:   "install",
			Err:  fmt.Errorf("%d required entries missing", n),
		})
	}

	w.mu.Lock()
	w.waiting = gen
	noActive := w.active == ""
	w.mu.Unlock()

	log.Info("generation installed",
		"cached", len(report.Cached),
		"missing", len(report.Missing),
	)

	if noActive || w.skipWaiting {
		act := w.activateLocked(ctx)
		report.Activated = act.Activated != ""
		report.Pruned = act.Pruned
		out.Activated = act.Activated
		out.Pruned = act.Pruned
		if act.Err != nil {
			errs = append(errs, act.Err)
		}
	} else {
		log.Info("generation waiting", "active", w.Active())
	}

	out.Err = errors.Join(errs...)
	return out
}

func (r *InstallReport) record(res entryResult) {
	if res.err == nil {
		r.Cached = append(r.Cached, res.entry.Path)
		return
	}
	r.Missing = append(r.Missing, res.entry.Path)
	if res.entry.Required {
		r.MissingRequired = append(r.MissingRequired, res.entry.Path)
	}
}

// populate fetches every manifest entry and stores the successful ones.
// Per-entry failures never abort the batch. Results keep manifest order.
func (w *Worker) populate(ctx context.Context, gen model.Generation, manifest model.Manifest) []entryResult {
	results := make([]entryResult, len(manifest))

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for i, e := range manifest {
		i, e := i, e
		g.Go(func() error {
			results[i] = entryResult{entry: e, err: w.populateEntry(ctx, gen, e)}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (w *Worker) populateEntry(ctx context.Context, gen model.Generation, e model.ManifestEntry) error {
	if w.cfg.Origin == nil {
		return errors.New("no origin configured")
	}
	u := model.ResolveURL(w.cfg.Origin, e.Path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := w.network.RoundTrip(req)
	if err == nil && resp == nil {
		err = errNoResponse
	}
	if err != nil {
		return fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	key := model.KeyFor(req)
	if !cacheable(key, resp) {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("fetch %s: status %d", u, resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return fmt.Errorf("read %s: %w", u, err)
	}
	rec := model.NewRecord(key, resp.StatusCode, resp.Header, buf.Bytes())
	if err := w.store.Put(ctx, gen, rec); err != nil {
		return err
	}
	return nil
}

// activate promotes the waiting generation. Calling it with nothing waiting
// is a no-op, so repeated SKIP_WAITING messages are harmless.
func (w *Worker) activate(ctx context.Context) Outcome {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	return w.activateLocked(ctx)
}

// activateLocked prunes every other generation and only then switches the
// active generation. Caller must hold lifecycleMu.
func (w *Worker) activateLocked(ctx context.Context) Outcome {
	gen := w.Waiting()
	if gen == "" {
		w.logger.Debug("activate: no generation waiting", "active", w.Active())
		return Outcome{}
	}

	var out Outcome
	pruned, err := w.store.PruneObsolete(ctx, gen)
	if err != nil {
		w.logger.Warn("pruning obsolete generations failed", "generation", gen, "error", err)
		out.Err = &Failure{Code: CodeStoreUnavailable, Op: "prune", Err: err}
	}
	for _, old := range pruned {
		w.logger.Info("pruned generation", "generation", old)
	}

	w.mu.Lock()
	previous := w.active
	w.active = gen
	w.waiting = ""
	w.mu.Unlock()

	w.logger.Info("generation activated", "generation", gen, "previous", previous)
	out.Activated = gen
	out.Pruned = pruned
	return out
}

// Resume adopts gen as the active generation without repopulating it.
// Used at process start when the store already holds gen from an earlier
// session.
func (w *Worker) Resume(ctx context.Context, gen model.Generation) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if gen == "" {
		return errors.New("resume: empty generation")
	}
	if err := w.store.OpenGeneration(ctx, gen); err != nil {
		return fmt.Errorf("resume %s: %w", gen, err)
	}

	w.mu.Lock()
	w.active = gen
	if w.waiting == gen {
		w.waiting = ""
	}
	w.mu.Unlock()

	w.logger.Info("generation resumed", "generation", gen)
	return nil
}
