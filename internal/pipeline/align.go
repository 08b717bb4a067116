package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/backmassage/neuroprep/internal/bids"
	"github.com/backmassage/neuroprep/internal/config"
	"github.com/backmassage/neuroprep/internal/logging"
	"github.com/backmassage/neuroprep/internal/naming"
	"github.com/backmassage/neuroprep/internal/registration"
	"github.com/backmassage/neuroprep/internal/tables"
)

// Align registers every session of each subject to the subject's reference
// T1w and writes the subject reference list. Sessions of the MR-Linac
// dataset, when configured, are registered to the same reference. With
// cfg.RefNamesOnly only the list is produced.
func Align(ctx context.Context, e *Env, subjects []string) Stats {
	stats := Stats{Stage: config.StageAlign}
	e.Log.Stage(config.StageAlign, logging.StageStart)
	defer e.Log.Stage(config.StageAlign, logging.StageEnd)
	e.Log.Info("Collect reference names only = %t", e.Cfg.RefNamesOnly)

	l, err := e.Layout(ctx)
	if err != nil {
		e.Log.Error("%v", err)
		return stats
	}

	var linac *bids.Layout
	if e.Cfg.Linac.BIDSDir != "" && !e.Cfg.RefNamesOnly {
		if linac, err = e.LinacLayout(ctx); err != nil {
			e.Log.Error("MR-Linac dataset: %v", err)
		}
	}

	var refs []tables.Reference
	for _, subject := range subjects {
		if ctx.Err() != nil {
			e.Log.Warn("Interrupted")
			break
		}
		e.Log.Info("Processing: %s", subject)

		ref, err := chooseReference(e.Cfg, l, subject)
		if err != nil {
			stats.add(e.finish(ctx, item{stage: config.StageAlign, subject: subject}, err, false))
			continue
		}
		refName := naming.ReferenceName(ref)
		refs = append(refs, tables.Reference{Subject: subject, Volume: refName})
		e.Log.Debug(e.Cfg.Verbose, "Reference: %s", refName)

		if e.Cfg.RefNamesOnly {
			continue
		}
		for _, session := range l.Sessions(subject) {
			if ctx.Err() != nil {
				break
			}
			alignSession(ctx, e, l, &stats, subject, session, ref)
		}
		if linac == nil {
			continue
		}
		for _, session := range linac.Sessions(subject) {
			if ctx.Err() != nil {
				break
			}
			alignLinacSession(ctx, e, linac, &stats, subject, session, ref)
		}
	}

	writeReferenceList(e, refs)
	return stats
}

func alignSession(ctx context.Context, e *Env, l *bids.Layout, stats *Stats, subject, session, ref string) {
	volumes := selectSources(e.Cfg, l, subject, session).All()
	desc := e.Cfg.CoregDesc

	if session == naming.SessionOf(naming.ReferenceName(ref)) {
		outDir := naming.DerivativeDir(e.Cfg.BIDSDir, naming.PipelineCoreg, subject, session, "anat")
		link := naming.Coreg(ref, outDir, desc)
		it := item{stage: config.StageAlign, subject: subject, session: session, output: link.Volume}
		skipped := !e.needs(link.Volume)
		err := linkReference(e, ref, link)
		stats.add(e.finish(ctx, it, err, skipped && err == nil))
		volumes = remove(volumes, ref)
	}

	for _, vol := range volumes {
		datatype := filepath.Base(filepath.Dir(vol))
		outDir := naming.DerivativeDir(e.Cfg.BIDSDir, naming.PipelineCoreg, subject, session, datatype)
		paths := naming.Coreg(vol, outDir, desc)
		it := item{stage: config.StageAlign, subject: subject, session: session, output: paths.Volume}

		if err := e.Claims.Claim(vol, paths.Volume); err != nil {
			stats.add(e.finish(ctx, it, err, false))
			continue
		}
		if !e.needs(paths.Volume) && !e.needs(paths.Matrix) {
			err := writeSpatialReference(e, paths.Sidecar, ref, false)
			stats.add(e.finish(ctx, it, err, err == nil))
			continue
		}

		e.Log.Info("Registering %s", filepath.Base(vol))
		err := e.mkdir(outDir)
		if err == nil {
			_, err = e.registrar().Register(ctx, registration.Request{
				In:       vol,
				Ref:      ref,
				OutDir:   outDir,
				Desc:     desc,
				Resample: e.Cfg.ResampleMM,
			})
		}
		if err == nil {
			err = writeSpatialReference(e, paths.Sidecar, ref, true)
		}
		stats.add(e.finish(ctx, it, err, false))
	}
}

// linkReference symlinks the reference volume as its desc-coreg name inside
// the reference session and writes its sidecar.
func linkReference(e *Env, ref string, link naming.Paths) error {
	if e.Cfg.DryRun {
		e.Log.Info("[dry-run] link %s -> %s", link.Volume, ref)
		return nil
	}
	if err := e.mkdir(filepath.Dir(link.Volume)); err != nil {
		return err
	}
	if e.Cfg.Overwrite && exists(link.Volume) {
		if err := os.Remove(link.Volume); err != nil {
			return err
		}
	}
	if !exists(link.Volume) {
		if err := os.Symlink(ref, link.Volume); err != nil {
			return err
		}
	}
	return writeSpatialReference(e, link.Sidecar, ref, true)
}

// writeSpatialReference writes {"SpatialReference": <ref relative>} unless
// the sidecar exists and force is false.
func writeSpatialReference(e *Env, sidecar, ref string, force bool) error {
	if e.Cfg.DryRun || (!force && exists(sidecar)) {
		return nil
	}
	return bids.WriteSidecar(sidecar, bids.Derived{SpatialReference: bids.Relative(ref, false)})
}

func writeReferenceList(e *Env, refs []tables.Reference) {
	path := e.Cfg.ReferenceListPath()
	if e.Cfg.DryRun {
		e.Log.Info("[dry-run] would write %d references to %s", len(refs), path)
		return
	}
	err := tables.WriteReferenceList(path, refs)
	switch {
	case errors.Is(err, tables.ErrExists):
		e.Log.Info("List of reference volumes already exists: %s", path)
	case err != nil:
		e.Log.Error("Write reference list: %v", err)
	default:
		e.Log.Success("List of reference volumes written: %s", path)
	}
}

// mkdir creates dir unless this is a dry run.
func (e *Env) mkdir(dir string) error {
	if e.Cfg.DryRun {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return nil
}

func remove(paths []string, target string) []string {
	out := paths[:0:0]
	for _, p := range paths {
		if p != target {
			out = append(out, p)
		}
	}
	return out
}
