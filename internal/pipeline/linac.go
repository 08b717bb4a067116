package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/backmassage/neuroprep/internal/bids"
	"github.com/backmassage/neuroprep/internal/config"
	"github.com/backmassage/neuroprep/internal/naming"
	"github.com/backmassage/neuroprep/internal/registration"
	"github.com/backmassage/neuroprep/internal/tools"
)

// linacSources are the volumes of one MR-Linac session. T1w is estimated
// against the reference; Others follow it through their scanner headers.
type linacSources struct {
	T1w    string
	Others []string
	M0b    string // qMT map still to be registered, also listed in Others
}

// selectLinacSources picks a Linac session's volumes. Sessions without a DWI
// are passed over (ok is false) unless an M0b map was acquired that day or
// FLAIR alignment is on.
func selectLinacSources(e *Env, l *bids.Layout, subject, session string) (src linacSources, ok bool, err error) {
	cfg := e.Cfg
	m0b := linacM0b(e, l, subject, session)

	dwiQuery := bids.Query{Subject: subject, Session: session, Suffix: "dwi", Extension: naming.NiftiExt, Scope: bids.ScopeRaw}
	o, hasOverride := cfg.Override(subject, session)
	if hasOverride && o.DWIRun != "" {
		dwiQuery.Run = o.DWIRun
	}
	dwi := l.Get(dwiQuery)
	if len(dwi) == 0 && m0b == "" && !cfg.Linac.FLAIR {
		return src, false, nil
	}

	t1w := l.Get(bids.Query{Subject: subject, Session: session, Suffix: "T1w", Extension: naming.NiftiExt, Scope: bids.ScopeRaw})
	switch {
	case hasOverride && o.T1wPre != "":
		src.T1w = filepath.Join(cfg.Linac.BIDSDir, "sub-"+subject, "ses-"+session, "anat", o.T1wPre)
	case len(t1w) > 0:
		src.T1w = t1w[0]
	default:
		return src, true, fmt.Errorf("no T1w found: %w", tools.ErrMissingInput)
	}

	if len(dwi) > 0 {
		src.Others = append(src.Others, dwi[0])
	}
	if cfg.Linac.FLAIR {
		flair := pickFLAIR(l.Get(bids.Query{
			Subject: subject, Session: session, Suffix: "FLAIR", Extension: naming.NiftiExt, Scope: bids.ScopeRaw,
		}))
		if flair != "" {
			src.Others = append(src.Others, flair)
		}
	}
	if m0b != "" && e.needs(naming.M0b(cfg.Linac.BIDSDir, subject, session)) {
		e.Log.Info("Appending M0b to list of volumes to co-register: %s", m0b)
		src.M0b = m0b
		src.Others = append(src.Others, m0b)
	}
	return src, true, nil
}

// linacM0b returns the M0b map acquired on the session's date, or "".
func linacM0b(e *Env, l *bids.Layout, subject, session string) string {
	if e.Cfg.Linac.QMTDir == "" {
		return ""
	}
	date, err := bids.SessionToDate(l, subject, session)
	if err != nil {
		e.Log.Debug(e.Cfg.Verbose, "sub-%s_ses-%s: no acquisition date: %v", subject, session, err)
		return ""
	}
	p := naming.M0bSource(e.Cfg.Linac.QMTDir, subject, date)
	if !exists(p) {
		return ""
	}
	return p
}

// alignLinacSession registers one MR-Linac session to the subject reference
// and moves a registered M0b map into the qmt derivatives.
func alignLinacSession(ctx context.Context, e *Env, l *bids.Layout, stats *Stats, subject, session, ref string) {
	cfg := e.Cfg
	outDir := naming.DerivativeDir(cfg.Linac.BIDSDir, naming.PipelineCoreg, subject, session, "")
	it := item{stage: config.StageAlign, subject: subject, session: session, output: outDir}

	src, ok, err := selectLinacSources(e, l, subject, session)
	if !ok {
		e.Log.Info("no DWI: sub-%s_ses-%s", subject, session)
		return
	}
	if err != nil {
		stats.add(e.finish(ctx, it, err, false))
		return
	}

	primary := naming.Coreg(src.T1w, outDir, cfg.CoregDesc)
	outs := []string{primary.Volume, primary.Matrix}
	for _, v := range append([]string{src.T1w}, src.Others...) {
		p := naming.Coreg(v, outDir, cfg.CoregDesc)
		if err := e.Claims.Claim(v, p.Volume); err != nil {
			stats.add(e.finish(ctx, it, err, false))
			return
		}
		if v != src.M0b {
			outs = append(outs, p.Volume)
		}
	}
	if src.M0b == "" && !e.Cfg.Overwrite && allExist(outs) {
		stats.add(e.finish(ctx, it, nil, true))
		return
	}

	e.Log.Info("Registering %s", filepath.Base(src.T1w))
	if err := e.mkdir(outDir); err != nil {
		stats.add(e.finish(ctx, it, err, false))
		return
	}
	res, err := e.registrar().Register(ctx, registration.Request{
		In:          src.T1w,
		Ref:         ref,
		OutDir:      outDir,
		Desc:        cfg.CoregDesc,
		Resample:    cfg.ResampleMM,
		Others:      src.Others,
		OthersQForm: true,
		KeepPhase1:  cfg.Linac.KeepPhase1,
	})
	if err == nil {
		err = writeSpatialReference(e, res.Primary.Sidecar, ref, true)
	}
	for i := 0; err == nil && i < len(res.Others); i++ {
		if src.Others[i] == src.M0b {
			err = moveM0b(e, res.Others[i].Volume, subject, session)
			continue
		}
		err = writeSpatialReference(e, res.Others[i].Sidecar, ref, true)
	}
	stats.add(e.finish(ctx, it, err, false))
}

// moveM0b places the registered M0b map under derivatives/qmt.
func moveM0b(e *Env, registered, subject, session string) error {
	dst := naming.M0b(e.Cfg.Linac.BIDSDir, subject, session)
	if e.Cfg.DryRun {
		e.Log.Info("[dry-run] move %s -> %s", registered, dst)
		return nil
	}
	if err := e.mkdir(filepath.Dir(dst)); err != nil {
		return err
	}
	if err := rename(registered, dst); err != nil {
		return err
	}
	e.Log.Info("M0b volume moved: %s", dst)
	return nil
}
