package pipeline

import (
	"fmt"
	"strings"

	"github.com/backmassage/neuroprep/internal/bids"
	"github.com/backmassage/neuroprep/internal/config"
	"github.com/backmassage/neuroprep/internal/tables"
)

// SelectSubjects resolves the subjects to process: the explicit list (a
// single .csv entry is read as a subject table), else the configured subject
// list file, else every subject in the layout minus the exclusions. The
// result is then cut to start at cfg.StartFrom.
func SelectSubjects(cfg *config.Config, l *bids.Layout) ([]string, error) {
	var subjects []string
	switch {
	case len(cfg.Subjects) == 1 && strings.HasSuffix(strings.ToLower(cfg.Subjects[0]), ".csv"):
		list, err := tables.ReadSubjectList(cfg.Subjects[0])
		if err != nil {
			return nil, err
		}
		subjects = list
	case len(cfg.Subjects) > 0:
		for _, s := range cfg.Subjects {
			subjects = append(subjects, strings.TrimPrefix(s, "sub-"))
		}
	case cfg.SubjectList != "":
		list, err := tables.ReadSubjectList(cfg.SubjectList)
		if err != nil {
			return nil, err
		}
		subjects = list
	default:
		excluded := make(map[string]bool, len(cfg.Exclude))
		for _, s := range cfg.Exclude {
			excluded[s] = true
		}
		for _, s := range l.Subjects() {
			if !excluded[s] {
				subjects = append(subjects, s)
			}
		}
	}

	if cfg.StartFrom == "" {
		return subjects, nil
	}
	start := strings.TrimPrefix(cfg.StartFrom, "sub-")
	for i, s := range subjects {
		if s == start {
			return subjects[i:], nil
		}
	}
	return nil, fmt.Errorf("start subject %s is not in the subject list", start)
}
