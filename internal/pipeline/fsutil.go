package pipeline

import (
	"errors"
	"os"
	"strings"

	"github.com/backmassage/neuroprep/internal/naming"
)

// removeIfExists deletes stale outputs before they are rebuilt.
func removeIfExists(e *Env, paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.Log.Warn("remove %s: %v", p, err)
		}
	}
}

// rename moves src to dst, replacing dst.
func rename(src, dst string) error {
	return os.Rename(src, dst)
}

// sidecarOf is the .json next to a .nii.gz volume.
func sidecarOf(volume string) string {
	return strings.TrimSuffix(volume, naming.NiftiExt) + ".json"
}
