package tables

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestReferenceList_RoundTripAndNoOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interim", "subject_reference_list.csv")
	refs := []Reference{
		{"GBM001", "sub-GBM001_ses-GLIO01_acq-fs_T1w"},
		{"GBM002", "sub-GBM002_ses-GLIO01_acq-ip_ce-gd_T1w"},
	}
	require.NoError(t, WriteReferenceList(path, refs))
	assert.True(t, Exists(path))

	got, err := ReadReferenceList(path)
	require.NoError(t, err)
	assert.Equal(t, refs, got)
	assert.Equal(t, "sub-GBM002_ses-GLIO01_acq-ip_ce-gd_T1w", ReferenceMap(got)["GBM002"])

	err = WriteReferenceList(path, refs[:1])
	assert.True(t, errors.Is(err, ErrExists))
	got, err = ReadReferenceList(path)
	require.NoError(t, err)
	assert.Len(t, got, 2, "existing table untouched")
}

func TestReadSubjectList(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "subjects.csv", "\ufeffSubject,Notes\nM001,first\n\n M002 ,\n,empty\n")
	got, err := ReadSubjectList(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"M001", "M002"}, got)

	bad := writeFile(t, dir, "bad.csv", "ID\nM001\n")
	_, err = ReadSubjectList(bad)
	assert.True(t, errors.Is(err, ErrMissingColumn))

	empty := writeFile(t, dir, "empty.csv", "")
	_, err = ReadSubjectList(empty)
	assert.Error(t, err)
}

func TestReadROINames(t *testing.T) {
	p := writeFile(t, t.TempDir(), "roi_names.csv", "ID,GTV,CTV\nM174,GTV_1,CTV_1\nM178,GTV,\n")
	got, err := ReadROINames(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"GTV_1", "CTV_1"}, got["M174"].Names())
	assert.Equal(t, []string{"GTV"}, got["M178"].Names())
	assert.Empty(t, got["M999"].Names())
}

func TestReadTracker(t *testing.T) {
	p := writeFile(t, t.TempDir(), "tracker.csv",
		"Study ID,Arm,TX START DATE\nM001,A,2019-05-02\nM002,B,06/13/2019\nM003,A,\nM004,A,2020-01-07 00:00:00\n")
	starts, skipped, err := ReadTracker(p)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2019, 5, 2, 0, 0, 0, 0, time.UTC), starts["M001"])
	assert.Equal(t, time.Date(2019, 6, 13, 0, 0, 0, 0, time.UTC), starts["M002"])
	assert.Equal(t, time.Date(2020, 1, 7, 0, 0, 0, 0, time.UTC), starts["M004"])
	assert.Equal(t, []string{"M003"}, skipped)
}

func TestSessionDays(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2019, 9, 25, 0, 0, 0, 0, time.UTC)
	rows := []SessionDay{
		{"M007", "MRL001", start, time.Date(2019, 9, 20, 0, 0, 0, 0, time.UTC)},
		{"M007", "MRL002", start, time.Date(2019, 10, 16, 0, 0, 0, 0, time.UTC)},
	}
	assert.Equal(t, -5, rows[0].TxDay())
	assert.Equal(t, 21, rows[1].TxDay())

	path := filepath.Join(dir, "session_day.csv")
	require.NoError(t, WriteSessionDays(path, rows))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"Subject,Session,TxStartDate,Date,TxDay\n"+
			"M007,MRL001,20190925,20190920,-5\n"+
			"M007,MRL002,20190925,20191016,21\n",
		string(data))
	assert.True(t, errors.Is(WriteSessionDays(path, nil), ErrExists))

	debug := filepath.Join(dir, "debug_session_day.csv")
	require.NoError(t, WriteUnmatched(debug, []Unmatched{{"M050", "MRL001", "no treatment start"}}))
	data, err = os.ReadFile(debug)
	require.NoError(t, err)
	assert.Equal(t, "Subject,Session,Reason\nM050,MRL001,no treatment start\n", string(data))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("20190925")
	require.NoError(t, err)
	assert.Equal(t, "2019-09-25", d.Format("2006-01-02"))
	_, err = ParseDate("25.09.2019")
	assert.Error(t, err)
}
