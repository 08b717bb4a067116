package tables

// Reference pairs a subject with the name of its reference volume
// (basename without .nii.gz).
type Reference struct {
	Subject string
	Volume  string
}

const (
	colSubject   = "Subject"
	colReference = "ReferenceVolume"
)

// ReadReferenceList reads Subject,ReferenceVolume rows.
func ReadReferenceList(path string) ([]Reference, error) {
	t, err := readTable(path, colSubject, colReference)
	if err != nil {
		return nil, err
	}
	out := make([]Reference, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, Reference{Subject: t.get(row, colSubject), Volume: t.get(row, colReference)})
	}
	return out, nil
}

// ReferenceMap indexes a reference list by subject.
func ReferenceMap(refs []Reference) map[string]string {
	m := make(map[string]string, len(refs))
	for _, r := range refs {
		m[r.Subject] = r.Volume
	}
	return m
}

// WriteReferenceList writes the list; it refuses to replace an existing one.
func WriteReferenceList(path string, refs []Reference) error {
	rows := make([][]string, len(refs))
	for i, r := range refs {
		rows[i] = []string{r.Subject, r.Volume}
	}
	return writeTable(path, []string{colSubject, colReference}, rows)
}

// ReadSubjectList reads the Subject column of a CSV.
func ReadSubjectList(path string) ([]string, error) {
	t, err := readTable(path, colSubject)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, row := range t.rows {
		if s := t.get(row, colSubject); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// ROINames are the file stems of a CT subject's target contours.
type ROINames struct {
	GTV string
	CTV string
}

// Names lists the non-empty stems, GTV first.
func (r ROINames) Names() []string {
	var out []string
	for _, n := range []string{r.GTV, r.CTV} {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

// ReadROINames reads ID,GTV,CTV rows keyed by ID.
func ReadROINames(path string) (map[string]ROINames, error) {
	t, err := readTable(path, "ID", "GTV", "CTV")
	if err != nil {
		return nil, err
	}
	out := make(map[string]ROINames, len(t.rows))
	for _, row := range t.rows {
		out[t.get(row, "ID")] = ROINames{GTV: t.get(row, "GTV"), CTV: t.get(row, "CTV")}
	}
	return out, nil
}
