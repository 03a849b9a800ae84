package domain

// FileDescriptor is a single manifest entry: where the file goes, where it
// comes from and the digest it must match.
type FileDescriptor struct {
	Path string `json:"path"`
	URL  string `json:"url"`
	Hash string `json:"hash"`

	// Size is advisory; zero when the manifest does not carry it.
	Size int64 `json:"size,omitempty"`
}

// Manifest is the ordered list of files for one run. It is read-only once
// a run has started.
type Manifest struct {
	Source string           `json:"source,omitempty"`
	Files  []FileDescriptor `json:"files"`
}

func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Files)
}

// TotalSize sums the advisory sizes of every entry.
func (m *Manifest) TotalSize() int64 {
	if m == nil {
		return 0
	}
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}
