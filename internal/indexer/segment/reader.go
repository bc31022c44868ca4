package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/index"
)

type Reader struct {
	file     *os.File
	filePath string
	header   SnapshotHeader
	dict     []DictEntry
	docsRaw  []byte
}

// OpenReader validates the header and footer checksum of a snapshot and
// loads its dictionary. Postings are read on demand.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot file: %w", err)
	}
	r, err := newReader(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func newReader(f *os.File, path string) (*Reader, error) {
	headerBytes, err := readRegion(f, 0, int64(HeaderSize))
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("invalid snapshot file: bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", header.Version)
	}

	dictData, err := readRegion(f, header.DictOffset, header.DictSize)
	if err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	docsData, err := readRegion(f, header.DocsOffset, header.DocsSize)
	if err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	footer, err := readRegion(f, header.DocsOffset+header.DocsSize, int64(FooterSize))
	if err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	if want, got := binary.LittleEndian.Uint32(footer[0:4]), checksum(dictData, docsData); want != got {
		return nil, fmt.Errorf("snapshot checksum mismatch: want %08x, got %08x", want, got)
	}

	var dict []DictEntry
	if err := json.Unmarshal(dictData, &dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}
	if len(dict) != int(header.TermCount) {
		return nil, fmt.Errorf("dictionary holds %d terms, header says %d", len(dict), header.TermCount)
	}
	return &Reader{
		file:     f,
		filePath: path,
		header:   header,
		dict:     dict,
		docsRaw:  docsData,
	}, nil
}

// Search returns the entry for term. found is false when the snapshot does
// not contain it.
func (r *Reader) Search(term string) (entry index.TermEntry, found bool, err error) {
	i := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Term >= term
	})
	if i >= len(r.dict) || r.dict[i].Term != term {
		return index.TermEntry{}, false, nil
	}
	entry, err = r.entry(r.dict[i])
	if err != nil {
		return index.TermEntry{}, false, err
	}
	return entry, true, nil
}

func (r *Reader) entry(d DictEntry) (index.TermEntry, error) {
	data, err := readRegion(r.file, r.header.PostOffset+d.PostOffset, int64(d.PostLen))
	if err != nil {
		return index.TermEntry{}, fmt.Errorf("reading postings for %q: %w", d.Term, err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(data, &postings); err != nil {
		return index.TermEntry{}, fmt.Errorf("parsing postings for %q: %w", d.Term, err)
	}
	return index.TermEntry{Term: d.Term, Position: d.Position, Postings: postings}, nil
}

// Index reads every posting list and rebuilds the in-memory index.
func (r *Reader) Index() (*index.Index, error) {
	entries := make([]index.TermEntry, 0, len(r.dict))
	for _, d := range r.dict {
		entry, err := r.entry(d)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	idx, err := index.FromEntries(entries, int(r.header.DocCount))
	if err != nil {
		return nil, fmt.Errorf("rebuilding index from %s: %w", filepath.Base(r.filePath), err)
	}
	return idx, nil
}

// Documents returns the stored corpus in id order.
func (r *Reader) Documents() ([]Document, error) {
	var docs []Document
	if err := json.Unmarshal(r.docsRaw, &docs); err != nil {
		return nil, fmt.Errorf("parsing documents: %w", err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

func (r *Reader) CreatedAt() int64 {
	return r.header.CreatedAt
}

func (r *Reader) Path() string {
	return r.filePath
}

func (r *Reader) Close() error {
	return r.file.Close()
}

// Latest returns the path of the newest snapshot in dataDir, or "" when the
// directory holds none.
func Latest(dataDir string) (string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading data directory: %w", err)
	}
	names := make([]string, 0)
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), Extension) {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(dataDir, names[len(names)-1]), nil
}

// Prune removes all snapshots in dataDir except the newest keep.
func Prune(dataDir string, keep int) (int, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading data directory: %w", err)
	}
	names := make([]string, 0)
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), Extension) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	removed := 0
	for len(names) > keep {
		if err := os.Remove(filepath.Join(dataDir, names[0])); err != nil {
			return removed, fmt.Errorf("removing snapshot %s: %w", names[0], err)
		}
		names = names[1:]
		removed++
	}
	return removed, nil
}

func sortDict(dict []DictEntry) {
	sort.Slice(dict, func(i, j int) bool {
		return dict[i].Term < dict[j].Term
	})
}
