package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/index"
)

// MagicBytes identifies a valid .spdx snapshot file.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 96
	FooterSize    int    = 16
	Extension            = ".spdx"
)

// SnapshotHeader is the fixed-size header written at the start of every
// snapshot. Offsets are absolute.
type SnapshotHeader struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	CreatedAt  int64
	PostOffset int64
	PostSize   int64
	DictOffset int64
	DictSize   int64
	DocsOffset int64
	DocsSize   int64
}

func (h SnapshotHeader) encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.DocsOffset))
	binary.LittleEndian.PutUint64(b[64:72], uint64(h.DocsSize))
	return b
}

func decodeHeader(b []byte) SnapshotHeader {
	return SnapshotHeader{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		TermCount:  binary.LittleEndian.Uint32(b[8:12]),
		DocCount:   binary.LittleEndian.Uint32(b[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(b[16:24])),
		PostOffset: int64(binary.LittleEndian.Uint64(b[24:32])),
		PostSize:   int64(binary.LittleEndian.Uint64(b[32:40])),
		DictOffset: int64(binary.LittleEndian.Uint64(b[40:48])),
		DictSize:   int64(binary.LittleEndian.Uint64(b[48:56])),
		DocsOffset: int64(binary.LittleEndian.Uint64(b[56:64])),
		DocsSize:   int64(binary.LittleEndian.Uint64(b[64:72])),
	}
}

// DictEntry maps a term to its vocabulary position and to the offset and
// length of its postings, relative to the start of the postings region.
type DictEntry struct {
	Term       string `json:"t"`
	Position   int    `json:"p"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

// Document is one corpus entry stored alongside the index.
type Document struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
}

// Writer serialises a built index and its documents into .spdx snapshots.
type Writer struct {
	dataDir string
}

// NewWriter creates a Writer that writes snapshots into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// Write atomically creates a new snapshot of idx and docs. It writes to a
// .tmp file first and renames on success. The dictionary is stored sorted by
// term so readers can binary-search it.
func (w *Writer) Write(idx *index.Index, docs []Document) (string, error) {
	if idx == nil {
		return "", fmt.Errorf("cannot write snapshot of nil index")
	}
	name := fmt.Sprintf("snap_%d%s", time.Now().UnixNano(), Extension)
	finalPath := filepath.Join(w.dataDir, name)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp snapshot file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath)
	}()

	header := SnapshotHeader{
		Magic:     MagicBytes,
		Version:   FormatVersion,
		TermCount: uint32(idx.TermCount()),
		DocCount:  uint32(len(docs)),
		CreatedAt: time.Now().Unix(),
	}
	if _, err := f.Write(header.encode()); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}

	header.PostOffset = int64(HeaderSize)
	var written int64
	entries := idx.Entries()
	dict := make([]DictEntry, 0, len(entries))
	for _, entry := range entries {
		data, err := json.Marshal(entry.Postings)
		if err != nil {
			return "", fmt.Errorf("marshaling postings for term %q: %w", entry.Term, err)
		}
		if _, err := f.Write(data); err != nil {
			return "", fmt.Errorf("writing postings for term %q: %w", entry.Term, err)
		}
		dict = append(dict, DictEntry{
			Term:       entry.Term,
			Position:   entry.Position,
			PostOffset: written,
			PostLen:    len(data),
			DocFreq:    entry.DocFreq(),
		})
		written += int64(len(data))
	}
	header.PostSize = written
	sortDict(dict)

	dictData, err := json.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("marshaling dictionary: %w", err)
	}
	header.DictOffset = header.PostOffset + header.PostSize
	header.DictSize = int64(len(dictData))
	if _, err := f.Write(dictData); err != nil {
		return "", fmt.Errorf("writing dictionary: %w", err)
	}

	if docs == nil {
		docs = []Document{}
	}
	docsData, err := json.Marshal(docs)
	if err != nil {
		return "", fmt.Errorf("marshaling documents: %w", err)
	}
	header.DocsOffset = header.DictOffset + header.DictSize
	header.DocsSize = int64(len(docsData))
	if _, err := f.Write(docsData); err != nil {
		return "", fmt.Errorf("writing documents: %w", err)
	}

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], checksum(dictData, docsData))
	binary.LittleEndian.PutUint32(footer[4:8], MagicBytes)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(header.DocsOffset+header.DocsSize))
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}
	if _, err := f.WriteAt(header.encode(), 0); err != nil {
		return "", fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing snapshot file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming snapshot file: %w", err)
	}
	return name, nil
}

func checksum(parts ...[]byte) uint32 {
	h := crc32.NewIEEE()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum32()
}

// readRegion reads size bytes starting at offset.
func readRegion(r io.ReaderAt, offset, size int64) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}
