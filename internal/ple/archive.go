package ple

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"

	"sunat-client/internal/shared/apierr"
)

// Entry is one file inside a PLE archive.
type Entry struct {
	Name      string `json:"name"`
	SizeBytes uint64 `json:"sizeBytes"`
}

// Archive lists the contents of a downloaded ZIP.
type Archive struct {
	Entries []Entry `json:"entries"`
	// Books are the TXT ledger files.
	Books []string `json:"books"`
}

// DefaultMaxEntryBytes caps the uncompressed size of one archive entry.
const DefaultMaxEntryBytes int64 = 64 << 20

// InspectArchive reads every entry of data, verifying checksums, and lists the
// TXT books it carries. An archive that is not a ZIP, is empty, fails a
// checksum or holds an entry larger than maxEntryBytes is rejected. A
// non-positive limit means DefaultMaxEntryBytes.
func InspectArchive(data []byte, maxEntryBytes int64) (Archive, error) {
	if maxEntryBytes <= 0 {
		maxEntryBytes = DefaultMaxEntryBytes
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Archive{}, apierr.Wrap(apierr.KindTransport, err, "downloaded PLE file is not a valid zip")
	}
	var a Archive
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := drain(f, maxEntryBytes); err != nil {
			return Archive{}, apierr.Wrap(apierr.KindTransport, err, fmt.Sprintf("corrupt entry %s in PLE zip", f.Name))
		}
		a.Entries = append(a.Entries, Entry{Name: f.Name, SizeBytes: f.UncompressedSize64})
		if strings.EqualFold(path.Ext(f.Name), ".txt") {
			a.Books = append(a.Books, f.Name)
		}
	}
	if len(a.Entries) == 0 {
		return Archive{}, apierr.New(apierr.KindTransport, "downloaded PLE zip is empty")
	}
	return a, nil
}

var errEntryTooLarge = errors.New("entry exceeds size limit")

// drain reads at most limit bytes; the header size alone is not trusted.
func drain(f *zip.File, limit int64) error {
	if f.UncompressedSize64 > uint64(limit) {
		return errEntryTooLarge
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	n, err := io.Copy(io.Discard, io.LimitReader(rc, limit+1))
	if err != nil {
		return err
	}
	if n > limit {
		return errEntryTooLarge
	}
	return nil
}

// BuildArchive packs files into a deflated ZIP, in the given order.
func BuildArchive(names []string, contents map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("zip create %s: %w", name, err)
		}
		if _, err := w.Write(contents[name]); err != nil {
			return nil, fmt.Errorf("zip write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip close: %w", err)
	}
	return buf.Bytes(), nil
}
