package tiff

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"prairiestack/internal/models"
)

// Options carries the metadata tags embedded in written files.
type Options struct {
	// Axes names the dimension order of the written data, "TYX" for a
	// time stack or "YX" for a single page
	Axes string

	// FrameRate is the acquisition frame rate in frames per second
	FrameRate float64
}

// description is the JSON document stored in the ImageDescription tag of
// the first page.
type description struct {
	Axes string  `json:"axes"`
	FPS  float64 `json:"fps"`
}

// Writer appends pages to a BigTIFF file one at a time. Each WritePage
// emits the page's pixel data followed by its directory and patches the
// previous directory's next-pointer, so the file on disk is a valid TIFF
// after every page and nothing is buffered between pages.
//
// Output is always little-endian BigTIFF with uncompressed data and one
// strip per page. Acquisition stacks routinely exceed the 4 GiB classic
// TIFF offset limit, so the classic format is never written.
type Writer struct {
	f        *os.File
	path     string
	off      int64 // current end-of-file offset
	prevLink int64 // position of the offset field pointing at the next directory
	npages   int
	desc     []byte
}

// NewWriter creates path (truncating any existing file) and writes the
// BigTIFF header.
func NewWriter(path string, opts Options) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	desc, err := json.Marshal(description{Axes: opts.Axes, FPS: opts.FrameRate})
	if err != nil {
		f.Close()
		return nil, err
	}

	// BigTIFF header: "II", magic 43, offset size 8, pad, first directory
	// offset (patched by the first WritePage).
	header := make([]byte, 16)
	copy(header, "II")
	binary.LittleEndian.PutUint16(header[2:], 43)
	binary.LittleEndian.PutUint16(header[4:], 8)
	binary.LittleEndian.PutUint16(header[6:], 0)
	binary.LittleEndian.PutUint64(header[8:], 0)
	if _, err := f.WriteAt(header, 0); err != nil {
		f.Close()
		return nil, err
	}

	return &Writer{
		f:        f,
		path:     path,
		off:      16,
		prevLink: 8,
		desc:     append(desc, 0), // NUL-terminated ASCII value
	}, nil
}

// ifdEntry is one directory entry staged for writing.
type ifdEntry struct {
	tag   int
	typ   int
	count int64
	value uint64
}

// WritePage appends one page to the file.
func (w *Writer) WritePage(p *models.Page) error {
	if w.f == nil {
		return ErrClosed
	}
	if p.BitsPerSample != 8 && p.BitsPerSample != 16 {
		return fmt.Errorf("%s: %d bits per sample: %w", w.path, p.BitsPerSample, ErrUnsupported)
	}
	want := p.Width * p.Height * p.SampleBytes()
	if len(p.Data) != want {
		return fmt.Errorf("%s: page data is %d bytes, want %d: %w", w.path, len(p.Data), want, ErrCorrupt)
	}

	dataOff := align2(w.off)
	if _, err := w.f.WriteAt(p.Data, dataOff); err != nil {
		return err
	}

	entries := []ifdEntry{
		{tagImageWidth, typeLong, 1, uint64(p.Width)},
		{tagImageLength, typeLong, 1, uint64(p.Height)},
		{tagBitsPerSample, typeShort, 1, uint64(p.BitsPerSample)},
		{tagCompression, typeShort, 1, compressionNone},
		{tagPhotometric, typeShort, 1, 1}, // BlackIsZero
		{tagStripOffsets, typeLong8, 1, uint64(dataOff)},
		{tagSamplesPerPixel, typeShort, 1, 1},
		{tagRowsPerStrip, typeLong, 1, uint64(p.Height)},
		{tagStripByteCounts, typeLong8, 1, uint64(len(p.Data))},
		{tagSampleFormat, typeShort, 1, 1}, // unsigned integer
	}

	ifdOff := align2(dataOff + int64(len(p.Data)))
	// external value area starts after the directory block
	extOff := ifdOff + 8 + int64(len(entries)+1)*20 + 8
	var ext []byte
	if w.npages == 0 {
		entries = append(entries, ifdEntry{
			tagImageDescription, typeASCII, int64(len(w.desc)), uint64(extOff),
		})
		ext = w.desc
	}
	sortEntries(entries)

	block := make([]byte, 8+len(entries)*20+8)
	binary.LittleEndian.PutUint64(block[0:], uint64(len(entries)))
	for i, e := range entries {
		b := block[8+i*20:]
		binary.LittleEndian.PutUint16(b[0:], uint16(e.tag))
		binary.LittleEndian.PutUint16(b[2:], uint16(e.typ))
		binary.LittleEndian.PutUint64(b[4:], uint64(e.count))
		putValue(b[12:20], e.typ, e.value)
	}
	// trailing next-directory offset stays zero until the next WritePage
	if _, err := w.f.WriteAt(block, ifdOff); err != nil {
		return err
	}
	if len(ext) > 0 {
		if _, err := w.f.WriteAt(ext, ifdOff+int64(len(block))); err != nil {
			return err
		}
	}

	// link the previous directory (or the header) to this one
	link := make([]byte, 8)
	binary.LittleEndian.PutUint64(link, uint64(ifdOff))
	if _, err := w.f.WriteAt(link, w.prevLink); err != nil {
		return err
	}

	w.prevLink = ifdOff + 8 + int64(len(entries))*20
	w.off = ifdOff + int64(len(block)) + int64(len(ext))
	w.npages++
	return nil
}

// putValue encodes an inline entry value. Values narrower than 8 bytes are
// left-aligned and zero-padded per the TIFF layout rules. ASCII entries in
// this writer always exceed 8 bytes, so their value is an 8-byte offset.
func putValue(b []byte, typ int, v uint64) {
	switch typ {
	case typeShort:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case typeLong:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}

// sortEntries orders directory entries by ascending tag, as required.
func sortEntries(entries []ifdEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].tag > entries[j].tag; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

func align2(off int64) int64 {
	if off%2 != 0 {
		return off + 1
	}
	return off
}

// NumPages returns the number of pages written so far.
func (w *Writer) NumPages() int {
	return w.npages
}

// Size returns the current size of the output file in bytes.
func (w *Writer) Size() int64 {
	return w.off
}

// Close flushes and closes the output file.
func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// WriteStack writes pages to path as one multi-page file.
func WriteStack(path string, pages []*models.Page, opts Options) error {
	w, err := NewWriter(path, opts)
	if err != nil {
		return err
	}
	for i, p := range pages {
		if err := w.WritePage(p); err != nil {
			w.Close()
			return fmt.Errorf("page %d: %w", i, err)
		}
	}
	return w.Close()
}
