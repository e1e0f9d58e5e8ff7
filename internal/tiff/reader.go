package tiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"

	"prairiestack/internal/models"
)

// byteReader reads binary values from an io.ReaderAt with an explicit byte
// order and a running position. Classic TIFF uses 4-byte directory offsets,
// BigTIFF 8-byte ones; offSize selects between them.
type byteReader struct {
	r       io.ReaderAt
	order   binary.ByteOrder
	offSize int
	pos     int64
}

func (br *byteReader) at(offset int64) *byteReader {
	return &byteReader{r: br.r, order: br.order, offSize: br.offSize, pos: offset}
}

func (br *byteReader) readBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := br.r.ReadAt(buf, br.pos); err != nil {
		return nil, err
	}
	br.pos += int64(n)
	return buf, nil
}

func (br *byteReader) readUint16() (uint16, error) {
	buf, err := br.readBytes(2)
	if err != nil {
		return 0, err
	}
	return br.order.Uint16(buf), nil
}

func (br *byteReader) readUint32() (uint32, error) {
	buf, err := br.readBytes(4)
	if err != nil {
		return 0, err
	}
	return br.order.Uint32(buf), nil
}

func (br *byteReader) readUint64() (uint64, error) {
	buf, err := br.readBytes(8)
	if err != nil {
		return 0, err
	}
	return br.order.Uint64(buf), nil
}

// readOffset reads a directory offset using the configured offset size.
func (br *byteReader) readOffset() (int64, error) {
	if br.offSize == 8 {
		v, err := br.readUint64()
		return int64(v), err
	}
	v, err := br.readUint32()
	return int64(v), err
}

// pageDir holds the decoded directory entries of one page.
type pageDir struct {
	width           int
	height          int
	bits            int
	compression     int
	photometric     int
	samplesPerPixel int
	predictor       int
	stripOffsets    []int64
	stripByteCounts []int64
	description     string
}

// File is an open TIFF file with all page directories indexed. Pages are
// decoded individually by ReadPage; the pixel data itself is only read on
// demand.
type File struct {
	f     *os.File
	path  string
	order binary.ByteOrder
	big   bool
	pages []pageDir
}

// Open opens a TIFF file and walks its directory chain, indexing every
// page. Both classic TIFF and BigTIFF are accepted, in either byte order.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	tf, err := newFile(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return tf, nil
}

func newFile(f *os.File, path string) (*File, error) {
	header := make([]byte, 8)
	if _, err := f.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNotTIFF)
	}

	var order binary.ByteOrder
	switch string(header[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrNotTIFF)
	}

	tf := &File{f: f, path: path, order: order}
	br := &byteReader{r: f, order: order, offSize: 4, pos: 2}

	magic, err := br.readUint16()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNotTIFF)
	}
	switch magic {
	case 42:
		// classic TIFF: 4-byte offsets
	case 43:
		// BigTIFF: offset size field must be 8, followed by a zero pad
		offSize, err := br.readUint16()
		if err != nil || offSize != 8 {
			return nil, fmt.Errorf("%s: %w", path, ErrNotTIFF)
		}
		if pad, err := br.readUint16(); err != nil || pad != 0 {
			return nil, fmt.Errorf("%s: %w", path, ErrNotTIFF)
		}
		tf.big = true
		br.offSize = 8
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrNotTIFF)
	}

	next, err := br.readOffset()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNotTIFF)
	}
	for next != 0 {
		dir, following, err := tf.parseDir(br.at(next))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		tf.pages = append(tf.pages, dir)
		if following != 0 && following <= next {
			// defend against directory cycles
			return nil, fmt.Errorf("%s: directory chain loops: %w", path, ErrCorrupt)
		}
		next = following
	}
	if len(tf.pages) == 0 {
		return nil, fmt.Errorf("%s: no image directories: %w", path, ErrCorrupt)
	}
	return tf, nil
}

// dirEntry is one raw directory entry before value resolution.
type dirEntry struct {
	tag   int
	typ   int
	count int64
	value []byte // inline value field: 4 bytes classic, 8 bytes BigTIFF
}

func (tf *File) parseDir(br *byteReader) (pageDir, int64, error) {
	dir := pageDir{
		bits:            1,
		compression:     compressionNone,
		samplesPerPixel: 1,
		predictor:       1,
	}

	var count int64
	if tf.big {
		c, err := br.readUint64()
		if err != nil {
			return dir, 0, ErrCorrupt
		}
		count = int64(c)
	} else {
		c, err := br.readUint16()
		if err != nil {
			return dir, 0, ErrCorrupt
		}
		count = int64(c)
	}

	entrySize := 12
	inline := 4
	if tf.big {
		entrySize = 20
		inline = 8
	}

	for i := int64(0); i < count; i++ {
		raw, err := br.readBytes(entrySize)
		if err != nil {
			return dir, 0, ErrCorrupt
		}
		e := dirEntry{
			tag: int(tf.order.Uint16(raw[0:2])),
			typ: int(tf.order.Uint16(raw[2:4])),
		}
		if tf.big {
			e.count = int64(tf.order.Uint64(raw[4:12]))
			e.value = raw[12:20]
		} else {
			e.count = int64(tf.order.Uint32(raw[4:8]))
			e.value = raw[8:12]
		}
		if err := tf.applyEntry(&dir, e, inline); err != nil {
			return dir, 0, err
		}
	}

	next, err := br.readOffset()
	if err != nil {
		return dir, 0, ErrCorrupt
	}
	return dir, next, nil
}

// applyEntry resolves one directory entry into the pageDir fields the
// reader cares about. Entries with unknown tags are ignored.
func (tf *File) applyEntry(dir *pageDir, e dirEntry, inline int) error {
	switch e.tag {
	case tagImageWidth, tagImageLength, tagBitsPerSample, tagCompression,
		tagPhotometric, tagStripOffsets, tagSamplesPerPixel,
		tagStripByteCounts, tagPredictor, tagSampleFormat:
	case tagImageDescription:
		data, err := tf.entryData(e, inline)
		if err != nil {
			return err
		}
		dir.description = string(bytes.TrimRight(data, "\x00"))
		return nil
	default:
		return nil
	}

	vals, err := tf.entryInts(e, inline)
	if err != nil {
		return err
	}
	if len(vals) == 0 {
		return ErrCorrupt
	}

	switch e.tag {
	case tagImageWidth:
		dir.width = int(vals[0])
	case tagImageLength:
		dir.height = int(vals[0])
	case tagBitsPerSample:
		dir.bits = int(vals[0])
	case tagCompression:
		dir.compression = int(vals[0])
	case tagPhotometric:
		dir.photometric = int(vals[0])
	case tagSamplesPerPixel:
		dir.samplesPerPixel = int(vals[0])
	case tagPredictor:
		dir.predictor = int(vals[0])
	case tagStripOffsets:
		dir.stripOffsets = vals
	case tagStripByteCounts:
		dir.stripByteCounts = vals
	case tagSampleFormat:
		if vals[0] != 1 {
			return fmt.Errorf("sample format %d: %w", vals[0], ErrUnsupported)
		}
	}
	return nil
}

// entryData returns the raw bytes of an entry's value, following the
// offset indirection when the value does not fit inline.
func (tf *File) entryData(e dirEntry, inline int) ([]byte, error) {
	size := typeSizes[e.typ]
	if size == 0 {
		return nil, fmt.Errorf("field type %d: %w", e.typ, ErrUnsupported)
	}
	total := int64(size) * e.count
	if total <= int64(inline) {
		return e.value[:total], nil
	}
	var off int64
	if inline == 8 {
		off = int64(tf.order.Uint64(e.value))
	} else {
		off = int64(tf.order.Uint32(e.value))
	}
	buf := make([]byte, total)
	if _, err := tf.f.ReadAt(buf, off); err != nil {
		return nil, ErrCorrupt
	}
	return buf, nil
}

// entryInts decodes an entry's values as integers.
func (tf *File) entryInts(e dirEntry, inline int) ([]int64, error) {
	data, err := tf.entryData(e, inline)
	if err != nil {
		return nil, err
	}
	size := typeSizes[e.typ]
	vals := make([]int64, 0, e.count)
	for i := int64(0); i < e.count; i++ {
		chunk := data[int(i)*size : (int(i)+1)*size]
		switch e.typ {
		case typeByte:
			vals = append(vals, int64(chunk[0]))
		case typeShort:
			vals = append(vals, int64(tf.order.Uint16(chunk)))
		case typeLong:
			vals = append(vals, int64(tf.order.Uint32(chunk)))
		case typeLong8, 17, 18:
			vals = append(vals, int64(tf.order.Uint64(chunk)))
		default:
			return nil, fmt.Errorf("field type %d for integer tag %d: %w", e.typ, e.tag, ErrUnsupported)
		}
	}
	return vals, nil
}

// NumPages returns the number of pages in the file.
func (tf *File) NumPages() int {
	return len(tf.pages)
}

// Description returns the ImageDescription of the first page carrying one,
// or the empty string.
func (tf *File) Description() string {
	for _, d := range tf.pages {
		if d.description != "" {
			return d.description
		}
	}
	return ""
}

// ReadPage decodes the page at index i. Samples of 16-bit pages are
// normalized to little-endian regardless of the file's byte order.
func (tf *File) ReadPage(i int) (*models.Page, error) {
	if tf.f == nil {
		return nil, ErrClosed
	}
	if i < 0 || i >= len(tf.pages) {
		return nil, fmt.Errorf("%s: page %d of %d: %w", tf.path, i, len(tf.pages), ErrPageRange)
	}
	d := tf.pages[i]

	if d.samplesPerPixel != 1 {
		return nil, fmt.Errorf("%s: %d samples per pixel: %w", tf.path, d.samplesPerPixel, ErrUnsupported)
	}
	if d.photometric > 1 {
		return nil, fmt.Errorf("%s: photometric %d: %w", tf.path, d.photometric, ErrUnsupported)
	}
	if d.predictor != 1 {
		return nil, fmt.Errorf("%s: predictor %d: %w", tf.path, d.predictor, ErrUnsupported)
	}
	if d.bits != 8 && d.bits != 16 {
		return nil, fmt.Errorf("%s: %d bits per sample: %w", tf.path, d.bits, ErrUnsupported)
	}
	if len(d.stripOffsets) == 0 || len(d.stripOffsets) != len(d.stripByteCounts) {
		return nil, fmt.Errorf("%s: page %d strip layout: %w", tf.path, i, ErrCorrupt)
	}

	expected := d.width * d.height * d.bits / 8
	data := make([]byte, 0, expected)
	for s := range d.stripOffsets {
		raw := make([]byte, d.stripByteCounts[s])
		if _, err := tf.f.ReadAt(raw, d.stripOffsets[s]); err != nil {
			return nil, fmt.Errorf("%s: page %d strip %d: %w", tf.path, i, s, err)
		}
		decoded, err := decodeStrip(raw, d.compression)
		if err != nil {
			return nil, fmt.Errorf("%s: page %d strip %d: %w", tf.path, i, s, err)
		}
		data = append(data, decoded...)
	}
	if len(data) < expected {
		return nil, fmt.Errorf("%s: page %d has %d of %d bytes: %w", tf.path, i, len(data), expected, ErrCorrupt)
	}
	data = data[:expected]

	if d.bits == 16 && tf.order == binary.BigEndian {
		for j := 0; j+1 < len(data); j += 2 {
			data[j], data[j+1] = data[j+1], data[j]
		}
	}

	return &models.Page{
		Width:         d.width,
		Height:        d.height,
		BitsPerSample: d.bits,
		Data:          data,
	}, nil
}

// decodeStrip decompresses one strip's raw bytes.
func decodeStrip(raw []byte, compression int) ([]byte, error) {
	switch compression {
	case compressionNone:
		return raw, nil
	case compressionLZW:
		r := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer r.Close()
		return io.ReadAll(r)
	case compressionDeflate, compressionOldDeflate:
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("compression %d: %w", compression, ErrUnsupported)
	}
}

// Close releases the underlying file. The page index remains readable but
// ReadPage fails after Close.
func (tf *File) Close() error {
	if tf.f == nil {
		return nil
	}
	err := tf.f.Close()
	tf.f = nil
	return err
}
