// Package stitch reassembles the per-frame TIFF files of one acquisition
// into consolidated per-plane, per-channel image stacks. Given the scan
// metadata it resolves which source files hold data for a (plane, channel)
// pair, computes the global page indices belonging to the output stream,
// and streams exactly those pages into one or more output files.
package stitch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"prairiestack/internal/models"
	"prairiestack/internal/tiff"
	"prairiestack/pkg/metadata"
)

// Options controls one reassembly run.
type Options struct {
	// Plane is the optical plane index, or Unset to default to the sole
	// plane of a single-plane acquisition
	Plane int

	// Channel is the detection channel identifier, or Unset to default
	// to the sole channel of a single-channel acquisition
	Channel int

	// OutputDir is the directory output files are written to
	OutputDir string

	// OutputPrefix overrides the output name stem. When empty, the
	// common prefix of the resolved source names is used.
	OutputPrefix string

	// Overwrite deletes pre-existing output for this stem before
	// regenerating. When false, existing output is returned untouched.
	Overwrite bool

	// SplitBytes closes the current output file and opens the next part
	// once its size reaches this threshold. Zero disables splitting.
	// Only the legacy one-page-per-file layout honors it.
	SplitBytes int64
}

// Stitcher reassembles stacks from the acquisition bound to a metadata
// loader. Each run addresses one (plane, channel) pair and owns its output
// files exclusively; no coordination with other runs is needed.
type Stitcher struct {
	loader *metadata.Loader
}

// New creates a stitcher over a loaded acquisition.
func New(loader *metadata.Loader) *Stitcher {
	return &Stitcher{loader: loader}
}

// WriteStack reassembles the output stack for the selected plane and
// channel and returns the paths of the output files, named
// {stem}_pln{plane}_chn{channel}_{0000..}.tif.
//
// If output for this stem already exists and Overwrite is false, the
// existing files are returned without any writing. A failure mid-run can
// leave partial output behind; retrying with Overwrite set regenerates it.
func (s *Stitcher) WriteStack(opts Options) ([]string, error) {
	meta, err := s.loader.Meta()
	if err != nil {
		return nil, err
	}

	files, plane, channel, err := Resolve(s.loader.Document(), meta, opts.Plane, opts.Channel)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.loader.Dir(), err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: no source files for plane %d channel %d",
			s.loader.Dir(), plane, channel)
	}

	prefix := opts.OutputPrefix
	if prefix == "" {
		prefix = commonPrefix(files)
	}
	stem := fmt.Sprintf("%s_pln%d_chn%d", prefix, plane, channel)

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = "."
	}

	existing, err := filepath.Glob(filepath.Join(outputDir, stem+"*.tif"))
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		if !opts.Overwrite {
			return existing, nil
		}
		for _, path := range existing {
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("removing stale output: %w", err)
			}
		}
	}

	if meta.IsMultipage {
		if opts.SplitBytes > 0 {
			slog.Warn("stitch: split size not supported for the multi-page layout, writing a single stack",
				"splitBytes", opts.SplitBytes)
		}
		return s.writeMultipage(meta, files, plane, channel, outputDir, stem)
	}
	return s.writeLegacy(meta, files, plane, channel, outputDir, stem, opts.SplitBytes)
}

// writeMultipage handles the modern layout, where each source file stores
// many pages. It walks the resolved files once, carrying the global page
// index of the current file's first page, reads only the pages addressed
// by the target set into a pre-sized buffer, and writes the buffer as one
// multi-page stack. Peak memory is the full output buffer plus one source
// file's page index; source files are open one at a time.
func (s *Stitcher) writeMultipage(meta *metadata.ScanMetadata, files []string, plane, channel int, outputDir, stem string) ([]string, error) {
	targets, err := PageIndices(meta, plane, channel)
	if err != nil {
		return nil, err
	}

	pages := make([]*models.Page, len(targets))
	offset := 0
	for _, name := range files {
		n, err := readTargetPages(filepath.Join(s.loader.Dir(), name), offset, targets, pages)
		if err != nil {
			return nil, fmt.Errorf("plane %d channel %d: source file %s: %w", plane, channel, name, err)
		}
		offset += n
	}

	for t, p := range pages {
		if p == nil {
			return nil, fmt.Errorf("plane %d channel %d: page %d (timepoint %d) beyond the %d pages in %d source files: %w",
				plane, channel, targets[t], t, offset, len(files), ErrCorruptSourcePage)
		}
	}

	out := filepath.Join(outputDir, fmt.Sprintf("%s_%04d.tif", stem, 0))
	if err := tiff.WriteStack(out, pages, tiff.Options{Axes: "TYX", FrameRate: meta.FrameRate}); err != nil {
		return nil, fmt.Errorf("writing %s: %w", out, err)
	}
	return []string{out}, nil
}

// readTargetPages opens one source file, selects the target entries whose
// global index falls within it, reads those pages into the output buffer at
// their timepoint positions, and reports the file's page count. The file is
// closed before returning, including on failure.
func readTargetPages(path string, offset int, targets []int, pages []*models.Page) (int, error) {
	src, err := tiff.Open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	n := src.NumPages()
	var picks []models.PageAddress
	for t, g := range targets {
		if g >= offset && g < offset+n {
			picks = append(picks, models.PageAddress{Global: g, TimeIdx: t})
		}
	}
	for _, pick := range picks {
		p, err := src.ReadPage(pick.Global - offset)
		if err != nil {
			return n, err
		}
		pages[pick.TimeIdx] = p
	}
	return n, nil
}

// writeLegacy handles the one-page-per-file layout, where the resolved
// files correspond 1:1 in order to output timepoints. Pages stream straight
// from source to output without buffering the stack; when splitBytes is
// set, a new output part is started once the open file reaches the
// threshold. The size check runs after each write, so a part may exceed the
// threshold by at most one page.
func (s *Stitcher) writeLegacy(meta *metadata.ScanMetadata, files []string, plane, channel int, outputDir, stem string, splitBytes int64) ([]string, error) {
	var outputs []string
	queue := files
	for len(queue) > 0 {
		out := filepath.Join(outputDir, fmt.Sprintf("%s_%04d.tif", stem, len(outputs)))
		w, err := tiff.NewWriter(out, tiff.Options{Axes: "YX", FrameRate: meta.FrameRate})
		if err != nil {
			return nil, fmt.Errorf("writing %s: %w", out, err)
		}
		for len(queue) > 0 {
			name := queue[0]
			queue = queue[1:]
			if err := copySinglePage(filepath.Join(s.loader.Dir(), name), w); err != nil {
				w.Close()
				return nil, fmt.Errorf("plane %d channel %d: source file %s: %w", plane, channel, name, err)
			}
			if splitBytes > 0 && w.Size() >= splitBytes {
				break
			}
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("writing %s: %w", out, err)
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

// copySinglePage reads the sole page of a legacy source file and appends it
// to the output writer.
func copySinglePage(path string, w *tiff.Writer) error {
	src, err := tiff.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	if n := src.NumPages(); n != 1 {
		return fmt.Errorf("has %d pages, want exactly 1: %w", n, ErrCorruptSourcePage)
	}
	p, err := src.ReadPage(0)
	if err != nil {
		return err
	}
	return w.WritePage(p)
}

// commonPrefix returns the longest common leading string of the names,
// used as the default output stem.
func commonPrefix(names []string) string {
	prefix := names[0]
	for _, name := range names[1:] {
		for len(prefix) > 0 && (len(name) < len(prefix) || name[:len(prefix)] != prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}
