package metadata

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/beevik/etree"
)

// descriptor describes a synthetic scan descriptor for tests. The rendered
// XML mirrors the structure of real acquisition descriptors: a root state
// shard with scalar scan parameters, then one Sequence per cycle holding
// per-plane Frame records with per-channel File records.
type descriptor struct {
	date           string
	framePeriod    float64
	scanLinePeriod float64
	pixelsPerLine  int
	umPerPixel     float64
	scanCenterX    float64
	scanCenterY    float64
	singleZ        float64
	channels       []int
	planes         int
	timepoints     int
	multipage      bool
	bidirectionalZ bool

	// zControllers holds per-plane positions for each Z-axis controller.
	// Nil defaults to a single controller stepping 5 um per plane.
	zControllers [][]float64

	// extraFrames appends an incomplete trailing cycle to break the
	// page/plane divisibility
	extraFrames int

	// omit drops the named state values from the rendered XML
	omit map[string]bool
}

func defaultDescriptor() descriptor {
	return descriptor{
		date:           "04/30/2024 10:27:12 AM",
		framePeriod:    0.05,
		scanLinePeriod: 6.3e-05,
		pixelsPerLine:  512,
		umPerPixel:     1.18,
		scanCenterX:    -152.4,
		scanCenterY:    83.1,
		singleZ:        -10,
		channels:       []int{1},
		planes:         1,
		timepoints:     5,
	}
}

func (d descriptor) zValues() [][]float64 {
	if d.zControllers != nil {
		return d.zControllers
	}
	z := make([]float64, d.planes)
	for i := range z {
		z[i] = -10 + float64(i)*5
	}
	return [][]float64{z}
}

func (d descriptor) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<PVScan date=%q version=\"5.8\">\n", d.date)
	b.WriteString("<PVStateShard>\n")
	for _, kv := range []struct {
		key string
		val float64
	}{
		{"framePeriod", d.framePeriod},
		{"scanLinePeriod", d.scanLinePeriod},
		{"pixelsPerLine", float64(d.pixelsPerLine)},
	} {
		if d.omit[kv.key] {
			continue
		}
		fmt.Fprintf(&b, "<PVStateValue key=%q value=\"%g\" />\n", kv.key, kv.val)
	}
	if !d.omit["micronsPerPixel"] {
		fmt.Fprintf(&b, "<PVStateValue key=\"micronsPerPixel\">"+
			"<IndexedValue index=\"XAxis\" value=\"%g\" />"+
			"<IndexedValue index=\"YAxis\" value=\"%g\" /></PVStateValue>\n",
			d.umPerPixel, d.umPerPixel)
	}
	fmt.Fprintf(&b, "<PVStateValue key=\"currentScanCenter\">"+
		"<IndexedValue index=\"XAxis\" value=\"%g\" />"+
		"<IndexedValue index=\"YAxis\" value=\"%g\" /></PVStateValue>\n",
		d.scanCenterX, d.scanCenterY)
	if d.planes <= 1 {
		fmt.Fprintf(&b, "<PVStateValue key=\"positionCurrent\">"+
			"<SubindexedValues index=\"ZAxis\">"+
			"<SubindexedValue subindex=\"0\" value=\"%g\" />"+
			"</SubindexedValues></PVStateValue>\n", d.singleZ)
	}
	b.WriteString("</PVStateShard>\n")

	page := 0
	if d.planes <= 1 {
		d.renderCycle(&b, 1, d.timepoints, &page)
	} else {
		for cycle := 1; cycle <= d.timepoints; cycle++ {
			d.renderCycle(&b, cycle, d.planes, &page)
		}
	}
	if d.extraFrames > 0 {
		d.renderCycle(&b, d.timepoints+1, d.extraFrames, &page)
	}
	b.WriteString("</PVScan>\n")
	return b.String()
}

// renderCycle writes one Sequence element with the given number of frames.
// Single-plane descriptors store all timepoints in one cycle; multi-plane
// descriptors store one frame per plane and one cycle per timepoint.
func (d descriptor) renderCycle(b *strings.Builder, cycle, frames int, page *int) {
	bidi := "False"
	if d.bidirectionalZ {
		bidi = "True"
	}
	fmt.Fprintf(b, "<Sequence cycle=\"%d\" time=\"10:27:13.5\" bidirectionalZ=%q>\n", cycle, bidi)
	for i := 0; i < frames; i++ {
		rel := float64(*page) * d.framePeriod
		if d.planes > 1 {
			fmt.Fprintf(b, "<Frame relativeTime=\"%g\" index=\"%d\">\n", rel, i+1)
		} else {
			fmt.Fprintf(b, "<Frame relativeTime=\"%g\">\n", rel)
		}
		for _, ch := range d.channels {
			if d.multipage {
				fmt.Fprintf(b, "<File channel=\"%d\" filename=\"scan.ome.tif\" page=\"%d\" />\n", ch, *page+1)
			} else {
				fmt.Fprintf(b, "<File channel=\"%d\" filename=\"scan_Cycle%05d_Ch%d_%06d.ome.tif\" />\n",
					ch, cycle, ch, i+1)
			}
		}
		if d.planes > 1 {
			b.WriteString("<PVStateShard><PVStateValue key=\"positionCurrent\">" +
				"<SubindexedValues index=\"ZAxis\">")
			for s, vals := range d.zValues() {
				v := 0.0
				if i < len(vals) {
					v = vals[i]
				}
				fmt.Fprintf(b, "<SubindexedValue subindex=\"%d\" value=\"%g\" />", s, v)
			}
			b.WriteString("</SubindexedValues></PVStateValue></PVStateShard>\n")
		}
		b.WriteString("</Frame>\n")
		*page++
	}
	b.WriteString("</Sequence>\n")
}

// parse renders the descriptor and loads it into an etree document.
func (d descriptor) parse(t *testing.T) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	if err := doc.ReadFromString(d.render()); err != nil {
		t.Fatalf("Failed to parse synthetic descriptor: %v", err)
	}
	return doc
}

func floatsEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestExtractSinglePlane(t *testing.T) {
	d := defaultDescriptor()
	m, err := Extract(d.parse(t))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if m.NumChannels != 1 || len(m.Channels) != 1 || m.Channels[0] != 1 {
		t.Errorf("Expected single channel [1], got %v", m.Channels)
	}
	if m.NumPlanes != 1 || len(m.PlaneIndices) != 1 || m.PlaneIndices[0] != 0 {
		t.Errorf("Expected single plane [0], got %v", m.PlaneIndices)
	}
	if m.NumPages != 5 || m.NumTimepoints != 5 {
		t.Errorf("Expected 5 pages and 5 timepoints, got %d and %d", m.NumPages, m.NumTimepoints)
	}
	if m.IsMultipage {
		t.Error("Expected legacy layout for descriptor without page attributes")
	}
	if len(m.ZPositions) != 1 || !floatsEqual(m.ZPositions[0], -10) {
		t.Errorf("Expected z positions [-10], got %v", m.ZPositions)
	}
	if m.BidirectionalZ {
		t.Error("Expected bidirectionalZ to be false")
	}
	if m.PixelHeight != 512 || m.PixelWidth != 512 {
		t.Errorf("Expected 512x512 pixels, got %dx%d", m.PixelWidth, m.PixelHeight)
	}
	if !floatsEqual(m.HeightUm, 512*1.18) || !floatsEqual(m.WidthUm, 512*1.18) {
		t.Errorf("Expected field size %.2f um, got %.2f x %.2f", 512*1.18, m.WidthUm, m.HeightUm)
	}
	if !floatsEqual(m.FieldX, -152.4) || !floatsEqual(m.FieldY, 83.1) {
		t.Errorf("Expected scan center (-152.4, 83.1), got (%g, %g)", m.FieldX, m.FieldY)
	}
	if !floatsEqual(m.UsecPerLine, 63) {
		t.Errorf("Expected 63 usec per line, got %g", m.UsecPerLine)
	}

	// 5 pages at 0.05 s spacing: the last frame sits at 0.2 s.
	if !floatsEqual(m.ScanDuration, 0.2) {
		t.Errorf("Expected scan duration 0.2, got %g", m.ScanDuration)
	}
	if !floatsEqual(m.FrameRate, 5/0.2) {
		t.Errorf("Expected frame rate 25, got %g", m.FrameRate)
	}

	if m.ScanDatetime.Year() != 2024 || m.ScanDatetime.Month() != 4 || m.ScanDatetime.Day() != 30 {
		t.Errorf("Scan date parsed incorrectly: %v", m.ScanDatetime)
	}
	if m.ScanDatetime.Hour() != 10 || m.ScanDatetime.Minute() != 27 {
		t.Errorf("Scan time parsed incorrectly: %v", m.ScanDatetime)
	}
	if m.RecordingStartTime != "10:27:13.5" {
		t.Errorf("Expected recording start time 10:27:13.5, got %q", m.RecordingStartTime)
	}
}

func TestExtractMultiPlaneMultiChannel(t *testing.T) {
	d := defaultDescriptor()
	d.channels = []int{2, 1}
	d.planes = 3
	d.timepoints = 4
	d.multipage = true
	m, err := Extract(d.parse(t))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if m.NumChannels != 2 || m.Channels[0] != 1 || m.Channels[1] != 2 {
		t.Errorf("Expected channels [1 2], got %v", m.Channels)
	}
	if m.NumPlanes != 3 {
		t.Errorf("Expected 3 planes, got %d", m.NumPlanes)
	}
	for i, want := range []int{1, 2, 3} {
		if m.PlaneIndices[i] != want {
			t.Errorf("Expected plane indices [1 2 3], got %v", m.PlaneIndices)
			break
		}
	}
	if m.NumPages != 12 {
		t.Errorf("Expected 12 pages (4 timepoints x 3 planes), got %d", m.NumPages)
	}
	if m.NumTimepoints != 4 {
		t.Errorf("Expected 4 timepoints, got %d", m.NumTimepoints)
	}
	if !m.IsMultipage {
		t.Error("Expected multi-page layout for descriptor with page attributes")
	}
	wantZ := []float64{-10, -5, 0}
	if len(m.ZPositions) != 3 {
		t.Fatalf("Expected 3 z positions, got %v", m.ZPositions)
	}
	for i := range wantZ {
		if !floatsEqual(m.ZPositions[i], wantZ[i]) {
			t.Errorf("Expected z positions %v, got %v", wantZ, m.ZPositions)
			break
		}
	}
}

func TestExtractBidirectionalZ(t *testing.T) {
	d := defaultDescriptor()
	d.planes = 2
	d.timepoints = 3
	d.bidirectionalZ = true
	m, err := Extract(d.parse(t))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !m.BidirectionalZ {
		t.Error("Expected bidirectionalZ to be true")
	}
}

func TestExtractZControllerSelection(t *testing.T) {
	base := func() descriptor {
		d := defaultDescriptor()
		d.planes = 3
		d.timepoints = 2
		return d
	}

	t.Run("OneVaryingAmongSeveral", func(t *testing.T) {
		d := base()
		d.zControllers = [][]float64{
			{100, 100, 100},
			{-10, -5, 0},
			{0, 0, 0},
		}
		m, err := Extract(d.parse(t))
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		want := []float64{-10, -5, 0}
		for i := range want {
			if !floatsEqual(m.ZPositions[i], want[i]) {
				t.Fatalf("Expected z positions %v from the varying controller, got %v", want, m.ZPositions)
			}
		}
	})

	t.Run("NoneVarying", func(t *testing.T) {
		d := base()
		d.zControllers = [][]float64{
			{100, 100, 100},
			{50, 50, 50},
		}
		if _, err := Extract(d.parse(t)); !errors.Is(err, ErrMalformedDescriptor) {
			t.Fatalf("Expected ErrMalformedDescriptor with no varying controller, got %v", err)
		}
	})

	t.Run("TwoVarying", func(t *testing.T) {
		d := base()
		d.zControllers = [][]float64{
			{-10, -5, 0},
			{30, 40, 50},
		}
		if _, err := Extract(d.parse(t)); !errors.Is(err, ErrMalformedDescriptor) {
			t.Fatalf("Expected ErrMalformedDescriptor with two varying controllers, got %v", err)
		}
	})
}

func TestExtractFractionalPageRatio(t *testing.T) {
	d := defaultDescriptor()
	d.planes = 3
	d.timepoints = 4
	d.extraFrames = 1 // 13 pages over 3 planes
	_, err := Extract(d.parse(t))
	if !errors.Is(err, ErrMalformedDescriptor) {
		t.Fatalf("Expected ErrMalformedDescriptor for a fractional page/plane ratio, got %v", err)
	}
}

func TestExtractMissingFields(t *testing.T) {
	for _, key := range []string{"framePeriod", "scanLinePeriod", "pixelsPerLine", "micronsPerPixel"} {
		t.Run(key, func(t *testing.T) {
			d := defaultDescriptor()
			d.omit = map[string]bool{key: true}
			if _, err := Extract(d.parse(t)); !errors.Is(err, ErrMalformedDescriptor) {
				t.Fatalf("Expected ErrMalformedDescriptor without %s, got %v", key, err)
			}
		})
	}

	t.Run("BadDate", func(t *testing.T) {
		d := defaultDescriptor()
		d.date = "not a date"
		if _, err := Extract(d.parse(t)); !errors.Is(err, ErrMalformedDescriptor) {
			t.Fatalf("Expected ErrMalformedDescriptor for unparseable date, got %v", err)
		}
	})
}
