package metadata

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"gonum.org/v1/gonum/stat"
)

// scanDateLayout matches the descriptor's date attribute, e.g.
// "04/30/2024 10:27:12 AM".
const scanDateLayout = "1/2/2006 3:04:05 PM"

// Extract parses a descriptor tree into a ScanMetadata record. It is a
// pure function over the tree and returns ErrMalformedDescriptor (wrapped
// with field context) when a required field is absent, when the page count
// is not divisible by the plane count, or when the varying Z-axis
// controller is ambiguous.
func Extract(doc *etree.Document) (*ScanMetadata, error) {
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("empty document: %w", ErrMalformedDescriptor)
	}

	m := &ScanMetadata{}

	// Channel identifiers come from the per-frame file records; the
	// distinct set defines the channel dimension.
	files := doc.FindElements("//Sequence/Frame/File[@channel]")
	if len(files) == 0 {
		return nil, fmt.Errorf("no Sequence/Frame/File records with a channel attribute: %w", ErrMalformedDescriptor)
	}
	seen := map[int]bool{}
	for _, f := range files {
		ch, err := strconv.Atoi(f.SelectAttrValue("channel", ""))
		if err != nil {
			return nil, fmt.Errorf("file record channel attribute: %w", ErrMalformedDescriptor)
		}
		if !seen[ch] {
			seen[ch] = true
			m.Channels = append(m.Channels, ch)
		}
	}
	sort.Ints(m.Channels)
	m.NumChannels = len(m.Channels)

	// The modern layout stores several pages per file and marks each file
	// record with a page attribute.
	m.IsMultipage = doc.FindElement("//Sequence/Frame/File[@page]") != nil

	frames := doc.FindElements("//Sequence/Frame")
	m.NumPages = len(frames)
	if m.NumPages == 0 {
		return nil, fmt.Errorf("no Sequence/Frame records: %w", ErrMalformedDescriptor)
	}

	firstCycle := doc.FindElement("//Sequence[@cycle='1']")
	if firstCycle == nil {
		return nil, fmt.Errorf("no Sequence with cycle 1: %w", ErrMalformedDescriptor)
	}
	m.RecordingStartTime = firstCycle.SelectAttrValue("time", "")

	var err error
	if m.FramePeriod, err = stateFloat(doc, "framePeriod"); err != nil {
		return nil, err
	}
	linePeriod, err := stateFloat(doc, "scanLinePeriod")
	if err != nil {
		return nil, err
	}
	m.UsecPerLine = linePeriod * 1e6

	dateAttr := root.SelectAttrValue("date", "")
	m.ScanDatetime, err = time.Parse(scanDateLayout, dateAttr)
	if err != nil {
		return nil, fmt.Errorf("scan date %q: %w", dateAttr, ErrMalformedDescriptor)
	}

	// The last frame's relativeTime is the total scan duration.
	m.ScanDuration, err = attrFloat(frames[len(frames)-1], "relativeTime")
	if err != nil {
		return nil, fmt.Errorf("last frame: %w", err)
	}

	pixels, err := stateFloat(doc, "pixelsPerLine")
	if err != nil {
		return nil, err
	}
	// The instrument only acquires square frames.
	m.PixelHeight = int(pixels)
	m.PixelWidth = m.PixelHeight

	if m.UmPerPixel, err = indexedStateFloat(doc, "micronsPerPixel", "XAxis"); err != nil {
		return nil, err
	}
	m.HeightUm = float64(m.PixelHeight) * m.UmPerPixel
	m.WidthUm = m.HeightUm

	if m.FieldX, err = indexedStateFloat(doc, "currentScanCenter", "XAxis"); err != nil {
		return nil, err
	}
	if m.FieldY, err = indexedStateFloat(doc, "currentScanCenter", "YAxis"); err != nil {
		return nil, err
	}

	if err := extractDepths(doc, m); err != nil {
		return nil, err
	}

	// NumPages counts pages; dividing by the plane count yields time
	// steps. A fractional ratio means the descriptor does not describe a
	// complete acquisition.
	if m.NumPages%m.NumPlanes != 0 {
		return nil, fmt.Errorf("page count %d not divisible by plane count %d: %w",
			m.NumPages, m.NumPlanes, ErrMalformedDescriptor)
	}
	m.NumTimepoints = m.NumPages / m.NumPlanes
	if m.ScanDuration > 0 {
		m.FrameRate = float64(m.NumTimepoints) / m.ScanDuration
	}

	return m, nil
}

// zAxisPath is the location of Z-axis position values below a frame's
// state shard.
const zAxisPath = "PVStateShard/PVStateValue[@key='positionCurrent']/SubindexedValues[@index='ZAxis']"

// extractDepths fills the plane set and per-plane Z positions. With a
// single Z sub-value there is exactly one plane and no depth scanning.
// Otherwise one Z value per plane is read from the second acquisition
// cycle; when several Z-axis controllers are present, exactly one must
// vary across the plane sequence.
func extractDepths(doc *etree.Document, m *ScanMetadata) error {
	if doc.FindElement("//Sequence[@cycle='2']/Frame/"+zAxisPath) == nil {
		z, err := findFloat(doc,
			"//PVStateValue[@key='positionCurrent']/SubindexedValues[@index='ZAxis']/SubindexedValue")
		if err != nil {
			return err
		}
		m.NumPlanes = 1
		m.PlaneIndices = []int{0}
		m.ZPositions = []float64{z}
		m.BidirectionalZ = false
		return nil
	}

	firstSeq := doc.FindElement("//Sequence")
	m.BidirectionalZ = firstSeq != nil && firstSeq.SelectAttrValue("bidirectionalZ", "") == "True"

	// One frame per depth within the first cycle.
	planeSeen := map[int]bool{}
	for _, frame := range doc.FindElements("//Sequence[@cycle='1']/Frame") {
		idx, err := strconv.Atoi(frame.SelectAttrValue("index", ""))
		if err != nil {
			return fmt.Errorf("cycle 1 frame index attribute: %w", ErrMalformedDescriptor)
		}
		if !planeSeen[idx] {
			planeSeen[idx] = true
			m.PlaneIndices = append(m.PlaneIndices, idx)
		}
	}
	sort.Ints(m.PlaneIndices)
	m.NumPlanes = len(m.PlaneIndices)
	if m.NumPlanes == 0 {
		return fmt.Errorf("no frames in cycle 1: %w", ErrMalformedDescriptor)
	}

	controllers := doc.FindElements("//Sequence[@cycle='2']/Frame[@index='1']/" + zAxisPath + "/SubindexedValue")
	if len(controllers) > 1 {
		z, err := selectVaryingController(doc, controllers)
		if err != nil {
			return err
		}
		m.ZPositions = z
	} else {
		var z []float64
		for _, el := range doc.FindElements("//Sequence[@cycle='2']/Frame/" + zAxisPath + "/SubindexedValue[@subindex='0']") {
			v, err := attrFloat(el, "value")
			if err != nil {
				return err
			}
			z = append(z, v)
		}
		m.ZPositions = z
	}

	if len(m.ZPositions) != m.NumPlanes {
		return fmt.Errorf("%d z positions for %d planes: %w",
			len(m.ZPositions), m.NumPlanes, ErrMalformedDescriptor)
	}
	return nil
}

// selectVaryingController picks the single Z-axis controller whose values
// change across the plane sequence and returns its per-plane positions.
// Zero or more than one varying controller is an ambiguous hardware
// configuration and rejects the descriptor.
func selectVaryingController(doc *etree.Document, controllers []*etree.Element) ([]float64, error) {
	var varying [][]float64
	for _, controller := range controllers {
		sub := controller.SelectAttrValue("subindex", "")
		var vals []float64
		for _, el := range doc.FindElements("//Sequence[@cycle='2']/Frame/" + zAxisPath +
			"/SubindexedValue[@subindex='" + sub + "']") {
			v, err := attrFloat(el, "value")
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		if len(vals) > 1 && stat.Variance(vals, nil) > 0 {
			varying = append(varying, vals)
		}
	}
	if len(varying) != 1 {
		return nil, fmt.Errorf("%d of %d z-axis controllers vary across planes, want exactly 1: %w",
			len(varying), len(controllers), ErrMalformedDescriptor)
	}
	return varying[0], nil
}

// stateFloat reads the value attribute of the PVStateValue with the given
// key.
func stateFloat(doc *etree.Document, key string) (float64, error) {
	v, err := findFloat(doc, "//PVStateValue[@key='"+key+"']")
	if err != nil {
		return 0, fmt.Errorf("state value %s: %w", key, err)
	}
	return v, nil
}

// indexedStateFloat reads the value attribute of an IndexedValue below the
// PVStateValue with the given key.
func indexedStateFloat(doc *etree.Document, key, index string) (float64, error) {
	v, err := findFloat(doc, "//PVStateValue[@key='"+key+"']/IndexedValue[@index='"+index+"']")
	if err != nil {
		return 0, fmt.Errorf("state value %s[%s]: %w", key, index, err)
	}
	return v, nil
}

// findFloat locates the first element matching path and parses its value
// attribute.
func findFloat(doc *etree.Document, path string) (float64, error) {
	el := doc.FindElement(path)
	if el == nil {
		return 0, ErrMalformedDescriptor
	}
	return attrFloat(el, "value")
}

// attrFloat parses a float attribute of an element.
func attrFloat(el *etree.Element, attr string) (float64, error) {
	raw := el.SelectAttrValue(attr, "")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %s=%q: %w", attr, raw, ErrMalformedDescriptor)
	}
	return v, nil
}
