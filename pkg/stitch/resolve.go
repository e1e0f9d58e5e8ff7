package stitch

import (
	"strconv"

	"github.com/beevik/etree"

	"prairiestack/pkg/metadata"
)

// Resolve returns the source file names holding data for the given plane
// and channel, deduplicated and in first-seen descriptor order, along with
// the normalized plane and channel. Either selection may be Unset when only
// one candidate exists.
func Resolve(doc *etree.Document, meta *metadata.ScanMetadata, plane, channel int) ([]string, int, int, error) {
	plane, channel, err := normalizeSelection(meta, plane, channel)
	if err != nil {
		return nil, 0, 0, err
	}

	// Single-plane descriptors carry no index attribute on their frame
	// records; the channel attribute is present regardless.
	planeSearch := ""
	if meta.NumPlanes > 1 {
		planeSearch = "[@index='" + strconv.Itoa(plane) + "']"
	}
	path := "//Sequence/Frame" + planeSearch + "/File[@channel='" + strconv.Itoa(channel) + "']"

	var names []string
	seen := map[string]bool{}
	for _, f := range doc.FindElements(path) {
		name := f.SelectAttrValue("filename", "")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, plane, channel, nil
}
