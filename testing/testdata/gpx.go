package testdata

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"time"
)

// Point is a fixture point. Nil Ele or Time are omitted from the document.
type Point struct {
	Lat  float64
	Lon  float64
	Ele  *float64
	Time *time.Time
}

func Ptr[T any](v T) *T {
	return &v
}

// GPX renders pts as a single track, single segment GPX 1.1 document.
func GPX(name string, pts []Point) []byte {
	return GPXSegments(name, pts)
}

// GPXSegments renders each slice as one segment of a single track.
func GPXSegments(name string, segments ...[]Point) []byte {
	var b bytes.Buffer
	writeHeader(&b)
	fmt.Fprintf(&b, "<trk><name>%s</name>\n", name)
	for _, seg := range segments {
		b.WriteString("<trkseg>\n")
		for _, p := range seg {
			writePoint(&b, "trkpt", p)
		}
		b.WriteString("</trkseg>\n")
	}
	b.WriteString("</trk>\n</gpx>\n")
	return b.Bytes()
}

// GPXRoute renders pts as a route, with no track.
func GPXRoute(name string, pts []Point) []byte {
	var b bytes.Buffer
	writeHeader(&b)
	fmt.Fprintf(&b, "<rte><name>%s</name>\n", name)
	for _, p := range pts {
		writePoint(&b, "rtept", p)
	}
	b.WriteString("</rte>\n</gpx>\n")
	return b.Bytes()
}

// Pad grows doc to exactly size bytes with an XML comment placed before
// the closing </gpx> tag. Documents already too large to pad are returned as is.
func Pad(doc []byte, size int) []byte {
	const open, close = "<!--", "-->\n"
	closing := []byte("</gpx>")
	at := bytes.LastIndex(doc, closing)
	fill := size - len(doc) - len(open) - len(close)
	if at < 0 || fill < 0 {
		return doc
	}
	out := make([]byte, 0, size)
	out = append(out, doc[:at]...)
	out = append(out, open...)
	out = append(out, bytes.Repeat([]byte{'x'}, fill)...)
	out = append(out, close...)
	out = append(out, doc[at:]...)
	return out
}

func writeHeader(b *bytes.Buffer) {
	b.WriteString(xml.Header)
	b.WriteString(`<gpx version="1.1" creator="trackd-testdata" xmlns="http://www.topografix.com/GPX/1/1">` + "\n")
}

func writePoint(b *bytes.Buffer, tag string, p Point) {
	fmt.Fprintf(b, `<%s lat="%.8f" lon="%.8f">`, tag, p.Lat, p.Lon)
	if p.Ele != nil {
		fmt.Fprintf(b, "<ele>%.2f</ele>", *p.Ele)
	}
	if p.Time != nil {
		fmt.Fprintf(b, "<time>%s</time>", p.Time.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(b, "</%s>\n", tag)
}
