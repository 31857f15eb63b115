package telegram

import (
	"encoding/base64"
	"strconv"
	"strings"
)

const (
	pathThumbLookup  = "AACAAAAHAAALMAAAQASTAVAAAZaacaaaahaaalmaaaqastava.az0123456789-,"
	pathThumbViewBox = 512
)

// decodePathThumb expands a compressed vector thumbnail into SVG path data.
func decodePathThumb(encoded []byte) string {
	var path strings.Builder
	path.Grow(len(encoded)*2 + 2)
	path.WriteByte('M')
	for _, b := range encoded {
		if b >= 128+64 {
			path.WriteByte(pathThumbLookup[b-128-64])
			continue
		}
		if b >= 128 {
			path.WriteByte(',')
		} else if b >= 64 {
			path.WriteByte('-')
		}
		path.WriteString(strconv.Itoa(int(b & 63)))
	}
	path.WriteByte('z')

	return path.String()
}

// pathThumbDataURI wraps a vector thumbnail into an SVG data URI.
func pathThumbDataURI(encoded []byte) string {
	if len(encoded) == 0 {
		return ""
	}
	svg := `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 ` +
		strconv.Itoa(pathThumbViewBox) + ` ` + strconv.Itoa(pathThumbViewBox) +
		`"><path d="` + decodePathThumb(encoded) + `"/></svg>`

	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg))
}
