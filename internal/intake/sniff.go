package intake

import "bytes"

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	gif87a    = []byte("GIF87a")
	gif89a    = []byte("GIF89a")
	riffMagic = []byte("RIFF")
	webpMagic = []byte("WEBP")
)

// SniffImage inspects the leading bytes of data and reports the detected
// image format. File names and declared content types are ignored; only the
// content signature counts.
func SniffImage(data []byte) (string, bool) {
	switch {
	case bytes.HasPrefix(data, pngMagic):
		return "image/png", true
	case bytes.HasPrefix(data, jpegMagic):
		return "image/jpeg", true
	case bytes.HasPrefix(data, gif87a), bytes.HasPrefix(data, gif89a):
		return "image/gif", true
	case len(data) >= 12 && bytes.HasPrefix(data, riffMagic) && bytes.Equal(data[8:12], webpMagic):
		return "image/webp", true
	}
	return "", false
}
