package intake

import "testing"

func TestSniffImage(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
		ok   bool
	}{
		{"png", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n', 0x00}, "image/png", true},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}, "image/jpeg", true},
		{"gif89a", []byte("GIF89a......"), "image/gif", true},
		{"gif87a", []byte("GIF87a......"), "image/gif", true},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp", true},
		{"riff but not webp", []byte("RIFF\x00\x00\x00\x00WAVEfmt "), "", false},
		{"text", []byte("hello there"), "", false},
		{"empty", nil, "", false},
		{"truncated png", []byte{0x89, 'P', 'N'}, "", false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := SniffImage(c.data)
			if ok != c.ok || got != c.want {
				t.Errorf("SniffImage() = (%q, %v), want (%q, %v)", got, ok, c.want, c.ok)
			}
		})
	}
}
