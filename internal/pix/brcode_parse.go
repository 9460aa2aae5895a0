package pix

import (
	"fmt"
	"strconv"
)

// Element is one decoded tag-length-value field of a BR Code.
type Element struct {
	Tag   string `json:"tag"`
	Value string `json:"value"`
}

// ParseBRCode splits code into its top-level elements and verifies the
// trailing CRC. It exists for scanners on our side of the fence: the decode
// endpoint and the round-trip tests.
func ParseBRCode(code string) ([]Element, error) {
	if len(code) < 8 {
		return nil, fmt.Errorf("brcode: too short")
	}

	embedded := code[len(code)-4:]
	want := fmt.Sprintf("%04X", CRC16CCITT([]byte(code[:len(code)-4])))
	if embedded != want {
		return nil, fmt.Errorf("brcode: checksum mismatch: have %s, want %s", embedded, want)
	}

	var elems []Element
	for i := 0; i < len(code); {
		if i+4 > len(code) {
			return nil, fmt.Errorf("brcode: truncated element at offset %d", i)
		}
		tag := code[i : i+2]
		length, err := strconv.Atoi(code[i+2 : i+4])
		if err != nil || length < 0 {
			return nil, fmt.Errorf("brcode: bad length for tag %s", tag)
		}
		if i+4+length > len(code) {
			return nil, fmt.Errorf("brcode: tag %s overruns payload", tag)
		}
		elems = append(elems, Element{Tag: tag, Value: code[i+4 : i+4+length]})
		i += 4 + length
	}
	return elems, nil
}

// FindElement returns the value of the first element with tag, if present.
func FindElement(elems []Element, tag string) (string, bool) {
	for _, e := range elems {
		if e.Tag == tag {
			return e.Value, true
		}
	}
	return "", false
}
