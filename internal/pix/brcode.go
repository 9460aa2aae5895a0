package pix

import (
	"fmt"
	"strings"
)

const (
	TAG_PAYLOAD_FORMAT  = "00"
	TAG_MERCHANT_INFO   = "26"
	TAG_CATEGORY_CODE   = "52"
	TAG_CURRENCY        = "53"
	TAG_AMOUNT          = "54"
	TAG_COUNTRY_CODE    = "58"
	TAG_MERCHANT_NAME   = "59"
	TAG_MERCHANT_CITY   = "60"
	TAG_ADDITIONAL_DATA = "62"
	TAG_CRC             = "63"

	SUB_GUI = "00"
	SUB_KEY = "01"
	SUB_TXID = "05"

	PIX_GUI            = "br.gov.bcb.pix"
	PAYLOAD_FORMAT_V1  = "01"
	CATEGORY_UNLISTED  = "0000"
	CURRENCY_BRL       = "986"
	COUNTRY_BR         = "BR"

	// TXID_NONE is the "no specific transaction" placeholder. Scanner apps
	// never report a code carrying it as expired.
	TXID_NONE = "***"

	MAX_NAME_LEN  = 25
	MAX_CITY_LEN  = 15
	MAX_TXID_LEN  = 25
	MAX_VALUE_LEN = 99
)

// Payload holds the fields of a static Pix BR Code. AmountCents is in integer
// minor units; callers must never pass floating point money through here.
type Payload struct {
	Key          Key    `json:"key"`
	AmountCents  int64  `json:"amount_cents"`
	MerchantName string `json:"merchant_name"`
	MerchantCity string `json:"merchant_city"`
	TxID         string `json:"txid,omitempty"`
}

// EncodeBRCode renders payload as an EMV BR Code string. Field order, the
// two-digit zero-padded length prefixes, and the trailing CRC-16/CCITT are
// fixed wire contracts shared with every compatible scanner; the output is
// byte-deterministic for a given payload.
func EncodeBRCode(p Payload) (string, error) {
	if p.Key.Normalized == "" {
		return "", &ValidationError{Field: "key", Reason: "key is empty or was not validated"}
	}
	if p.AmountCents < 0 {
		return "", &ValidationError{Field: "amount", Reason: "amount must not be negative"}
	}

	name := foldASCIIUpper(p.MerchantName, MAX_NAME_LEN)
	city := foldASCIIUpper(p.MerchantCity, MAX_CITY_LEN)
	if name == "" {
		return "", &ValidationError{Field: "merchant_name", Reason: "empty after ASCII folding"}
	}
	if city == "" {
		return "", &ValidationError{Field: "merchant_city", Reason: "empty after ASCII folding"}
	}

	txid := strings.TrimSpace(p.TxID)
	if txid == "" {
		txid = TXID_NONE
	}
	if txid != TXID_NONE {
		if len(txid) > MAX_TXID_LEN {
			return "", &ValidationError{Field: "txid", Reason: fmt.Sprintf("longer than %d characters", MAX_TXID_LEN)}
		}
		for i := 0; i < len(txid); i++ {
			c := txid[i]
			if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
				return "", &ValidationError{Field: "txid", Reason: "only letters and digits are allowed"}
			}
		}
	}

	merchantInfo, err := emv(SUB_GUI, PIX_GUI)
	if err != nil {
		return "", err
	}
	keyField, err := emv(SUB_KEY, p.Key.Normalized)
	if err != nil {
		return "", err
	}
	merchantInfo += keyField

	additional, err := emv(SUB_TXID, txid)
	if err != nil {
		return "", err
	}

	amount := fmt.Sprintf("%d.%02d", p.AmountCents/100, p.AmountCents%100)

	var b strings.Builder
	for _, f := range []struct{ tag, value string }{
		{TAG_PAYLOAD_FORMAT, PAYLOAD_FORMAT_V1},
		{TAG_MERCHANT_INFO, merchantInfo},
		{TAG_CATEGORY_CODE, CATEGORY_UNLISTED},
		{TAG_CURRENCY, CURRENCY_BRL},
		{TAG_AMOUNT, amount},
		{TAG_COUNTRY_CODE, COUNTRY_BR},
		{TAG_MERCHANT_NAME, name},
		{TAG_MERCHANT_CITY, city},
		{TAG_ADDITIONAL_DATA, additional},
	} {
		field, err := emv(f.tag, f.value)
		if err != nil {
			return "", err
		}
		b.WriteString(field)
	}

	// The CRC is computed over the whole code including its own tag and
	// length placeholder, then appended as 4 uppercase hex digits.
	b.WriteString(TAG_CRC)
	b.WriteString("04")
	code := b.String()
	return code + fmt.Sprintf("%04X", CRC16CCITT([]byte(code))), nil
}

// emv renders one tag-length-value element with a two-digit length.
func emv(tag, value string) (string, error) {
	if len(value) > MAX_VALUE_LEN {
		return "", &ValidationError{Field: "field " + tag, Reason: fmt.Sprintf("value longer than %d characters", MAX_VALUE_LEN)}
	}
	return fmt.Sprintf("%s%02d%s", tag, len(value), value), nil
}

// CRC16CCITT computes the CRC-16/CCITT-FALSE checksum: polynomial 0x1021,
// initial value 0xFFFF, no input or output reflection.
func CRC16CCITT(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

var accentFold = map[rune]rune{
	'á': 'a', 'à': 'a', 'â': 'a', 'ã': 'a', 'ä': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
	'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i',
	'ó': 'o', 'ò': 'o', 'ô': 'o', 'õ': 'o', 'ö': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u',
	'ç': 'c', 'ñ': 'n', 'ý': 'y',
	'Á': 'A', 'À': 'A', 'Â': 'A', 'Ã': 'A', 'Ä': 'A',
	'É': 'E', 'È': 'E', 'Ê': 'E', 'Ë': 'E',
	'Í': 'I', 'Ì': 'I', 'Î': 'I', 'Ï': 'I',
	'Ó': 'O', 'Ò': 'O', 'Ô': 'O', 'Õ': 'O', 'Ö': 'O',
	'Ú': 'U', 'Ù': 'U', 'Û': 'U', 'Ü': 'U',
	'Ç': 'C', 'Ñ': 'N', 'Ý': 'Y',
}

// foldASCIIUpper transliterates accented Latin letters, drops everything else
// outside printable ASCII, upper-cases, trims, and truncates to max.
func foldASCIIUpper(s string, max int) string {
	var b strings.Builder
	for _, r := range s {
		if f, ok := accentFold[r]; ok {
			r = f
		}
		if r < 0x20 || r > 0x7E {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(strings.ToUpper(b.String()))
	if len(out) > max {
		out = strings.TrimSpace(out[:max])
	}
	return out
}
