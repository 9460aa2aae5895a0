package pix

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
)

func mustKey(t *testing.T, keyType KeyType, raw string) Key {
	t.Helper()
	key, err := Validate(keyType, raw)
	if err != nil {
		t.Fatalf("Validate(%v, %q) error = %v", keyType, raw, err)
	}
	return key
}

func TestEncodeBRCode_AmountLiteral(t *testing.T) {
	code, err := EncodeBRCode(Payload{
		Key:          mustKey(t, KeyRandom, "abc12345"),
		AmountCents:  12345,
		MerchantName: "LOJA TESTE",
		MerchantCity: "BRASILIA",
	})
	if err != nil {
		t.Fatalf("EncodeBRCode() error = %v", err)
	}

	if !strings.Contains(code, "5406123.45") {
		t.Errorf("code %q does not carry amount field 5406123.45", code)
	}

	tail := code[len(code)-4:]
	for i := 0; i < 4; i++ {
		c := tail[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F') {
			t.Errorf("checksum %q is not uppercase hex", tail)
			break
		}
	}
}

func TestEncodeBRCode_Layout(t *testing.T) {
	code, err := EncodeBRCode(Payload{
		Key:          mustKey(t, KeyEmail, "Pagamentos@Example.com"),
		AmountCents:  1000,
		MerchantName: "João açaí",
		MerchantCity: "São Paulo",
		TxID:         "DEP42",
	})
	if err != nil {
		t.Fatalf("EncodeBRCode() error = %v", err)
	}

	elems, err := ParseBRCode(code)
	if err != nil {
		t.Fatalf("ParseBRCode() error = %v", err)
	}

	checks := []struct {
		tag  string
		want string
	}{
		{TAG_PAYLOAD_FORMAT, "01"},
		{TAG_CATEGORY_CODE, "0000"},
		{TAG_CURRENCY, "986"},
		{TAG_AMOUNT, "10.00"},
		{TAG_COUNTRY_CODE, "BR"},
		{TAG_MERCHANT_NAME, "JOAO ACAI"},
		{TAG_MERCHANT_CITY, "SAO PAULO"},
		{TAG_ADDITIONAL_DATA, "0505DEP42"},
	}
	for _, c := range checks {
		got, ok := FindElement(elems, c.tag)
		if !ok {
			t.Errorf("tag %s missing", c.tag)
			continue
		}
		if got != c.want {
			t.Errorf("tag %s = %q, want %q", c.tag, got, c.want)
		}
	}

	info, ok := FindElement(elems, TAG_MERCHANT_INFO)
	if !ok {
		t.Fatal("merchant info element missing")
	}
	if want := "0014br.gov.bcb.pix0122pagamentos@example.com"; info != want {
		t.Errorf("merchant info = %q, want %q", info, want)
	}
}

func TestEncodeBRCode_DefaultTxID(t *testing.T) {
	code, err := EncodeBRCode(Payload{
		Key:          mustKey(t, KeyCPF, "52998224725"),
		AmountCents:  0,
		MerchantName: "STREAMER",
		MerchantCity: "RIO",
	})
	if err != nil {
		t.Fatalf("EncodeBRCode() error = %v", err)
	}
	if !strings.Contains(code, "62070503***") {
		t.Errorf("code %q does not carry the *** txid placeholder", code)
	}
	if !strings.Contains(code, "54040.00") {
		t.Errorf("code %q does not carry zero amount as 0.00", code)
	}
}

func TestEncodeBRCode_Deterministic(t *testing.T) {
	p := Payload{
		Key:          mustKey(t, KeyPhone, "(21) 97777-1234"),
		AmountCents:  555,
		MerchantName: "canal do zeca",
		MerchantCity: "niterói",
		TxID:         "abc123",
	}
	first, err := EncodeBRCode(p)
	if err != nil {
		t.Fatalf("EncodeBRCode() error = %v", err)
	}
	second, err := EncodeBRCode(p)
	if err != nil {
		t.Fatalf("EncodeBRCode() error = %v", err)
	}
	if first != second {
		t.Errorf("encoding is not deterministic:\n%s\n%s", first, second)
	}
}

func TestEncodeBRCode_Rejections(t *testing.T) {
	key := mustKey(t, KeyRandom, "abc12345")

	cases := []struct {
		name string
		p    Payload
	}{
		{"unvalidated key", Payload{AmountCents: 1, MerchantName: "A", MerchantCity: "B"}},
		{"negative amount", Payload{Key: key, AmountCents: -1, MerchantName: "A", MerchantCity: "B"}},
		{"empty name", Payload{Key: key, AmountCents: 1, MerchantName: "🎮🎮", MerchantCity: "B"}},
		{"empty city", Payload{Key: key, AmountCents: 1, MerchantName: "A", MerchantCity: "   "}},
		{"txid with symbols", Payload{Key: key, AmountCents: 1, MerchantName: "A", MerchantCity: "B", TxID: "tx-42"}},
		{"txid too long", Payload{Key: key, AmountCents: 1, MerchantName: "A", MerchantCity: "B", TxID: strings.Repeat("a", 26)}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := EncodeBRCode(c.p); err == nil {
				t.Error("EncodeBRCode() accepted an invalid payload")
			}
		})
	}
}

func TestCRC16CCITT_KnownVector(t *testing.T) {
	// The canonical CRC-16/CCITT-FALSE check value.
	if got := CRC16CCITT([]byte("123456789")); got != 0x29B1 {
		t.Errorf("CRC16CCITT(123456789) = %04X, want 29B1", got)
	}
	if got := CRC16CCITT(nil); got != 0xFFFF {
		t.Errorf("CRC16CCITT(empty) = %04X, want FFFF", got)
	}
}

func TestParseBRCode_MalformedInput(t *testing.T) {
	// Append the checksum the parser will accept, so the element walk itself
	// is what gets exercised.
	seal := func(body string) string {
		return body + fmt.Sprintf("%04X", CRC16CCITT([]byte(body)))
	}

	tests := []struct {
		name string
		code string
	}{
		{"negative length", seal("00-1XXXX")},
		{"non-numeric length", seal("00zzXXXX")},
		{"overrunning length", seal("0099XXXX")},
		{"truncated element", seal("0002")},
		{"too short", "630400"},
		{"checksum mismatch", "000201630400AA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseBRCode(tt.code); err == nil {
				t.Errorf("ParseBRCode(%q) error = nil, want error", tt.code)
			}
		})
	}
}

func TestEncodeBRCode_ChecksumRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	names := []string{"LOJA TESTE", "canal do zé", "Açougue São João", "x"}
	cities := []string{"BRASILIA", "são paulo", "Niterói", "RIO"}

	for i := 0; i < 200; i++ {
		var key Key
		switch i % 4 {
		case 0:
			key = mustKey(t, KeyCPF, "52998224725")
		case 1:
			key = mustKey(t, KeyEmail, fmt.Sprintf("user%d@example.com", rng.Intn(1000)))
		case 2:
			key = mustKey(t, KeyPhone, fmt.Sprintf("119%08d", rng.Intn(100000000)))
		case 3:
			key = mustKey(t, KeyRandom, fmt.Sprintf("tok%08d", rng.Intn(100000000)))
		}

		p := Payload{
			Key:          key,
			AmountCents:  rng.Int63n(10_000_000),
			MerchantName: names[rng.Intn(len(names))],
			MerchantCity: cities[rng.Intn(len(cities))],
		}
		code, err := EncodeBRCode(p)
		if err != nil {
			t.Fatalf("EncodeBRCode(%+v) error = %v", p, err)
		}

		want := fmt.Sprintf("%04X", CRC16CCITT([]byte(code[:len(code)-4])))
		if code[len(code)-4:] != want {
			t.Fatalf("embedded checksum %s does not match recomputed %s for %q", code[len(code)-4:], want, code)
		}
		if _, err := ParseBRCode(code); err != nil {
			t.Fatalf("ParseBRCode() error = %v for %q", err, code)
		}
	}
}
