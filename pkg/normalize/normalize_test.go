package normalize

import "testing"

func TestNormalizeTable(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"tautology with trailing comment", "' OR 1=1 --", "' or 1=1"},
		{"lowercase fold", "SeLeCt * FROM users", "select * from users"},
		{"whitespace collapse", "select\t\t*\n\nfrom   users", "select * from users"},
		{"percent decoded", "%27%20OR%201%3D1", "' or 1=1"},
		{"double encoded", "%2527%2520OR%25201%253D1", "' or 1=1"},
		{"block comment", "select/**/1", "select 1"},
		{"inline block comment", "un/*x*/ion sel/*y*/ect", "un ion sel ect"},
		{"hash comment", "drop table users #cleanup", "drop table users"},
		{"null bytes", "sel\x00ect 1", "select 1"},
		{"encoded null", "sel%00ect 1", "select 1"},
		{"trim", "   hello world   ", "hello world"},
		{"fullwidth homoglyphs", "ＳＥＬＥＣＴ １", "select 1"},
		{"benign text", "select an option from the menu", "select an option from the menu"},
		{"empty", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize(tc.in)
			if got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"' OR 1=1 --",
		"%2527%2520OR%25201%253D1",
		"UNION/**/SELECT password FROM users",
		"normal sentence with no tricks",
		"ＳＥＬＥＣＴ ％２７",
		"100% legitimate discount",
		"%",
		"%2",
		"%zz not an escape",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	in := "%27 OR /*c*/ 1=1 -- trailing"
	first := Normalize(in)
	for i := 0; i < 50; i++ {
		if got := Normalize(in); got != first {
			t.Fatalf("nondeterministic result on iteration %d: %q vs %q", i, got, first)
		}
	}
}

func TestDecodeBounded(t *testing.T) {
	// Build a payload nested deeper than the iteration cap; Normalize must
	// terminate and return a stable (if still partially encoded) result.
	payload := "'"
	for i := 0; i < maxDecodeIterations+5; i++ {
		payload = encodePercent(payload)
	}
	got := Normalize(payload)
	if got == "" {
		t.Fatal("expected non-empty result")
	}
}

// encodePercent percent-encodes every byte, forcing one decode round per layer.
func encodePercent(s string) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, len(s)*3)
	for i := 0; i < len(s); i++ {
		out = append(out, '%', hexdigits[s[i]>>4], hexdigits[s[i]&0xf])
	}
	return string(out)
}
