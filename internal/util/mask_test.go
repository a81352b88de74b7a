package util

import "testing"

func TestMaskEmail(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"ana@example.com":  "a…@e….com",
		"A@b.co":           "a@b.co",
		"":                 "",
		"no-arroba":        "n…a",
		"ab":               "***",
		"Leo@Sub.Dom.Org":  "l…@s….dom.org",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Errorf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
