package assetcache

import "testing"

func TestBlank(t *testing.T) {
	cases := map[string]bool{
		"":                                     true,
		"   ":                                  true,
		"00000000-0000-0000-0000-000000000000": true,
		"  00000000-0000-0000-0000-000000000000  ": true,
		"a-real-id": false,
	}
	for id, want := range cases {
		if got := Blank(id); got != want {
			t.Errorf("Blank(%q) = %v, want %v", id, got, want)
		}
	}
}
