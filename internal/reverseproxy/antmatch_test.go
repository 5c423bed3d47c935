package reverseproxy

import "testing"

func TestAntMatch(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
		path    string
		want    bool
	}{
		{"exact", "/api/users", "/api/users", true},
		{"single-star-segment", "/api/*/detail", "/api/123/detail", true},
		{"single-star-no-cross-segment", "/api/*/detail", "/api/123/456/detail", false},
		{"double-star-tail", "/static/**", "/static/css/app.css", true},
		{"double-star-empty-tail", "/static/**", "/static", true},
		{"double-star-only", "/**", "/anything/at/all", true},
		{"prefix-suffix-star", "/files/*.png", "/files/logo.png", true},
		{"prefix-suffix-star-mismatch", "/files/*.png", "/files/logo.jpg", false},
		{"no-match-different-path", "/api/users", "/api/orders", false},
		{"root", "/", "/", true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := AntMatch(c.pattern, c.path)
			if got != c.want {
				t.Errorf("AntMatch(%q, %q) = %v, want %v", c.pattern, c.path, got, c.want)
			}
		})
	}
}
