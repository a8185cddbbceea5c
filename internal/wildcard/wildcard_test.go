package wildcard

import "testing"

func TestIsMatch(t *testing.T) {
	cases := []struct {
		name, pattern string
		want          bool
	}{
		{"a.example.com", "*.example.com", true},
		{"a.b.example.com", "*.example.com", false},
		{"example.com", "*.example.com", false},
		{"A.EXAMPLE.COM", "*.example.com", true},
		{"example.com", "example.com", true},
		{"example.com", "Example.Com", true},
		{"x.example.com", "x.example.com", true},
		{"", "*.example.com", false},
	}
	for _, c := range cases {
		if got := IsMatch(c.name, c.pattern); got != c.want {
			t.Errorf("IsMatch(%q, %q) = %v, want %v", c.name, c.pattern, got, c.want)
		}
	}
}

func TestHasMatch(t *testing.T) {
	patterns := []string{"*.example.com", "other.net"}
	if !HasMatch("a.example.com", patterns) {
		t.Fatal("expected match")
	}
	if !HasMatch("other.net", patterns) {
		t.Fatal("expected match")
	}
	if HasMatch("evil.com", patterns) {
		t.Fatal("expected no match")
	}
}
