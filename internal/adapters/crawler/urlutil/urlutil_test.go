package urlutil

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://www.nodeseek.com/post-1-1", "https://www.nodeseek.com/post-1-1"},
		{"https://www.nodeseek.com/post-1-1#comment-5", "https://www.nodeseek.com/post-1-1"},
		{"https://www.nodeseek.com/post-1-1?utm_source=rss&utm_medium=feed", "https://www.nodeseek.com/post-1-1"},
		{"https://www.nodeseek.com/post-1-1?page=2&utm_source=rss", "https://www.nodeseek.com/post-1-1?page=2"},
		{"  https://www.nodeseek.com/post-1-1  ", "https://www.nodeseek.com/post-1-1"},
	}
	for _, tc := range cases {
		if got := Canonicalize(tc.in); got != tc.want {
			t.Fatalf("Canonicalize(%q) = %q, ожидалось %q", tc.in, got, tc.want)
		}
	}
}

func TestCanonicalizeStable(t *testing.T) {
	a := Canonicalize("https://www.nodeseek.com/post-7-1?utm_campaign=x#top")
	b := Canonicalize("https://www.nodeseek.com/post-7-1")
	if a != b || Hash(a) != Hash(b) {
		t.Fatalf("варианты одного URL должны давать один отпечаток: %q и %q", a, b)
	}
}
