package urlkey

import "testing"

func TestCanonicalizeNormalizesEquivalentURLs(t *testing.T) {
	cases := []struct{ a, b string }{
		{"HTTP://Example.com:80/path/", "http://example.com/path"},
		{"https://example.com/path?b=2&a=1", "https://example.com/path?a=1&b=2"},
		{"https://example.com/page#section", "https://example.com/page"},
	}
	for _, c := range cases {
		ca, err := Canonicalize(c.a)
		if err != nil {
			t.Fatalf("canonicalize %q: %v", c.a, err)
		}
		cb, err := Canonicalize(c.b)
		if err != nil {
			t.Fatalf("canonicalize %q: %v", c.b, err)
		}
		if ca != cb {
			t.Errorf("expected %q and %q to canonicalize the same, got %q and %q", c.a, c.b, ca, cb)
		}
	}
}

func TestKeyIsStableAndDistinguishesDifferentURLs(t *testing.T) {
	k1, err := Key("https://example.com/a")
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	k2, err := Key("https://example.com/a")
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if k1 != k2 {
		t.Errorf("expected same URL to produce a stable key, got %q and %q", k1, k2)
	}

	k3, err := Key("https://example.com/b")
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if k1 == k3 {
		t.Errorf("expected distinct URLs to produce distinct keys")
	}
}

func TestCanonicalizeRejectsInvalidURL(t *testing.T) {
	if _, err := Canonicalize("://not-a-url"); err == nil {
		t.Error("expected an error for a malformed URL")
	}
}
