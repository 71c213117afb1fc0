package cache

import "testing"

func TestKeyDeterministic(t *testing.T) {
	params := map[string]string{
		"user":  "u-42",
		"topic": "acid-base",
		"page":  "2",
	}

	want := "content:page=2|topic=acid-base|user=u-42"
	for i := 0; i < 20; i++ {
		if got := Key("content", params); got != want {
			t.Fatalf("Expected %q, got %q", want, got)
		}
	}
}

func TestKeyWithoutParams(t *testing.T) {
	if got := Key("catalog", nil); got != "catalog" {
		t.Errorf("Expected bare namespace, got %q", got)
	}
	if got := Key("catalog", map[string]string{}); got != "catalog" {
		t.Errorf("Expected bare namespace for empty params, got %q", got)
	}
}

func TestKeyDistinguishesParams(t *testing.T) {
	a := Key("results", map[string]string{"user": "1", "quiz": "2"})
	b := Key("results", map[string]string{"user": "2", "quiz": "1"})
	if a == b {
		t.Errorf("Expected distinct keys, both were %q", a)
	}
}
