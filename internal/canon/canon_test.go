package canon

import "testing"

func TestQuoteDoesNotEscapeHTML(t *testing.T) {
	got := Quote(`<a href="x">&</a>`)
	want := `"<a href=\"x\">&</a>"`
	if got != want {
		t.Fatalf("Quote = %s, want %s", got, want)
	}
}

func TestEncodeTrimsNewline(t *testing.T) {
	out, err := Encode(map[string]int{"b": 2, "a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"a":1,"b":2}` {
		t.Fatalf("Encode = %s", out)
	}
}

func TestCompact(t *testing.T) {
	out, err := Compact([]byte("{ \"a\" : [ 1, 2 ],\n \"b\": \"<x>\" }"))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"a":[1,2],"b":"<x>"}` {
		t.Fatalf("Compact = %s", out)
	}
	if _, err := Compact([]byte("{")); err == nil {
		t.Fatal("expected error for invalid json")
	}
}
