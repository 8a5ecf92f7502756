package normalize

import "testing"

func TestEmail(t *testing.T) {
	in := "  John.DOE@Example.COM  "
	want := "john.doe@example.com"
	got := Email(in)
	if got != want {
		t.Fatalf("Normalize.Email(%q) = %q, want %q", in, got, want)
	}
}

func TestName(t *testing.T) {
	in := "  Ada \t  Lovelace \n"
	want := "Ada Lovelace"
	if got := Name(in); got != want {
		t.Fatalf("Normalize.Name(%q) = %q, want %q", in, got, want)
	}
}

func TestText(t *testing.T) {
	cases := map[string]string{
		"  hi  ":          "hi",
		"\n\t":            "",
		"line1\nline2 \n": "line1\nline2",
	}
	for in, want := range cases {
		if got := Text(in); got != want {
			t.Errorf("Normalize.Text(%q) = %q, want %q", in, got, want)
		}
	}
}
