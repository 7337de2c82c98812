package vector

import "testing"

func TestStringRoundtrip(t *testing.T) {
	v := New()
	v.Set(1, 3)
	v.Set(5, 7)

	got := v.String()
	want := "1:3;5:7"
	if got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}

	parsed, err := Parse(got)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !parsed.Equal(v) {
		t.Fatalf("Parse(String(v)) != v: %q vs %q", parsed, v)
	}
}

func TestStringDiff(t *testing.T) {
	origin, _ := Parse("1:3;5:4;9:2")
	target, _ := Parse("1:3;5:7;9:2")

	diff := target.StringDiff(origin)
	if diff != "5:3" {
		t.Fatalf("StringDiff = %q, want %q", diff, "5:3")
	}

	back, err := ParseDiff(diff, origin)
	if err != nil {
		t.Fatalf("ParseDiff: %v", err)
	}
	if !back.Equal(target) {
		t.Fatalf("ParseDiff(StringDiff(v,o),o) != v: %q vs %q", back, target)
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []string{"1-3", "a:3", "1:b", "5:1;1:2"}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("Parse(%q) succeeded, want ErrInvalidFormat", c)
		}
	}
}

func TestCausallyBefore(t *testing.T) {
	a, _ := Parse("1:1;2:0")
	b, _ := Parse("1:1;2:1")
	if !a.CausallyBefore(b) {
		t.Fatalf("expected a ⊑ b")
	}
	if b.CausallyBefore(a) && !b.Equal(a) {
		t.Fatalf("expected b not ⊑ a")
	}
}

func TestCausallyBeforeIncluding(t *testing.T) {
	v, _ := Parse("1:0;2:0")
	current, _ := Parse("1:1;2:0")
	if !v.CausallyBeforeIncluding(current, 1) {
		t.Fatalf("v with user 1's component incremented (1:1) should be ⊑ current (1:1)")
	}

	ahead, _ := Parse("1:2;2:0")
	if ahead.CausallyBeforeIncluding(current, 1) {
		t.Fatalf("a request far ahead of the current vector must not be deliverable")
	}
}

func TestVDiff(t *testing.T) {
	a, _ := Parse("1:5;2:2")
	b, _ := Parse("1:3;2:4")
	if d := a.VDiff(b); d != 4 {
		t.Fatalf("VDiff = %d, want 4", d)
	}
}

func TestMin(t *testing.T) {
	a, _ := Parse("1:5;2:2")
	b, _ := Parse("1:3;2:4;3:1")
	m := Min(a, b)
	if m.Get(1) != 3 || m.Get(2) != 2 || m.Get(3) != 0 {
		t.Fatalf("Min = %q, want 1:3;2:2", m)
	}
}

func TestCompareTotalOrder(t *testing.T) {
	a, _ := Parse("1:1;2:2")
	b, _ := Parse("1:1;2:3")
	if a.Compare(b) >= 0 {
		t.Fatalf("expected a < b")
	}
	if b.Compare(a) <= 0 {
		t.Fatalf("expected b > a")
	}
	if a.Compare(a) != 0 {
		t.Fatalf("expected a == a")
	}
}
