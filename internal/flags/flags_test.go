package flags

import (
	"errors"
	"reflect"
	"testing"
)

func TestCreateFlag(t *testing.T) {
	cases := []struct {
		name     string
		template string
		value    any
		want     []string
	}{
		{"placeholder", "-D%s", "X", []string{"-DX"}},
		{"bool true", "-shared", true, []string{"-shared"}},
		{"bool false", "-shared", false, nil},
		{"empty template", "", "foo.c", []string{"foo.c"}},
		{"nil value", "-I%s", nil, nil},
		{"empty string", "-I%s", "", nil},
		{"list", "-I%s", []string{"a", "b"}, []string{"-Ia", "-Ib"}},
		{"empty list", "-I%s", []string{}, nil},
		{"literal prefix", "-o", "out.o", []string{"-o", "out.o"}},
		{"int", "-O%s", 2, []string{"-O2"}},
		{"mixed any list", "-l%s", []any{"m", 3}, []string{"-lm", "-l3"}},
		{"int list", "-D%s", []int{1, 2}, []string{"-D1", "-D2"}},
		{"int64 list", "-O%s", []int64{3}, []string{"-O3"}},
		{"nested list", "-I%s", []any{[]string{"a"}, []int{1}}, []string{"-Ia", "-I1"}},
		{"array", "-W%s", [2]string{"all", "extra"}, []string{"-Wall", "-Wextra"}},
		{"nil int list", "-D%s", []int(nil), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CreateFlag(tc.template, tc.value)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("CreateFlag(%q, %v) = %#v, want %#v", tc.template, tc.value, got, tc.want)
			}
		})
	}
}

func TestAppendFlagsPositions(t *testing.T) {
	base := []string{"a", "b", "c"}
	cases := []struct {
		name string
		opts []Option
		want []string
	}{
		{"default append", nil, []string{"a", "b", "c", "-DX"}},
		{"prepend", []Option{At(0)}, []string{"-DX", "a", "b", "c"}},
		{"minus one appends", []Option{At(-1)}, []string{"a", "b", "c", "-DX"}},
		{"minus two before last", []Option{At(-2)}, []string{"a", "b", "-DX", "c"}},
		{"middle", []Option{At(1)}, []string{"a", "-DX", "b", "c"}},
		{"clamped", []Option{At(10)}, []string{"a", "b", "c", "-DX"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := AppendFlags(base, "-D%s", "X", tc.opts...)
			if err != nil {
				t.Fatalf("AppendFlags: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %#v want %#v", got, tc.want)
			}
		})
	}
	if !reflect.DeepEqual(base, []string{"a", "b", "c"}) {
		t.Fatalf("input slice mutated: %#v", base)
	}
}

func TestAppendFlagsNoDuplicates(t *testing.T) {
	list := []string{"-O2", "-o", "out"}
	_, err := AppendFlags(list, "-O%s", 3, NoDuplicates())
	var dup *DuplicateFlagError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateFlagError, got %v", err)
	}
	if dup.Existing != "-O2" {
		t.Fatalf("unexpected existing flag %q", dup.Existing)
	}

	if _, err := AppendFlags(list, "-o", "other", NoDuplicates()); err == nil {
		t.Fatalf("literal template should detect existing -o")
	}
	got, err := AppendFlags(list, "-g", true, NoDuplicates())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[len(got)-1] != "-g" {
		t.Fatalf("expected -g appended, got %#v", got)
	}
}

func TestPatternEscapesMeta(t *testing.T) {
	re := Pattern("/I%s")
	if !re.MatchString("/Iinclude") || re.MatchString("/I") {
		t.Fatalf("pattern mismatch for /I%%s")
	}
	if !Has([]string{"-Wl,-rpath,/x"}, "-Wl,-rpath,%s") {
		t.Fatalf("Has should match rpath flag")
	}
}

func FuzzAppendFlags(f *testing.F) {
	f.Add("-I%s", "dir", 0)
	f.Add("", "x", -1)
	f.Add("-o", "out", 5)
	f.Fuzz(func(t *testing.T, template, value string, pos int) {
		list := []string{"a", "b"}
		got, err := AppendFlags(list, template, value, At(pos))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != len(list)+len(CreateFlag(template, value)) {
			t.Fatalf("length mismatch: %#v", got)
		}
	})
}
