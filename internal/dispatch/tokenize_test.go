package dispatch

import (
	"errors"
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "spaces only", in: "   ", want: nil},
		{name: "plain", in: "kick bob spam", want: []string{"kick", "bob", "spam"}},
		{name: "collapsed whitespace", in: "kick \t bob\n", want: []string{"kick", "bob"}},
		{name: "double quotes", in: `kick bob "being rude"`, want: []string{"kick", "bob", "being rude"}},
		{name: "single quotes", in: "say 'a b c'", want: []string{"say", "a b c"}},
		{name: "quote inside token", in: `say he"ll"o`, want: []string{"say", "hello"}},
		{name: "escaped quote", in: `say \"hi\"`, want: []string{"say", `"hi"`}},
		{name: "escaped space", in: `say a\ b`, want: []string{"say", "a b"}},
		{name: "empty quoted token", in: `tag set ""`, want: []string{"tag", "set", ""}},
		{name: "mixed quotes", in: `say "it's fine"`, want: []string{"say", "it's fine"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Tokenize(tt.in)
			if err != nil {
				t.Fatalf("Tokenize(%q): %v", tt.in, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Tokenize(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTokenizeMalformed(t *testing.T) {
	t.Parallel()
	for _, in := range []string{
		`say "unterminated`,
		`say 'unterminated`,
		`say trailing\`,
	} {
		if _, err := Tokenize(in); !errors.Is(err, ErrInvalidArguments) {
			t.Fatalf("Tokenize(%q) = %v, want ErrInvalidArguments", in, err)
		}
	}
}
