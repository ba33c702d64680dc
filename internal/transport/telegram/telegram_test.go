package telegram

import (
	"strings"
	"testing"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	t.Run("short passes through", func(t *testing.T) {
		got := splitText("hello", 100)
		if len(got) != 1 || got[0] != "hello" {
			t.Fatalf("splitText = %v", got)
		}
	})

	t.Run("splits on newline boundary", func(t *testing.T) {
		in := strings.Repeat("x", 60) + "\n" + strings.Repeat("y", 60)
		got := splitText(in, 100)
		if len(got) != 2 {
			t.Fatalf("chunks = %d, want 2", len(got))
		}
		if !strings.HasSuffix(got[0], "x") || !strings.HasPrefix(got[1], "y") {
			t.Fatalf("split crossed the newline: %q | %q", got[0], got[1])
		}
	})

	t.Run("hard split without newlines", func(t *testing.T) {
		in := strings.Repeat("z", 250)
		got := splitText(in, 100)
		total := 0
		for _, c := range got {
			if len(c) > 100 {
				t.Fatalf("chunk over the limit: %d", len(c))
			}
			total += len(c)
		}
		if total != 250 {
			t.Fatalf("content lost: %d of 250 runes", total)
		}
	})
}
