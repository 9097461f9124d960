package speech

import "testing"

func TestCleanUtterance(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "Hello there!", "Hello there!"},
		{"emoji stripped and whitespace collapsed", "Test 🎉 message!!", "Test message!!"},
		{"multiple emoji", "Hi 😀😀 friend ✨", "Hi friend"},
		{"math symbols dropped", "2 + 2 = 4", "2 2 4"},
		{"newlines and tabs collapse", "one\n\ttwo   three", "one two three"},
		{"zero width joiner sequences", "family 👨‍👩‍👧 here", "family here"},
		{"keycap digits keep the digit", "press 1️⃣ now", "press 1 now"},
		{"punctuation kept", "Wait... really?!", "Wait... really?!"},
		{"only emoji becomes empty", "🎉✨🎈", ""},
		{"empty input", "", ""},
		{"surrounding whitespace trimmed", "  hi  ", "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanUtterance(tt.in); got != tt.want {
				t.Fatalf("CleanUtterance(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanUtteranceIsDeterministic(t *testing.T) {
	in := "Same 🎉 input\teach   time"
	first := CleanUtterance(in)
	for i := 0; i < 3; i++ {
		if got := CleanUtterance(in); got != first {
			t.Fatalf("run %d: CleanUtterance = %q, want %q", i, got, first)
		}
	}
}
