package document

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "strips non-ascii",
			input: "Patient with féver — resolved",
			want:  "Patientwith fver resolved",
		},
		{
			name:  "collapses horizontal whitespace",
			input: "BP   120/80\t\tHR  72",
			want:  "BP 120/80 HR 72",
		},
		{
			name:  "caps blank line runs",
			input: "Assessment\n\n\n\n\nPlan",
			want:  "Assessment\n\nPlan",
		},
		{
			name:  "trims",
			input: "  note text  ",
			want:  "note text",
		},
		{
			name:  "removes control characters",
			input: "line\x00one\x07",
			want:  "lineone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	input := "  Patient seen   today.\n\n\n\nPlan:\tfollow up  "
	once := Normalize(input)
	if twice := Normalize(once); twice != once {
		t.Errorf("Normalize() is not idempotent: %q != %q", twice, once)
	}
}

func TestFromText(t *testing.T) {
	doc, err := FromText("Patient presents with type 2 diabetes. Insulin administered.")
	if err != nil {
		t.Fatalf("FromText() error = %v", err)
	}
	if doc.Normalized == "" {
		t.Error("normalized text must not be empty")
	}
	if doc.SentenceCount != 2 {
		t.Errorf("sentence count = %d, want 2", doc.SentenceCount)
	}
	if doc.WordCount == 0 {
		t.Error("word count must be non-zero")
	}
}

func TestFromTextEmpty(t *testing.T) {
	for _, input := range []string{"", "   ", " —é"} {
		if _, err := FromText(input); !errors.Is(err, ErrExtraction) {
			t.Errorf("FromText(%q) error = %v, want %v", input, err, ErrExtraction)
		}
	}
}

func TestFromHTML(t *testing.T) {
	html := `<html><head><title>Note</title><style>body{}</style></head>
	<body><script>track()</script><nav>menu</nav>
	<p>Patient presents with hypertension.</p>
	<p>Lisinopril continued.</p>
	<footer>generated by EHR</footer></body></html>`

	doc, err := FromHTML(html)
	if err != nil {
		t.Fatalf("FromHTML() error = %v", err)
	}
	if !strings.Contains(doc.Normalized, "hypertension") {
		t.Errorf("normalized text missing body content: %q", doc.Normalized)
	}
	for _, stripped := range []string{"track()", "menu", "generated by EHR", "<p>"} {
		if strings.Contains(doc.Normalized, stripped) {
			t.Errorf("normalized text still contains %q", stripped)
		}
	}
}

func TestFromHTMLEmptyBody(t *testing.T) {
	if _, err := FromHTML("<html><body><script>x()</script></body></html>"); !errors.Is(err, ErrExtraction) {
		t.Errorf("FromHTML() error = %v, want %v", err, ErrExtraction)
	}
}
