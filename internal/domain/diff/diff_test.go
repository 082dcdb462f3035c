package diff

import (
	"strings"
	"testing"

	"github.com/Strob0t/repodeck/internal/domain/workcopy"
)

const multiFileDiff = `diff --git a/x.txt b/x.txt
index 3b18e51..a042389 100644
--- a/x.txt
+++ b/x.txt
@@ -1 +1 @@
-old
+new
diff --git a/y.txt b/y.txt
new file mode 100644
index 0000000..e69de29
--- /dev/null
+++ b/y.txt
@@ -0,0 +1,2 @@
+one
+two
diff --git a/gone.go b/gone.go
deleted file mode 100644
index 8baef1b..0000000
--- a/gone.go
+++ /dev/null
@@ -1,3 +0,0 @@
-package gone
-
-func x() {}
diff --git a/old/name.md b/new/name.md
similarity index 90%
rename from old/name.md
rename to new/name.md
index 1111111..2222222 100644
--- a/old/name.md
+++ b/new/name.md
@@ -1 +1 @@
-# Title
+# New title
`

func TestParseModifiedScenario(t *testing.T) {
	raw := "diff --git a/x.txt b/x.txt\n@@ -1 +1 @@\n-old\n+new\n"
	got := Parse(raw)
	if len(got) != 1 {
		t.Fatalf("expected 1 change, got %d", len(got))
	}
	if got[0].Path != "x.txt" || got[0].Status != workcopy.StatusModified {
		t.Fatalf("unexpected change: %+v", got[0])
	}
	if got[0].Additions != 1 || got[0].Deletions != 1 {
		t.Fatalf("expected +1/-1, got +%d/-%d", got[0].Additions, got[0].Deletions)
	}
}

func TestParseNewFileScenario(t *testing.T) {
	raw := "diff --git a/y.txt b/y.txt\nnew file mode 100644\nindex 0000000..e69de29\n"
	got := Parse(raw)
	if len(got) != 1 {
		t.Fatalf("expected 1 change, got %d", len(got))
	}
	if got[0].Path != "y.txt" || got[0].Status != workcopy.StatusAdded {
		t.Fatalf("unexpected change: %+v", got[0])
	}
}

func TestParseClassification(t *testing.T) {
	got := Parse(multiFileDiff)
	want := []struct {
		path   string
		status workcopy.FileStatus
	}{
		{"x.txt", workcopy.StatusModified},
		{"y.txt", workcopy.StatusAdded},
		{"gone.go", workcopy.StatusDeleted},
		{"new/name.md", workcopy.StatusRenamed},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d changes, got %d: %+v", len(want), len(got), got)
	}
	for i, w := range want {
		if got[i].Path != w.path || got[i].Status != w.status {
			t.Errorf("change %d: got %s %s, want %s %s", i, got[i].Path, got[i].Status, w.path, w.status)
		}
	}
	if got[2].Deletions != 3 {
		t.Errorf("expected 3 deletions for gone.go, got %d", got[2].Deletions)
	}
}

func TestParseCountMatchesHeaders(t *testing.T) {
	inputs := []string{
		"",
		multiFileDiff,
		"diff --git a/a b/a\n",
		"diff --git a/a b/a\ndiff --git a/b b/b\ndiff --git a/c b/c\n",
	}
	for _, raw := range inputs {
		headers := 0
		for _, line := range strings.Split(raw, "\n") {
			if strings.HasPrefix(line, "diff --git ") {
				headers++
			}
		}
		if got := len(Parse(raw)); got != headers {
			t.Errorf("expected %d entries, got %d for %q", headers, got, raw)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"no headers", "@@ -1 +1 @@\n-a\n+b\n", 0},
		{"garbage", "not a diff at all", 0},
		{"truncated header", "diff --git ", 0},
		{"truncated after valid section", "diff --git a/a.go b/a.go\n@@ -1 +1 @@\n-x\n+y\ndiff --git ", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(Parse(tt.raw)); got != tt.want {
				t.Fatalf("expected %d entries, got %d", tt.want, got)
			}
		})
	}
}

func TestParseQuotedAndSpacedPaths(t *testing.T) {
	raw := "diff --git \"a/dir/sp ace.txt\" \"b/dir/sp ace.txt\"\n@@ -1 +1 @@\n-a\n+b\n" +
		"diff --git a/with b/inside.txt b/with b/inside.txt\n@@ -1 +1 @@\n-a\n+b\n"
	got := Parse(raw)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Path != "dir/sp ace.txt" {
		t.Errorf("quoted path: got %q", got[0].Path)
	}
	if got[1].Path != "with b/inside.txt" {
		t.Errorf("symmetric path: got %q", got[1].Path)
	}
}

func TestParseHunkLinesAreNotMarkers(t *testing.T) {
	raw := "diff --git a/notes.txt b/notes.txt\n@@ -1,2 +1,2 @@\n-deleted file mode 100644\n+new file mode 100644\n"
	got := Parse(raw)
	if len(got) != 1 || got[0].Status != workcopy.StatusModified {
		t.Fatalf("expected a single modified entry, got %+v", got)
	}
}

func TestExtractFileDiff(t *testing.T) {
	section := ExtractFileDiff(multiFileDiff, "y.txt")
	if !strings.HasPrefix(section, "diff --git a/y.txt b/y.txt\n") {
		t.Fatalf("section does not start at its header: %q", section)
	}
	if strings.Contains(section, "gone.go") {
		t.Fatalf("section leaked into the next file: %q", section)
	}
	if !strings.Contains(multiFileDiff, section) {
		t.Fatal("section is not a substring of the input")
	}
	start := strings.Index(multiFileDiff, "diff --git a/y.txt")
	end := strings.Index(multiFileDiff, "diff --git a/gone.go")
	if section != multiFileDiff[start:end] {
		t.Fatalf("unexpected boundaries:\n%q\nwant\n%q", section, multiFileDiff[start:end])
	}
}

func TestExtractFileDiffLastSectionRunsToEnd(t *testing.T) {
	section := ExtractFileDiff(multiFileDiff, "new/name.md")
	start := strings.Index(multiFileDiff, "diff --git a/old/name.md")
	if section != multiFileDiff[start:] {
		t.Fatalf("expected last section to run to end of text, got %q", section)
	}
}

func TestExtractFileDiffMatchesPreImage(t *testing.T) {
	if ExtractFileDiff(multiFileDiff, "old/name.md") == "" {
		t.Fatal("expected rename pre-image path to address the section")
	}
	if ExtractFileDiff(multiFileDiff, "gone.go") == "" {
		t.Fatal("expected deleted path to address the section")
	}
}

func TestExtractFileDiffMissing(t *testing.T) {
	if got := ExtractFileDiff(multiFileDiff, "nope.txt"); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
	if got := ExtractFileDiff(multiFileDiff, ""); got != "" {
		t.Fatalf("expected empty string for empty path, got %q", got)
	}
	if got := ExtractFileDiff("", "x.txt"); got != "" {
		t.Fatalf("expected empty string for empty diff, got %q", got)
	}
}

func TestParseCRLF(t *testing.T) {
	raw := "diff --git a/win.txt b/win.txt\r\nnew file mode 100644\r\n@@ -0,0 +1 @@\r\n+x\r\n"
	got := Parse(raw)
	if len(got) != 1 || got[0].Path != "win.txt" || got[0].Status != workcopy.StatusAdded {
		t.Fatalf("unexpected result: %+v", got)
	}
}
