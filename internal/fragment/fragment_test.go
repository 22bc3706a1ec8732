package fragment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeLib(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestBuildFromDirectories_ParsesNamedBlocks(t *testing.T) {
	dir := t.TempDir()
	writeLib(t, dir, "shell.org", `Some prose about the shell setup.

#+name: bash-aliases
#+begin_src sh
alias ll='ls -la'
alias gs='git status'
#+end_src

More prose.

#+name: path-setup
#+begin_src sh
export PATH="$HOME/bin:$PATH"
#+end_src
`)

	lib, err := BuildFromDirectories([]string{dir})
	if err != nil {
		t.Fatalf("BuildFromDirectories() failed: %v", err)
	}

	if len(lib) != 2 {
		t.Fatalf("got %d fragments, want 2", len(lib))
	}
	f, ok := lib["bash-aliases"]
	if !ok {
		t.Fatal("bash-aliases not found")
	}
	if f.Language != "sh" {
		t.Errorf("Language = %q, want sh", f.Language)
	}
	want := "alias ll='ls -la'\nalias gs='git status'"
	if f.Body != want {
		t.Errorf("Body = %q, want %q", f.Body, want)
	}
}

func TestBuildFromDirectories_FirstDirectoryWins(t *testing.T) {
	d1 := t.TempDir()
	d2 := t.TempDir()
	writeLib(t, d1, "a.org", "#+name: foo\n#+begin_src sh\nfrom d1\n#+end_src\n")
	writeLib(t, d2, "b.org", "#+name: foo\n#+begin_src sh\nfrom d2\n#+end_src\n")

	lib, err := BuildFromDirectories([]string{d1, d2})
	if err != nil {
		t.Fatalf("BuildFromDirectories() failed: %v", err)
	}

	if len(lib) != 1 {
		t.Fatalf("got %d fragments, want 1", len(lib))
	}
	if lib["foo"].Body != "from d1" {
		t.Errorf("Body = %q, want the earlier directory's definition", lib["foo"].Body)
	}
}

func TestBuildFromDirectories_MissingDirectorySkipped(t *testing.T) {
	dir := t.TempDir()
	writeLib(t, dir, "a.org", "#+name: foo\n#+begin_src sh\nx\n#+end_src\n")

	lib, err := BuildFromDirectories([]string{filepath.Join(dir, "nope"), dir})
	if err != nil {
		t.Fatalf("BuildFromDirectories() failed: %v", err)
	}
	if len(lib) != 1 {
		t.Errorf("got %d fragments, want 1", len(lib))
	}
}

func TestBuildFromDirectories_AnonymousBlockIgnored(t *testing.T) {
	dir := t.TempDir()
	writeLib(t, dir, "a.org", `#+begin_src sh
no name here
#+end_src

#+name: named
#+begin_src elisp
(setq x 1)
#+end_src
`)

	lib, err := BuildFromDirectories([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	if len(lib) != 1 {
		t.Fatalf("got %d fragments, want 1", len(lib))
	}
	if lib["named"].Language != "elisp" {
		t.Errorf("Language = %q, want elisp", lib["named"].Language)
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	lib := Library{
		"bash-aliases": {Name: "bash-aliases", Language: "sh", Body: "alias ll='ls -la'", Ordinal: 0},
		"vim-opts":     {Name: "vim-opts", Language: "vim", Body: "set number\nset ruler", Ordinal: 1},
		"empty":        {Name: "empty", Language: "", Body: "", Ordinal: 2},
	}

	blob, err := Serialize(lib)
	if err != nil {
		t.Fatalf("Serialize() failed: %v", err)
	}
	got, err := Deserialize(blob)
	if err != nil {
		t.Fatalf("Deserialize() failed: %v", err)
	}

	if diff := cmp.Diff(lib, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDeserialize_CorruptBlob(t *testing.T) {
	if _, err := Deserialize([]byte("fragments: [")); err == nil {
		t.Fatal("Deserialize() should fail on malformed yaml")
	}
	// Duplicate names are corrupt too.
	blob := []byte("fragments:\n  - name: a\n  - name: a\n")
	if _, err := Deserialize(blob); err == nil {
		t.Fatal("Deserialize() should fail on duplicate fragment names")
	}
}
