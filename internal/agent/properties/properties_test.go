package properties

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPropertiesSetGetString(t *testing.T) {
	p := New("/scripts")
	p.Set("grinder.script", "a.py")

	if got := p.GetString("grinder.script", "default.py"); got != "a.py" {
		t.Errorf("got %q, want %q", got, "a.py")
	}
	if got := p.GetString("grinder.missing", "default.py"); got != "default.py" {
		t.Errorf("got %q, want default %q", got, "default.py")
	}
}

func TestPropertiesTypedAccessors(t *testing.T) {
	p := New("/scripts")
	p.Set("grinder.processes", "10")
	p.Set("grinder.security", "true")
	p.Set("grinder.ratio", "1.5")
	p.Set("grinder.garbage", "not-a-number")

	if got := p.GetInt("grinder.processes", 1); got != 10 {
		t.Errorf("GetInt: got %d, want 10", got)
	}
	if got := p.GetInt("grinder.garbage", 1); got != 1 {
		t.Errorf("GetInt fallback: got %d, want 1", got)
	}
	if got := p.GetBoolean("grinder.security", false); got != true {
		t.Errorf("GetBoolean: got %v, want true", got)
	}
	if got := p.GetDouble("grinder.ratio", 0); got != 1.5 {
		t.Errorf("GetDouble: got %v, want 1.5", got)
	}
}

func TestPropertiesOrderPreserved(t *testing.T) {
	p := New("/scripts")
	p.Set("c", "3")
	p.Set("a", "1")
	p.Set("b", "2")
	p.Set("a", "overwritten")

	want := []string{"c", "a", "b"}
	got := p.Keys()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if p.GetString("a", "") != "overwritten" {
		t.Errorf("expected overwritten value for key a")
	}
}

func TestPropertiesPutAll(t *testing.T) {
	base := New("/scripts")
	base.Set("grinder.processes", "1")
	base.Set("grinder.script", "base.py")

	override := New("/scripts")
	override.Set("grinder.script", "override.py")
	override.Set("grinder.consoleHost", "10.0.0.5")

	base.PutAll(override)

	if got := base.GetString("grinder.script", ""); got != "override.py" {
		t.Errorf("expected override to win, got %q", got)
	}
	if got := base.GetString("grinder.processes", ""); got != "1" {
		t.Errorf("expected base-only key to survive merge, got %q", got)
	}
	if got := base.GetString("grinder.consoleHost", ""); got != "10.0.0.5" {
		t.Errorf("expected new key from override, got %q", got)
	}
}

func TestResolveRelativeFile(t *testing.T) {
	p := New("/scripts")

	loc := p.ResolveRelativeFile("sub/a.py")
	want := filepath.Join("/scripts", "sub")
	if loc.Directory != want {
		t.Errorf("got directory %q, want %q", loc.Directory, want)
	}
	if loc.File != "a.py" {
		t.Errorf("got file %q, want a.py", loc.File)
	}

	abs := p.ResolveRelativeFile("/abs/b.py")
	if abs.Directory != "/abs" || abs.File != "b.py" {
		t.Errorf("absolute path not preserved: %+v", abs)
	}

	empty := p.ResolveRelativeFile("")
	if empty.Directory != "/scripts" || empty.File != "" {
		t.Errorf("empty file should resolve to base directory, got %+v", empty)
	}
}

func TestScriptLocationIsReadable(t *testing.T) {
	loc := ScriptLocation{Directory: "/does/not/exist", File: "a.py"}
	if loc.IsReadable() {
		t.Error("expected unreadable script to report false")
	}
}

func TestPropertiesClone(t *testing.T) {
	p := New("/scripts")
	p.Set("a", "1")

	clone := p.Clone()
	clone.Set("a", "2")

	if p.GetString("a", "") != "1" {
		t.Error("mutating clone should not affect original")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/props.yaml"
	content := "grinder.processes: 4\ngrinder.script: a.py\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	if got := p.GetInt("grinder.processes", 0); got != 4 {
		t.Errorf("grinder.processes = %d, want 4", got)
	}
	if got := p.GetString("grinder.script", ""); got != "a.py" {
		t.Errorf("grinder.script = %q, want a.py", got)
	}
}

func TestLoadYAMLRejectsNestedMapping(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/props.yaml"
	content := "grinder:\n  processes: 4\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := LoadYAML(path); err == nil {
		t.Fatal("expected LoadYAML to reject a nested mapping")
	}
}
