package properties

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildDefaultsRunsFromDuration(t *testing.T) {
	p := New("/scripts")
	p.Set("grinder.duration", "60000")

	Build(p, "/scripts", "/home/agent", false, nil, "host1", false, false)

	if got := p.GetString("grinder.runs", ""); got != "0" {
		t.Errorf("expected grinder.runs defaulted to 0, got %q", got)
	}
}

func TestBuildDoesNotOverrideExplicitRuns(t *testing.T) {
	p := New("/scripts")
	p.Set("grinder.duration", "60000")
	p.Set("grinder.runs", "5")

	Build(p, "/scripts", "/home/agent", false, nil, "host1", false, false)

	if got := p.GetString("grinder.runs", ""); got != "5" {
		t.Errorf("expected explicit grinder.runs preserved, got %q", got)
	}
}

func TestBuildDefaultsLogDirectory(t *testing.T) {
	p := New("/scripts")
	p.Set("grinder.test.id", "42")

	Build(p, "/scripts", "/home/agent", false, nil, "host1", false, false)

	want := filepath.Join("/home/agent", "log", "42")
	if got := p.GetString("grinder.logDirectory", ""); got != want {
		t.Errorf("got log directory %q, want %q", got, want)
	}
}

func TestBuildSecurityFlag(t *testing.T) {
	p := New("/scripts")
	result := Build(p, "/scripts", "/home/agent", true, nil, "host1", false, false)

	if !strings.Contains(result.JVMArguments, "-Djava.security.manager") {
		t.Errorf("expected security manager flag, got %q", result.JVMArguments)
	}
}

func TestBuildXmxLimit(t *testing.T) {
	p := New("/scripts")
	result := Build(p, "/scripts", "/home/agent", false, nil, "host1", false, true)

	if !strings.Contains(result.JVMArguments, "-Xmx") {
		t.Errorf("expected an -Xmx flag when useXmxLimit is set, got %q", result.JVMArguments)
	}
}

func TestRebaseClassPath(t *testing.T) {
	cp := "lib/a.jar" + string(filepath.ListSeparator) + "/abs/b.jar"
	got := rebaseClassPath(cp, "/scripts")

	want := filepath.Join("/scripts", "lib/a.jar") + string(filepath.ListSeparator) + "/abs/b.jar"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildEtcHosts(t *testing.T) {
	p := New("/scripts")
	result := Build(p, "/scripts", "/home/agent", false, []string{"10.0.0.1 foo"}, "host1", false, false)

	if !strings.Contains(result.JVMArguments, "ngrinder.etc.hosts") {
		t.Errorf("expected etc hosts property, got %q", result.JVMArguments)
	}
}
