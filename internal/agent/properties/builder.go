package properties

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// BuildResult is the output of Build: the JVM argument string and the
// classpath rebased against the worker's script directory.
type BuildResult struct {
	JVMArguments string
	ClassPath    string
}

// Build computes the JVM arguments and rebased classpath for a worker
// invocation, and mutates props in place with the two defaults the
// original runtime applies before launching workers:
//   - grinder.runs defaults to "0" (unbounded) when grinder.duration is
//     set but grinder.runs is not.
//   - grinder.logDirectory defaults to "<home>/log/<test-id>" when unset.
//
// Build never reorders or drops user-supplied -D properties; it only
// appends the ones PropertyBuilder itself is responsible for.
func Build(props *Properties, scriptDir, home string, securityFlag bool, etcHosts []string, hostname string, serverMode bool, useXmxLimit bool) BuildResult {
	applyDefaults(props, home)

	var args []string

	if securityFlag {
		args = append(args, "-Djava.security.manager",
			fmt.Sprintf("-Djava.security.policy=%s", filepath.Join(scriptDir, "grinder.security.policy")))
	}

	if useXmxLimit {
		args = append(args, "-Xmx512m")
	}

	if serverMode {
		args = append(args, "-Dgrinder.servermode=true")
	}

	args = append(args, fmt.Sprintf("-Dgrinder.hostname=%s", hostname))

	if len(etcHosts) > 0 {
		args = append(args, fmt.Sprintf("-Dngrinder.etc.hosts=%s", strings.Join(etcHosts, ",")))
	}

	for _, key := range dProperties(props) {
		args = append(args, fmt.Sprintf("-D%s=%s", key, props.GetString(key, "")))
	}

	if extra := props.GetString("grinder.jvm.arguments", ""); extra != "" {
		args = append(args, extra)
	}

	classpath := rebaseClassPath(props.GetString("grinder.jvm.classpath", ""), scriptDir)

	return BuildResult{
		JVMArguments: strings.Join(args, " "),
		ClassPath:    classpath,
	}
}

// applyDefaults mutates props with the two runtime defaults PropertyBuilder
// is responsible for.
func applyDefaults(props *Properties, home string) {
	if props.GetString("grinder.duration", "") != "" && props.GetString("grinder.runs", "") == "" {
		props.Set("grinder.runs", "0")
	}

	if props.GetString("grinder.logDirectory", "") == "" {
		testID := props.GetString("grinder.test.id", "default")
		props.Set("grinder.logDirectory", filepath.Join(home, "log", testID))
	}
}

// dProperties returns the subset of keys that PropertyBuilder forwards to
// the worker JVM as -D system properties, in deterministic order.
func dProperties(props *Properties) []string {
	var keys []string
	for _, k := range props.Keys() {
		if strings.HasPrefix(k, "grinder.param.") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// rebaseClassPath rewrites every relative entry of a ':'-separated
// classpath to be absolute against scriptDir, leaving absolute entries
// untouched.
func rebaseClassPath(classpath, scriptDir string) string {
	if classpath == "" {
		return ""
	}
	entries := strings.Split(classpath, string(filepath.ListSeparator))
	rebased := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if filepath.IsAbs(entry) {
			rebased = append(rebased, entry)
			continue
		}
		rebased = append(rebased, filepath.Join(scriptDir, entry))
	}
	return strings.Join(rebased, string(filepath.ListSeparator))
}
