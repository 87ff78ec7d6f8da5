package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI against db with fresh flag state and returns stdout.
func run(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	configFlag, dbFlag, policyFlag, debugFlag = "", "", "", false
	attrsFlag, rightFlag, parentFlag, jsonFlag = "", "", "", false
	commitMessage, commitAuthor, commitPublishAt, exportOutput = "", "", "", ""
	sweepSinceDays, sweepDryRun = 0, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append([]string{"--db", db}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, db string, args ...string) string {
	t.Helper()
	out, err := run(t, db, args...)
	require.NoError(t, err, "bough %s", strings.Join(args, " "))
	return out
}

// field returns the value after label in "label value" output lines.
func field(out, label string) string {
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, label+" "); ok {
			return v
		}
	}
	return ""
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "bough", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	for _, name := range []string{"init", "kinds", "tree", "version"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	assert.True(t, treeCmd.HasSubCommands())
	assert.True(t, versionCmd.HasSubCommands())
}

func TestKindsCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "bough.db")
	out := mustRun(t, db, "kinds")
	assert.Contains(t, out, "layout")
	assert.Contains(t, out, "bucket")
	assert.Contains(t, out, "page")
}

func TestTreeCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "bough.db")
	mustRun(t, db, "init")

	root := strings.TrimSpace(mustRun(t, db, "tree", "root", "layout"))
	require.NotEmpty(t, root)

	out := mustRun(t, db, "tree", "show", root)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3, "layout starts with two buckets")
	main := strings.Fields(lines[1])[0]
	sidebar := strings.Fields(lines[2])[0]

	txt := strings.TrimSpace(mustRun(t, db, "tree", "add", main, "text", "--attrs", `{"body":"hello"}`))
	assert.Contains(t, mustRun(t, db, "tree", "show", root), `"hello"`)

	allowed := mustRun(t, db, "tree", "allowed", root)
	assert.Equal(t, "bucket\n", allowed)

	mustRun(t, db, "tree", "move", txt, "--parent", sidebar)
	out = mustRun(t, db, "tree", "show", sidebar)
	assert.Contains(t, out, txt)

	_, err := run(t, db, "tree", "add", root, "text")
	assert.Error(t, err, "layouts only accept buckets")

	mustRun(t, db, "tree", "rm", txt)
	assert.NotContains(t, mustRun(t, db, "tree", "show", root), txt)
}

func TestVersionCommands(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "bough.db")

	out := mustRun(t, db, "version", "new", "layout")
	tracker, working := field(out, "tracker"), field(out, "working")
	require.NotEmpty(t, tracker)

	show := mustRun(t, db, "tree", "show", working)
	main := strings.Fields(strings.Split(show, "\n")[1])[0]
	mustRun(t, db, "tree", "add", main, "text", "--attrs", `{"body":"v1"}`)

	first := strings.TrimSpace(mustRun(t, db, "version", "commit", tracker, "-m", "first", "--author", "ana"))
	assert.Equal(t, "clean\n", mustRun(t, db, "version", "status", tracker))
	assert.Equal(t, "ok\n", mustRun(t, db, "version", "verify", first))

	mustRun(t, db, "tree", "add", main, "text", "--attrs", `{"body":"v2"}`)
	assert.Equal(t, "modified\n", mustRun(t, db, "version", "status", tracker))
	mustRun(t, db, "version", "commit", tracker, "-m", "second")
	mustRun(t, db, "version", "revert", tracker, first)

	log := mustRun(t, db, "version", "log", tracker)
	assert.Equal(t, 4, len(strings.Split(strings.TrimSpace(log), "\n")), "header plus three commits")
	assert.Contains(t, log, "Revert to "+first)

	archivePath := filepath.Join(dir, "first.bough")
	mustRun(t, db, "version", "export", first, "-o", archivePath)
	out = mustRun(t, db, "version", "import", archivePath)
	imported := field(out, "tracker")
	require.NotEmpty(t, imported)
	assert.Contains(t, mustRun(t, db, "tree", "show", field(out, "working")), `"v1"`)

	orphans := mustRun(t, db, "version", "orphans")
	assert.Contains(t, orphans, tracker)
	assert.Contains(t, orphans, imported)

	out = mustRun(t, db, "version", "sweep", "--dry-run")
	assert.Contains(t, out, "Would delete 2 trackers")
	mustRun(t, db, "version", "rm", imported)
	assert.NotContains(t, mustRun(t, db, "version", "orphans"), imported)
}
