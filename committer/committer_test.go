package committer

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqforge/reqpipe/generator"
)

func TestRepoNameFromURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://github.com/acme/widget.git", "github-com-acme-widget"},
		{"git@github.com:acme/widget.git", "github-com-acme-widget"},
		{"ssh://git@gitlab.example.com/acme/widget.git", "gitlab-example-com-acme-widget"},
	}
	for _, c := range cases {
		got, err := repoNameFromURL(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestRepoNameFromURLRejectsEmptyResult(t *testing.T) {
	_, err := repoNameFromURL("https://")
	assert.Error(t, err)
}

func TestCommitMessageTruncatesLongRequirement(t *testing.T) {
	long := strings.Repeat("a", 300)
	msg := commitMessage("Order service", long)
	assert.True(t, strings.HasPrefix(msg, "feat: implement Order service\n\n"))
	assert.Contains(t, msg, "...")
	assert.Less(t, len(msg), len(long)+50)
}

func TestCommitMessageDefaultsTitleWhenBlank(t *testing.T) {
	msg := commitMessage("  ", "short requirement")
	assert.Contains(t, msg, "feat: implement new requirement")
}

func TestMaterializeWritesFilesUnderOutputPath(t *testing.T) {
	dir := t.TempDir()
	artifact := generator.NewArtifact(map[string]string{
		"src/main.go":  "package main",
		"src/util.go":  "package main",
	})

	changed, err := materialize(dir, "app", artifact)
	require.NoError(t, err)
	assert.Len(t, changed, 2)

	content, err := os.ReadFile(filepath.Join(dir, "app", "src", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main", string(content))
}

// requireGit skips the test when the git binary isn't on PATH, since
// Commit shells out to it directly rather than vendoring a library.
func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func initBareRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cmd := exec.Command("git", "init", "--bare", dir)
	require.NoError(t, cmd.Run())
	return dir
}

func TestCommitClonesCommitsAndPushes(t *testing.T) {
	requireGit(t)
	remote := initBareRepo(t)

	c := New(Identity{Name: "Reqpipe Bot", Email: "bot@reqpipe.local"}, nil)
	artifact := generator.NewArtifact(map[string]string{"main.go": "package main\n\nfunc main() {}\n"})

	result, err := c.Commit(context.Background(), remote, "feature/generated", "src", artifact, "build a CLI that prints hello", "Hello CLI")
	require.NoError(t, err)
	assert.NotEmpty(t, result.CommitHash)
	assert.Equal(t, []string{"src/main.go"}, result.FilesChanged)

	verifyDir := t.TempDir()
	cloneCmd := exec.Command("git", "clone", "--branch", "feature/generated", remote, verifyDir)
	require.NoError(t, cloneCmd.Run())

	content, err := os.ReadFile(filepath.Join(verifyDir, "src", "main.go"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "func main()")
}

func TestCommitRejectsUnresolvableRepoName(t *testing.T) {
	c := New(Identity{Name: "bot", Email: "bot@reqpipe.local"}, nil)
	_, err := c.Commit(context.Background(), "https://", "main", "src", generator.Artifact{}, "req", "title")
	assert.Error(t, err)
}
