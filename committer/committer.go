// Package committer implements the Committer of spec.md §4.7: it
// materializes a Generated Artifact into a temporary clone of the
// target repository and pushes it to the caller-chosen branch.
// Grounded on the teacher's agent/execution.RealDockerBackend —
// os.MkdirTemp + defer os.RemoveAll + exec.CommandContext with
// buffered stdout/stderr — substituting the system git binary for
// docker, since neither the teacher nor any other example in the
// corpus vendors a Git library.
package committer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reqforge/reqpipe/generator"
	"github.com/reqforge/reqpipe/internal/perr"
)

// Identity configures the Git author identity used for commits.
type Identity struct {
	Name           string
	Email          string
	PrivateKeyPath string
}

// Committer shells out to the system git binary to materialize and
// push a Generated Artifact.
type Committer struct {
	identity Identity
	logger   *zap.Logger
}

// New builds a Committer with the given Git identity.
func New(identity Identity, logger *zap.Logger) *Committer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Committer{identity: identity, logger: logger.With(zap.String("component", "committer"))}
}

// Result is the Committer's outcome (spec.md §4.7).
type Result struct {
	CommitHash   string
	FilesChanged []string
}

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// repoNameFromURL extracts a filesystem-safe repository name from a
// remote URL by stripping the protocol and .git suffix and replacing
// non-alphanumeric characters with '-' (spec.md §4.7 step 1).
func repoNameFromURL(repoURL string) (string, error) {
	trimmed := repoURL
	if idx := strings.Index(trimmed, "://"); idx != -1 {
		trimmed = trimmed[idx+3:]
	}
	if idx := strings.LastIndex(trimmed, "@"); idx != -1 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(trimmed, ".git")
	name := nonAlphanumeric.ReplaceAllString(trimmed, "-")
	name = strings.Trim(name, "-")
	if name == "" {
		return "", perr.New(perr.CodeValidation, "committer: repository URL yields an empty repository name")
	}
	return name, nil
}

// Commit runs the eight-step procedure of spec.md §4.7 and returns the
// pushed commit hash and the list of changed paths. repoURL and branch
// come from the Task; outputPath is the Generator's (or the task's
// explicit) output sub-path; requirementText and analysisTitle feed
// the commit message.
func (c *Committer) Commit(ctx context.Context, repoURL, branch, outputPath string, artifact generator.Artifact, requirementText, analysisTitle string) (result Result, err error) {
	repoName, err := repoNameFromURL(repoURL)
	if err != nil {
		return Result{}, err
	}

	workdir, err := os.MkdirTemp("", "reqpipe-commit-"+repoName+"-")
	if err != nil {
		return Result{}, perr.Wrap(err)
	}
	defer func() {
		if rmErr := os.RemoveAll(workdir); rmErr != nil {
			c.logger.Warn("failed to remove temporary commit workdir", zap.String("workdir", workdir), zap.Error(rmErr))
		}
	}()

	env := os.Environ()
	if c.identity.PrivateKeyPath != "" {
		sshCommand := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=no", c.identity.PrivateKeyPath)
		env = append(env, "GIT_SSH_COMMAND="+sshCommand)
	}

	run := func(args ...string) (string, error) {
		return c.run(ctx, workdir, env, args...)
	}

	if _, err := exec.LookPath("git"); err != nil {
		return Result{}, perr.New(perr.CodeConfig, "committer: git binary not found in PATH").WithCause(err)
	}

	if _, err := c.run(ctx, "", env, "clone", repoURL, workdir); err != nil {
		return Result{}, perr.New(perr.CodeProvider, "committer: clone failed: "+err.Error()).WithRetryable(true)
	}

	if err := c.checkoutOrCreateBranch(ctx, workdir, env, branch); err != nil {
		return Result{}, err
	}

	changed, err := materialize(workdir, outputPath, artifact)
	if err != nil {
		return Result{}, err
	}

	if len(changed) > 0 {
		args := append([]string{"add"}, changed...)
		if _, err := run(args...); err != nil {
			return Result{}, perr.New(perr.CodeProvider, "committer: git add failed: "+err.Error())
		}
	}

	message := commitMessage(analysisTitle, requirementText)
	if _, err := run("-c", "user.name="+c.identity.Name, "-c", "user.email="+c.identity.Email, "commit", "--allow-empty", "-m", message); err != nil {
		return Result{}, perr.New(perr.CodeProvider, "committer: git commit failed: "+err.Error())
	}

	hash, err := run("rev-parse", "HEAD")
	if err != nil {
		return Result{}, perr.New(perr.CodeProvider, "committer: failed to resolve commit hash: "+err.Error())
	}
	hash = strings.TrimSpace(hash)

	if _, err := run("push", "origin", branch); err != nil {
		return Result{}, perr.New(perr.CodeProvider, "committer: push failed: "+err.Error()).WithRetryable(true)
	}

	return Result{CommitHash: hash, FilesChanged: changed}, nil
}

func (c *Committer) checkoutOrCreateBranch(ctx context.Context, workdir string, env []string, branch string) error {
	if _, err := c.run(ctx, workdir, env, "checkout", branch); err == nil {
		return nil
	}
	if _, err := c.run(ctx, workdir, env, "checkout", "remotes/origin/"+branch, "-b", branch); err == nil {
		return nil
	}
	if _, err := c.run(ctx, workdir, env, "checkout", "-b", branch); err != nil {
		return perr.New(perr.CodeProvider, "committer: failed to check out or create branch "+branch+": "+err.Error())
	}
	return nil
}

func materialize(workdir, outputPath string, artifact generator.Artifact) ([]string, error) {
	changed := make([]string, 0, len(artifact))
	for relPath, content := range artifact {
		fullPath := filepath.Join(workdir, outputPath, relPath)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			return nil, perr.Wrap(err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
			return nil, perr.Wrap(err)
		}
		changed = append(changed, filepath.ToSlash(filepath.Join(outputPath, relPath)))
	}
	return changed, nil
}

func commitMessage(analysisTitle, requirementText string) string {
	title := analysisTitle
	if strings.TrimSpace(title) == "" {
		title = "new requirement"
	}
	body := requirementText
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("feat: implement %s\n\n%s", title, body)
}

// run executes git with args inside dir (or the process's working
// directory when dir is ""), with a bounded timeout, returning its
// stdout; on failure stderr is folded into the returned error.
func (c *Committer) run(ctx context.Context, dir string, env []string, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = dir
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		c.logger.Debug("git command failed", zap.Strings("args", args), zap.String("stderr", stderr.String()))
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}
