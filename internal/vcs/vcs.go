// Package vcs wraps the git operations the healing loop needs: clone,
// snapshot, hard reset, commit-with-prefix, and push with fork fallback.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// CommitPrefix marks every commit the agent authors.
const CommitPrefix = "[AI-AGENT] "

const opTimeout = 30 * time.Second

// Forker retargets pushes when the remote rejects a non-owner. It
// returns the clone URL of a fork of repoURL owned by the token's user.
type Forker interface {
	EnsureFork(ctx context.Context, repoURL string) (string, error)
}

// ErrClone and ErrPush mark clone and push failures; both are terminal
// for a run.
var (
	ErrClone = errors.New("clone failed")
	ErrPush  = errors.New("push failed")
)

type Adapter struct {
	repo  *git.Repository
	dir   string
	url   string
	token string

	// Forker enables the auto-fork fallback on push rejection.
	Forker Forker

	signature func() *object.Signature
}

// Clone shallow-clones url into dest and returns an adapter bound to it.
func Clone(ctx context.Context, url, dest, token string) (*Adapter, error) {
	cctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := &git.CloneOptions{
		URL:  url,
		Auth: auth(token),
	}
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		// Shallow only over the wire; local transports reject depth.
		opts.Depth = 1
	}
	repo, err := git.PlainCloneContext(cctx, dest, false, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrClone, url, err)
	}
	return &Adapter{repo: repo, dir: dest, url: url, token: token, signature: defaultSignature}, nil
}

// Open binds an adapter to an existing working tree (used by tests).
func Open(dir string) (*Adapter, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", dir, err)
	}
	return &Adapter{repo: repo, dir: dir, signature: defaultSignature}, nil
}

func (a *Adapter) Dir() string { return a.dir }

// Snapshot returns the current HEAD commit hash.
func (a *Adapter) Snapshot() (string, error) {
	ref, err := a.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// ResetTo hard-resets the working tree to the given commit and discards
// untracked files, restoring the exact snapshot state.
func (a *Adapter) ResetTo(hash string) error {
	w, err := a.repo.Worktree()
	if err != nil {
		return err
	}
	if err := w.Reset(&git.ResetOptions{
		Commit: plumbing.NewHash(hash),
		Mode:   git.HardReset,
	}); err != nil {
		return fmt.Errorf("hard reset to %s: %w", hash, err)
	}
	if err := w.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("clean untracked after reset: %w", err)
	}
	return nil
}

// CommitAll stages everything and commits. The message gets the agent
// prefix if the caller did not already include it. Returns the new hash.
func (a *Adapter) CommitAll(message string) (string, error) {
	if !strings.HasPrefix(message, CommitPrefix) {
		message = CommitPrefix + message
	}
	w, err := a.repo.Worktree()
	if err != nil {
		return "", err
	}
	if err := w.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}
	status, err := w.Status()
	if err != nil {
		return "", err
	}
	if status.IsClean() {
		return "", fmt.Errorf("nothing to commit")
	}
	hash, err := w.Commit(message, &git.CommitOptions{Author: a.signature()})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return hash.String(), nil
}

// CurrentBranch returns the short name of the checked-out branch.
func (a *Adapter) CurrentBranch() (string, error) {
	ref, err := a.repo.Head()
	if err != nil {
		return "", err
	}
	return ref.Name().Short(), nil
}

// CreateBranch creates and checks out the named branch at HEAD. An
// existing branch is checked out as-is.
func (a *Adapter) CreateBranch(name string) error {
	w, err := a.repo.Worktree()
	if err != nil {
		return err
	}
	ref := plumbing.NewBranchReferenceName(name)
	err = w.Checkout(&git.CheckoutOptions{Branch: ref, Create: true})
	if err == nil {
		return nil
	}
	return w.Checkout(&git.CheckoutOptions{Branch: ref})
}

// Push pushes the named local branch, creating it upstream if needed.
// When the remote rejects and a Forker is configured, the adapter forks
// the repository, retargets origin, and pushes again.
func (a *Adapter) Push(ctx context.Context, branch string) error {
	err := a.push(ctx, branch)
	if err == nil {
		return nil
	}
	if a.Forker == nil || !isRejection(err) {
		return fmt.Errorf("%w: %v", ErrPush, err)
	}
	forkURL, ferr := a.Forker.EnsureFork(ctx, a.url)
	if ferr != nil {
		return fmt.Errorf("%w: %v (fork fallback: %v)", ErrPush, err, ferr)
	}
	log.Printf("vcs: push rejected, retargeting to fork %s", forkURL)
	if rerr := a.retargetOrigin(forkURL); rerr != nil {
		return fmt.Errorf("%w: %v", ErrPush, rerr)
	}
	if perr := a.push(ctx, branch); perr != nil {
		return fmt.Errorf("%w: %v", ErrPush, perr)
	}
	return nil
}

func (a *Adapter) push(ctx context.Context, branch string) error {
	cctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	refspec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err := a.repo.PushContext(cctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{refspec},
		Auth:       auth(a.token),
		Force:      true,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

func (a *Adapter) retargetOrigin(url string) error {
	if err := a.repo.DeleteRemote("origin"); err != nil && !errors.Is(err, git.ErrRemoteNotFound) {
		return err
	}
	_, err := a.repo.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})
	if err == nil {
		a.url = url
	}
	return err
}

// Diff returns the textual patch between two commits.
func (a *Adapter) Diff(hash1, hash2 string) (string, error) {
	c1, err := a.repo.CommitObject(plumbing.NewHash(hash1))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", hash1, err)
	}
	c2, err := a.repo.CommitObject(plumbing.NewHash(hash2))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", hash2, err)
	}
	t1, err := c1.Tree()
	if err != nil {
		return "", err
	}
	t2, err := c2.Tree()
	if err != nil {
		return "", err
	}
	patch, err := t1.Patch(t2)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := patch.Encode(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func auth(token string) transport.AuthMethod {
	if token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: token}
}

func isRejection(err error) bool {
	if err == nil {
		return false
	}
	m := err.Error()
	return strings.Contains(m, "authorization") ||
		strings.Contains(m, "authentication") ||
		strings.Contains(m, "403") ||
		strings.Contains(m, "denied") ||
		strings.Contains(m, "rejected")
}

func defaultSignature() *object.Signature {
	return &object.Signature{
		Name:  "healbot",
		Email: "agent@healbot.local",
		When:  time.Now(),
	}
}
