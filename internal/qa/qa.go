// Package qa decides whether a coding phase's output is fit to merge.
//
// The pipeline consumes the Gate interface and never cares how checks
// are performed. PolicyGate is the bundled implementation: it inspects
// the task's worktree and judges the collected issues against a
// reloadable policy.
package qa

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loomd/internal/task"
)

// CheckRequest identifies the work a gate should examine.
type CheckRequest struct {
	TaskID       string
	Title        string
	WorktreePath string
}

// Gate runs QA against a task and reports the outcome. Implementations
// must be safe for concurrent use; the pipeline calls Run from every
// in-flight execution.
type Gate interface {
	Run(ctx context.Context, req CheckRequest) (*task.QaReport, error)
}

// PolicyGate judges tasks against a Policy.
type PolicyGate struct {
	logger *zap.Logger

	mu     sync.RWMutex
	policy Policy
}

// NewPolicyGate creates a gate with the given starting policy.
func NewPolicyGate(policy Policy, logger *zap.Logger) *PolicyGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PolicyGate{
		logger: logger,
		policy: policy,
	}
}

// Policy returns the active policy.
func (g *PolicyGate) Policy() Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.policy
}

// SetPolicy swaps the active policy. Runs already in flight keep the
// policy they started with.
func (g *PolicyGate) SetPolicy(policy Policy) {
	g.mu.Lock()
	g.policy = policy
	g.mu.Unlock()
}

// Run inspects the worktree when the task has one and judges the
// collected issues against the active policy.
func (g *PolicyGate) Run(ctx context.Context, req CheckRequest) (*task.QaReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	policy := g.Policy()

	var issues []task.QaIssue
	if req.WorktreePath != "" {
		issues = append(issues, g.inspectWorktree(req.WorktreePath))
	}

	status := judge(policy, issues)
	g.logger.Debug("qa gate verdict",
		zap.String("task_id", req.TaskID),
		zap.String("status", string(status)),
		zap.Int("issues", len(issues)),
	)
	return task.NewQaReport(req.TaskID, status, issues), nil
}

// inspectWorktree flags the worktree for review. The note carries the
// HEAD branch when the path is a readable repository.
func (g *PolicyGate) inspectWorktree(path string) task.QaIssue {
	issue := task.QaIssue{
		ID:       uuid.NewString(),
		Severity: task.SeverityMinor,
		File:     path,
	}

	repo, err := git.PlainOpen(path)
	if err != nil {
		issue.Description = fmt.Sprintf("worktree %s is not an inspectable repository: %v", path, err)
		return issue
	}

	head, err := repo.Head()
	if err != nil || !head.Name().IsBranch() {
		issue.Description = fmt.Sprintf("review worktree %s before merge (detached HEAD)", path)
		return issue
	}

	issue.Description = fmt.Sprintf("review worktree %s (branch %s) before merge", path, head.Name().Short())
	return issue
}

// judge applies the policy thresholds: failed beats passed beats
// pending, and pending covers any report carrying only tolerated
// issues.
func judge(policy Policy, issues []task.QaIssue) task.Status {
	var critical, major int
	for _, issue := range issues {
		switch issue.Severity {
		case task.SeverityCritical:
			critical++
		case task.SeverityMajor:
			major++
		}
	}

	switch {
	case policy.FailOnCritical && critical > 0:
		return task.StatusFailed
	case major > policy.MaxMajorIssues:
		return task.StatusFailed
	case len(issues) == 0:
		return task.StatusPassed
	default:
		return task.StatusPending
	}
}
