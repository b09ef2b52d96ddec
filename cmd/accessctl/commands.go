package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-access/internal/audit"
	"github.com/odyssey-erp/odyssey-access/internal/permissions"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
)

// Exit codes.
const (
	exitOK      = 0
	exitError   = 1
	exitUsage   = 2
	exitFinding = 10
)

// JobQueue enqueues and inspects background jobs.
type JobQueue interface {
	Trigger(ctx context.Context, name string, args []string) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context) (QueueStats, error)
}

// ChainVerifier checks the audit checksum chain.
type ChainVerifier interface {
	Verify(ctx context.Context) (audit.VerifyReport, error)
}

// Resolver computes effective permissions.
type Resolver interface {
	Resolve(ctx context.Context, userID int64) (permissions.Set, error)
}

// AnalyticsBumper discards cached analytics aggregates.
type AnalyticsBumper interface {
	Bump(ctx context.Context) (int64, error)
}

// CLI dispatches accessctl subcommands. Dependencies left nil make the
// commands that need them fail with a configuration error.
type CLI struct {
	Stdout    io.Writer
	Stderr    io.Writer
	Jobs      JobQueue
	Audit     ChainVerifier
	Resolver  Resolver
	Analytics AnalyticsBumper
}

const usage = `usage: accessctl [-json] <command>

commands:
  jobs trigger <name> [args...]   enqueue role-warmup <roleKey> or audit-verify
  jobs inspect                    show default queue statistics
  audit verify                    verify the audit checksum chain
  check [-any] <userID> <perm>... evaluate permissions for a user
  analytics refresh               discard cached analytics aggregates
`

// Run executes args and returns the process exit code.
func (c *CLI) Run(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("accessctl", flag.ContinueOnError)
	fs.SetOutput(c.Stderr)
	jsonOutput := fs.Bool("json", false, "print machine readable output")
	fs.Usage = func() { _, _ = fmt.Fprint(c.Stderr, usage) }
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return exitUsage
	}
	out := printer{w: c.Stdout, json: *jsonOutput}
	switch rest[0] {
	case "jobs":
		return c.jobs(ctx, out, rest[1:])
	case "audit":
		if len(rest) != 2 || rest[1] != "verify" {
			return c.usageError("audit: expected \"audit verify\"")
		}
		return c.verify(ctx, out)
	case "check":
		return c.check(ctx, out, rest[1:])
	case "analytics":
		if len(rest) != 2 || rest[1] != "refresh" {
			return c.usageError("analytics: expected \"analytics refresh\"")
		}
		return c.refreshAnalytics(ctx, out)
	default:
		return c.usageError(fmt.Sprintf("unknown command %q", rest[0]))
	}
}

func (c *CLI) jobs(ctx context.Context, out printer, args []string) int {
	if len(args) == 0 {
		return c.usageError("jobs: expected trigger or inspect")
	}
	if c.Jobs == nil {
		return c.fail("jobs: REDIS_ADDR is not configured")
	}
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return c.usageError("jobs trigger: job name required")
		}
		info, err := c.Jobs.Trigger(ctx, args[1], args[2:])
		if err != nil {
			return c.fail(fmt.Sprintf("jobs trigger: %v", err))
		}
		out.print(map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue},
			fmt.Sprintf("enqueued %s as %s on queue %s", info.Type, info.ID, info.Queue))
		return exitOK
	case "inspect":
		stats, err := c.Jobs.InspectQueue(ctx)
		if err != nil {
			return c.fail(fmt.Sprintf("jobs inspect: %v", err))
		}
		out.print(stats, fmt.Sprintf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived))
		return exitOK
	default:
		return c.usageError(fmt.Sprintf("jobs: unknown subcommand %q", args[0]))
	}
}

func (c *CLI) verify(ctx context.Context, out printer) int {
	if c.Audit == nil {
		return c.fail("audit verify: audit store not configured")
	}
	report, err := c.Audit.Verify(ctx)
	if err != nil {
		return c.fail(fmt.Sprintf("audit verify: %v", err))
	}
	if report.Valid {
		out.print(report, fmt.Sprintf("audit chain intact (%d entries)", report.Checked))
		return exitOK
	}
	out.print(report, fmt.Sprintf("audit chain broken at entry %d: %s", report.BrokenAt, report.Problem))
	return exitFinding
}

type checkResult struct {
	UserID      int64    `json:"userId"`
	Mode        string   `json:"mode"`
	Permissions []string `json:"permissions"`
	Allowed     bool     `json:"allowed"`
}

func (c *CLI) check(ctx context.Context, out printer, args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(c.Stderr)
	anyMode := fs.Bool("any", false, "allow when any permission is held")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	rest := fs.Args()
	if len(rest) < 2 {
		return c.usageError("check: expected <userID> <perm>...")
	}
	userID, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil || userID <= 0 {
		return c.usageError(fmt.Sprintf("check: invalid user id %q", rest[0]))
	}
	if c.Resolver == nil {
		return c.fail("check: resolver not configured")
	}
	set, err := c.Resolver.Resolve(ctx, userID)
	if err != nil {
		return c.fail(fmt.Sprintf("check: %v", err))
	}
	result := checkResult{UserID: userID, Mode: "all", Permissions: rest[1:]}
	if *anyMode {
		result.Mode = "any"
		result.Allowed = rbac.AuthorizeAny(set, result.Permissions...)
	} else {
		result.Allowed = rbac.Authorize(set, result.Permissions...)
	}
	verdict := "denied"
	if result.Allowed {
		verdict = "allowed"
	}
	out.print(result, fmt.Sprintf("user %d %s (%s of %s)", userID, verdict, result.Mode, strings.Join(result.Permissions, ", ")))
	if !result.Allowed {
		return exitFinding
	}
	return exitOK
}

func (c *CLI) refreshAnalytics(ctx context.Context, out printer) int {
	if c.Analytics == nil {
		return c.fail("analytics refresh: analytics cache not configured")
	}
	version, err := c.Analytics.Bump(ctx)
	if err != nil {
		return c.fail(fmt.Sprintf("analytics refresh: %v", err))
	}
	if version == 0 {
		out.print(map[string]int64{"version": 0}, "analytics cache disabled, nothing to refresh")
		return exitOK
	}
	out.print(map[string]int64{"version": version}, fmt.Sprintf("analytics cache now at version %d", version))
	return exitOK
}

func (c *CLI) usageError(msg string) int {
	_, _ = fmt.Fprintf(c.Stderr, "accessctl: %s\n\n%s", msg, usage)
	return exitUsage
}

func (c *CLI) fail(msg string) int {
	_, _ = fmt.Fprintf(c.Stderr, "accessctl: %s\n", msg)
	return exitError
}

type printer struct {
	w    io.Writer
	json bool
}

func (p printer) print(v any, human string) {
	if p.json {
		_ = json.NewEncoder(p.w).Encode(v)
		return
	}
	_, _ = fmt.Fprintln(p.w, human)
}
