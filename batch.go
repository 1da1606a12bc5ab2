package main

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
)

// AccountTask runs one command for one account and returns its output text.
type AccountTask func(ctx context.Context, sess *Session) (string, error)

// RunForAccounts runs task for every session, at most limit at a time. A
// failing account never stops the others. Each non-empty output or error is
// returned as one line tagged with the account name, in session order, along
// with the number of accounts that failed.
func RunForAccounts(ctx context.Context, sessions []*Session, limit int, task AccountTask) ([]string, int) {
	results := make([]string, len(sessions))
	failed := make([]bool, len(sessions))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, sess := range sessions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = FormatAccountResponse(sess.Name, T("error_prefix"), err)
				failed[i] = true
				return nil
			}

			out, err := task(ctx, sess)
			switch {
			case err != nil:
				results[i] = FormatAccountResponse(sess.Name, T("error_prefix"), err)
				failed[i] = true
			case strings.TrimSpace(out) != "":
				results[i] = FormatAccountResponse(sess.Name, "%s", out)
			}
			return nil
		})
	}
	_ = g.Wait()

	lines := results[:0]
	failures := 0
	for i, r := range results {
		if failed[i] {
			failures++
		}
		if r != "" {
			lines = append(lines, r)
		}
	}
	return lines, failures
}
