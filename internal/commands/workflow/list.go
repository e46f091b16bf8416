// Copyright 2025 The Amelia Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewListCommand creates the list command.
func NewListCommand(opts *GlobalOptions) *cobra.Command {
	var (
		status string
		limit  int
		cursor string
		active bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		Long: `List workflows, most recently started first.

Examples:
  # All workflows
  amelia list

  # Only failures
  amelia list --status failed

  # Next page
  amelia list --cursor <cursor-from-previous-page>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cl, err := opts.newClient()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			if active {
				resp, err := cl.ActiveWorkflows(ctx)
				if err != nil {
					return err
				}
				if opts.JSON {
					return printJSON(out, resp)
				}
				if resp.Count == 0 {
					fmt.Fprintln(out, "No active workflows")
					return nil
				}
				fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%-36s  %-13s  %-20s  %s", "ID", "STATUS", "ISSUE", "WORKTREE")))
				for _, wf := range resp.Workflows {
					fmt.Fprintln(out, renderWorkflowRow(wf))
				}
				return nil
			}

			result, err := cl.ListWorkflows(ctx, status, cursor, limit)
			if err != nil {
				return err
			}
			if opts.JSON {
				return printJSON(out, result)
			}
			if len(result.Workflows) == 0 {
				fmt.Fprintln(out, "No workflows")
				return nil
			}
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%-36s  %-13s  %-20s  %s", "ID", "STATUS", "ISSUE", "WORKTREE")))
			for _, wf := range result.Workflows {
				fmt.Fprintln(out, renderWorkflowRow(wf))
			}
			if result.HasMore {
				fmt.Fprintln(out, dimStyle.Render("More results: amelia list --cursor "+result.Cursor))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, in_progress, blocked, completed, failed, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size (default 50, max 200)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from a previous page")
	cmd.Flags().BoolVar(&active, "active", false, "Show only active workflows")

	return cmd
}
