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
	"sort"
	"time"

	"github.com/spf13/cobra"
)

// NewHealthCommand creates the health command.
func NewHealthCommand(opts *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show the daemon's health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := opts.newClient()
			if err != nil {
				return err
			}
			resp, err := cl.Health(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.JSON {
				return printJSON(out, resp)
			}

			fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Status"), resp.Status)
			fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Uptime"), formatDuration(time.Duration(resp.UptimeSeconds)*time.Second))
			fmt.Fprintf(out, "%s %d\n", labelStyle.Render("Active"), resp.ActiveWorkflows)
			if resp.Draining {
				fmt.Fprintf(out, "%s yes\n", labelStyle.Render("Draining"))
			}

			if len(resp.WorkflowCounts) > 0 {
				statuses := make([]string, 0, len(resp.WorkflowCounts))
				for s := range resp.WorkflowCounts {
					statuses = append(statuses, s)
				}
				sort.Strings(statuses)
				fmt.Fprintln(out)
				fmt.Fprintln(out, headerStyle.Render("Workflows"))
				for _, s := range statuses {
					fmt.Fprintf(out, "  %-13s %d\n", s, resp.WorkflowCounts[s])
				}
			}

			if len(resp.Checks) > 0 {
				names := make([]string, 0, len(resp.Checks))
				for n := range resp.Checks {
					names = append(names, n)
				}
				sort.Strings(names)
				fmt.Fprintln(out)
				fmt.Fprintln(out, headerStyle.Render("Checks"))
				for _, n := range names {
					fmt.Fprintf(out, "  %-13s %s\n", n, resp.Checks[n])
				}
			}
			return nil
		},
	}
	return cmd
}
