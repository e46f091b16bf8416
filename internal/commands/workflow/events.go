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

// NewEventsCommand creates the events command.
func NewEventsCommand(opts *GlobalOptions) *cobra.Command {
	var since int64

	cmd := &cobra.Command{
		Use:   "events <workflow-id>",
		Short: "Show a workflow's event log",
		Long: `Show a workflow's event log in sequence order.

Examples:
  # Full log
  amelia events 4b2c0f3a-...

  # Only events after sequence 12
  amelia events 4b2c0f3a-... --since 12`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := opts.newClient()
			if err != nil {
				return err
			}
			resp, err := cl.Events(cmd.Context(), args[0], since)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.JSON {
				return printJSON(out, resp)
			}
			if resp.Count == 0 {
				fmt.Fprintln(out, "No events")
				return nil
			}
			for _, ev := range resp.Events {
				fmt.Fprintln(out, renderEvent(ev))
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&since, "since", 0, "Only show events with sequence greater than this")

	return cmd
}
