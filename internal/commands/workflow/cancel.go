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

// NewCancelCommand creates the cancel command.
func NewCancelCommand(opts *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <workflow-id>",
		Short: "Cancel a workflow",
		Long: `Cancel a workflow. Cancelling an already-terminal workflow is a
no-op and reports the current status.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := opts.newClient()
			if err != nil {
				return err
			}
			wf, err := cl.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.JSON {
				return printJSON(cmd.OutOrStdout(), wf)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Workflow %s is %s\n", wf.ID, renderStatus(wf.Status))
			return nil
		},
	}
	return cmd
}
