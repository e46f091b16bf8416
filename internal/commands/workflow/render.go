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
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	labelStyle  = lipgloss.NewStyle().Bold(true).Width(14)

	statusStyles = map[workflow.Status]lipgloss.Style{
		workflow.StatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		workflow.StatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		workflow.StatusBlocked:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		workflow.StatusCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		workflow.StatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		workflow.StatusCancelled:  lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	}
)

// renderStatus colors a workflow status for terminal output.
func renderStatus(s workflow.Status) string {
	if style, ok := statusStyles[s]; ok {
		return style.Render(string(s))
	}
	return string(s)
}

// renderWorkflowRow produces one list line: id, status, issue, worktree.
func renderWorkflowRow(wf workflow.Workflow) string {
	return fmt.Sprintf("%-36s  %-13s  %-20s  %s",
		wf.ID, renderStatus(wf.Status), wf.IssueID, wf.WorktreeName)
}

// renderWorkflowDetail formats a full workflow record as label/value lines.
func renderWorkflowDetail(wf workflow.Workflow) string {
	var b strings.Builder
	row := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(label), value)
	}
	row("ID", wf.ID)
	row("Issue", wf.IssueID)
	row("Status", renderStatus(wf.Status))
	row("Stage", wf.CurrentStage)
	row("Pipeline", wf.Pipeline)
	row("Profile", wf.Profile)
	row("Worktree", wf.WorktreePath)
	if wf.StartedAt != nil {
		row("Started", formatTimestamp(*wf.StartedAt))
	}
	if wf.CompletedAt != nil {
		row("Completed", formatTimestamp(*wf.CompletedAt))
	}
	row("Created", formatTimestamp(wf.CreatedAt))
	if wf.FailureReason != "" {
		row("Failure", wf.FailureReason)
	}
	return b.String()
}

// renderEvent formats one event log line.
func renderEvent(ev workflow.Event) string {
	line := fmt.Sprintf("%s  %4d  %-28s  %s",
		dimStyle.Render(formatTimestamp(ev.Timestamp)), ev.Sequence, ev.Type, ev.Message)
	return strings.TrimRight(line, " ")
}

func formatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

// formatDuration renders an elapsed time compactly, e.g. "2m 5s".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
