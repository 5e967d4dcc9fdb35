package pipeline

import (
	"strconv"
	"strings"
	"time"

	"postpilot/internal/domain"
)

// CommandKind tags the closed vocabulary of approval-flow commands.
type CommandKind string

const (
	CmdSelect      CommandKind = "select"
	CmdApprove     CommandKind = "approve"
	CmdPostNow     CommandKind = "post_now"
	CmdEditCaption CommandKind = "edit_caption"
	CmdRedo        CommandKind = "redo"
	CmdSchedule    CommandKind = "schedule"
	CmdCancel      CommandKind = "cancel"
	CmdExtend      CommandKind = "extend"
	CmdForceVideo  CommandKind = "force_video"
	CmdForceImage  CommandKind = "force_image"
	CmdClarify     CommandKind = "clarify"
)

// Command is the tagged result of interpreting one user reply. Free text never
// reaches the state machine; only these variants do.
type Command struct {
	Kind        CommandKind
	Index       int
	Instruction string
	StyleHint   string
	At          *time.Time
}

var scheduleLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"Jan 2 15:04",
}

// Interpret maps a free-text reply onto a command, given the job's current
// status. The same token can mean different things in different states: "2"
// selects variant 2 only while a selection is pending. Anything unrecognized
// yields a clarify command, never an error.
func Interpret(text string, status domain.JobStatus) Command {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return Command{Kind: CmdClarify}
	}

	if idx, err := strconv.Atoi(lower); err == nil {
		if selectionState(status) && idx >= 1 {
			return Command{Kind: CmdSelect, Index: idx}
		}
		return Command{Kind: CmdClarify}
	}

	switch {
	case lower == "approve":
		return Command{Kind: CmdApprove}
	case lower == "post now" || lower == "post":
		return Command{Kind: CmdPostNow}
	case lower == "cancel":
		return Command{Kind: CmdCancel}
	case lower == "redo":
		return Command{Kind: CmdRedo}
	case strings.HasPrefix(lower, "redo "):
		return Command{Kind: CmdRedo, StyleHint: strings.TrimSpace(text[len("redo "):])}
	case lower == "edit caption":
		return Command{Kind: CmdEditCaption}
	case strings.HasPrefix(lower, "edit caption "):
		return Command{Kind: CmdEditCaption, Instruction: strings.TrimSpace(text[len("edit caption "):])}
	case lower == "extend":
		return Command{Kind: CmdExtend}
	case strings.HasPrefix(lower, "extend "):
		arg := strings.TrimSpace(lower[len("extend "):])
		if idx, err := strconv.Atoi(arg); err == nil && idx >= 1 {
			return Command{Kind: CmdExtend, Index: idx}
		}
		return Command{Kind: CmdClarify}
	case lower == "schedule":
		return Command{Kind: CmdSchedule}
	case strings.HasPrefix(lower, "schedule "):
		arg := strings.TrimSpace(text[len("schedule "):])
		if at, ok := parseScheduleTime(arg); ok {
			return Command{Kind: CmdSchedule, At: &at}
		}
		return Command{Kind: CmdClarify}
	}

	if kind, ok := DetectOverride(lower); ok {
		if kind == domain.MediaKindVideo {
			return Command{Kind: CmdForceVideo}
		}
		return Command{Kind: CmdForceImage}
	}

	return Command{Kind: CmdClarify}
}

// selectionState reports whether numeric tokens act as variant selection. A
// flagged job accepts selection too: picking a flagged variant there is the
// explicit human override the gate requires.
func selectionState(status domain.JobStatus) bool {
	return status == domain.JobStatusAwaitingSelection || status == domain.JobStatusNeedsReview
}

func parseScheduleTime(arg string) (time.Time, bool) {
	for _, layout := range scheduleLayouts {
		if at, err := time.Parse(layout, arg); err == nil {
			if layout == "Jan 2 15:04" {
				now := time.Now()
				at = time.Date(now.Year(), at.Month(), at.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
			}
			return at, true
		}
	}
	if d, err := time.ParseDuration(arg); err == nil && d > 0 {
		return time.Now().Add(d), true
	}
	return time.Time{}, false
}

// ClarifyPrompt returns the re-prompt shown when input was not understood in
// the job's current state.
func ClarifyPrompt(status domain.JobStatus) string {
	switch status {
	case domain.JobStatusAwaitingSelection:
		return "Reply with a variant number, 'redo', or 'cancel'."
	case domain.JobStatusNeedsReview:
		return "These came out flagged. Pick one anyway by number, or reply 'redo' or 'cancel'."
	case domain.JobStatusAwaitingApproval:
		return "Reply 'approve', 'post now', 'edit caption <notes>', 'redo', 'schedule <time>', or 'cancel'."
	default:
		return "I didn't catch that. Send a reference link with product photos to start a post."
	}
}
