// Package layout turns printer values into fixed 16x2 screen lines. Every
// function is pure; the returned lines are already cut to fit their row.
package layout

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/harveysanders/printerlcd/lcd1602/lcd"
	"github.com/harveysanders/printerlcd/lcd1602/octoprint"
)

// Line is text placed at a cursor position.
type Line struct {
	Row  int
	Col  int
	Text string
}

// ProgressGlyph prints the progress block registered in lcd.ProgressSlot.
const ProgressGlyph = rune(lcd.ProgressSlot)

// Fixed texts.
const (
	ConnectedHeader   = "Connected to:"
	Farewell          = "Bye bye ^_^"
	CompletionMessage = "Job is Done"
	CompletionCheer   = `\,,/(^_^)\,,/`
)

// CompletionFrames is the face animation shown when a job reaches 100%.
// Frame i is drawn at row 1, column i.
var CompletionFrames = [...]string{
	"^_-", "^_^", "-_^", "^_^", "0_0", "-_-", "^_-",
	"^_^", "@_@", "*_*", "$_$", "<_<", ">_>",
}

var stateLabels = map[octoprint.State]string{
	octoprint.StateOffline:        "not connected",
	octoprint.StateOperational:    "Operational",
	octoprint.StateCancelling:     "Cancelling job",
	octoprint.StatePrintCancelled: "Job Cancelled",
	octoprint.StatePaused:         "Paused",
	octoprint.StateResuming:       "Resuming",
}

// Completion lays out the screen left after the completion animation.
func Completion() []Line {
	return []Line{
		line(0, 0, CompletionMessage),
		line(1, 0, CompletionCheer),
	}
}

// Fit truncates text to the columns left on a row starting at col.
func Fit(col int, text string) string {
	room := lcd.Cols - col
	if room <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= room {
		return text
	}
	return string([]rune(text)[:room])
}

// Temperature renders a tool temperature as "T:NNN°". NaN means the value
// is unknown and renders as "T:---°".
func Temperature(actual float64) string {
	if math.IsNaN(actual) {
		return "T:---°"
	}
	return fmt.Sprintf("T:%3.0f°", actual)
}

// ProgressHeader renders the first row of the progress screen.
func ProgressHeader(actual float64, percent int) string {
	return fmt.Sprintf("%s P:%3d%%", Temperature(actual), clampPercent(percent))
}

// ProgressBar returns the number of blocks for percent and the string
// drawing them. The count is floor(percent/6.25)+1, capped at the row width
// so 100% draws a full row instead of 17 blocks.
func ProgressBar(percent int) (int, string) {
	n := clampPercent(percent)*4/25 + 1
	if n > lcd.Cols {
		n = lcd.Cols
	}
	return n, strings.Repeat(string(ProgressGlyph), n)
}

// RemainingTime formats seconds as H:MM:SS. Hours are not wrapped into
// days; negative input renders as zero.
func RemainingTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d:%02d", seconds/3600, seconds/60%60, seconds%60)
}

// Progress lays out the print progress screen. The estimate is drawn over
// the bar at (1, 3) only while the job is still running and est is known.
func Progress(actual float64, percent int, est int, estKnown bool) []Line {
	_, bar := ProgressBar(percent)
	lines := []Line{
		line(0, 0, ProgressHeader(actual, percent)),
		line(1, 0, bar),
	}
	if percent < 100 && estKnown {
		lines = append(lines, line(1, 3, RemainingTime(est)))
	}
	return lines
}

// Connected lays out the connection screen. The header starts at column 7
// and is cut to what fits there.
func Connected(port string) []Line {
	return []Line{
		line(0, 7, ConnectedHeader),
		line(1, 0, port),
	}
}

// StateLabel is the text shown on row 1 for a printer state. ok is false
// for states that have no screen.
func StateLabel(state octoprint.State) (label string, ok bool) {
	label, ok = stateLabels[state]
	return label, ok
}

// StateLine returns the row 1 line for state.
func StateLine(state octoprint.State) (Line, bool) {
	label, ok := StateLabel(state)
	if !ok {
		return Line{}, false
	}
	return line(1, 0, label), true
}

func line(row, col int, text string) Line {
	return Line{Row: row, Col: col, Text: Fit(col, text)}
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
