package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// echoThreshold is the Jaro-Winkler similarity above which a transcript
// window counts as an echo of a suggestion.
const echoThreshold = 0.84

// EchoDetector flags transcript text that closely tracks a recently merged
// suggestion. Purely observational: the result is surfaced as telemetry so a
// supervisor can see whether hints landed, never fed back into generation.
//
// Incremental text arrives a few characters per step, so the detector keeps a
// sliding window roughly the length of the armed hint and scores the window,
// not individual increments.
type EchoDetector struct {
	hint   string
	window []rune
}

// Arm sets the suggestion text to watch for, resetting the window. An empty
// hint disarms the detector.
func (d *EchoDetector) Arm(hint string) {
	d.hint = normalize(hint)
	d.window = d.window[:0]
}

// Armed reports whether a hint is being watched for.
func (d *EchoDetector) Armed() bool { return d.hint != "" }

// Observe appends an increment of transcript text and reports whether the
// current window echoes the armed hint. Once an echo is detected the detector
// disarms itself.
func (d *EchoDetector) Observe(text string) bool {
	if d.hint == "" {
		return false
	}
	d.window = append(d.window, []rune(normalize(text))...)
	limit := 2 * len([]rune(d.hint))
	if over := len(d.window) - limit; over > 0 {
		d.window = d.window[over:]
	}
	if len(d.window) < len([]rune(d.hint))/2 {
		return false
	}

	if matchr.JaroWinkler(string(d.window), d.hint, false) >= echoThreshold {
		d.hint = ""
		d.window = d.window[:0]
		return true
	}
	return false
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
