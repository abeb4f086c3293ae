// cmd/display.go - console progress and hunt report
package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/CodeMonkeyCybersecurity/oidhunt/internal/config"
	"github.com/CodeMonkeyCybersecurity/oidhunt/internal/probe"
	"github.com/CodeMonkeyCybersecurity/oidhunt/pkg/objectid"
	"github.com/fatih/color"
)

// attemptWidth pads the in-place progress line so a shorter line fully
// overwrites the previous one.
const attemptWidth = 60

var (
	infoColor    = color.New(color.FgCyan)
	bucketColor  = color.New(color.FgBlue)
	successColor = color.New(color.FgGreen, color.Bold)
	warnColor    = color.New(color.FgYellow)
	dimColor     = color.New(color.FgHiBlack)
)

// console renders hunt progress the way an operator watches it: one line per
// timestamp bucket and a single line rewritten for every attempt.
type console struct {
	out      io.Writer
	lineOpen bool
	failed   int
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

// Banner prints the decomposition of the base identifier.
func (c *console) Banner(endpoint string, base objectid.ID, total int) {
	infoColor.Fprintf(c.out, "[*] Starting IDOR hunt against %s\n", endpoint)
	infoColor.Fprintf(c.out, "[*] Using base ObjectId: %s\n", base)
	infoColor.Fprintf(c.out, "[*] Derived base timestamp (Unix): %d (%s)\n", base.Timestamp, formatTime(base.Time()))
	infoColor.Fprintf(c.out, "[*] Derived base random bytes (hex): %s\n", base.RandomHex())
	infoColor.Fprintf(c.out, "[*] Derived base counter (decimal): %d\n", base.Counter)
	infoColor.Fprintf(c.out, "[*] Candidates to try: %d\n", total)
}

func (c *console) OnTimestamp(id objectid.ID) {
	c.closeLine()
	bucketColor.Fprintf(c.out, "\n[+] Testing timestamp: %s (Unix: %d)\n", formatTime(id.Time()), id.Timestamp)
}

func (c *console) OnAttempt(id string, attempt, total int) {
	c.lineOpen = true
	line := fmt.Sprintf("    [>] Trying: %s (%d/%d)", id, attempt, total)
	if c.failed > 0 {
		line += fmt.Sprintf(" [%d failed]", c.failed)
	}
	fmt.Fprintf(c.out, "%-*s\r", attemptWidth, line)
}

// OnOutcome counts requests that never produced a response.
func (c *console) OnOutcome(o probe.Outcome) {
	if o.Kind == probe.OutcomeTimeout || o.Kind == probe.OutcomeTransport {
		c.failed++
	}
}

// Result prints the final report: the found account or exhaustion advice.
func (c *console) Result(result *probe.Result, target config.TargetConfig) {
	c.closeLine()

	if result.Found() {
		successColor.Fprintf(c.out, "\n[!!!] SUCCESS! Found %s!\n", target.SecretField)
		fmt.Fprintf(c.out, "    Guessed ObjectId: %s\n", result.ID)
		fmt.Fprintf(c.out, "    URL: %s\n", result.URL)
		fmt.Fprintf(c.out, "    Attempts: %d in %s\n", result.Attempts, result.Elapsed.Round(time.Millisecond))
		fmt.Fprintf(c.out, "    Account Data:\n%s", result.PrettyBody())
		return
	}

	warnColor.Fprintf(c.out, "\n[*] Exhausted all %d guesses in the defined ranges. %s not found.\n", result.Attempts, target.SecretField)
	if n := result.Misses[probe.OutcomeTimeout] + result.Misses[probe.OutcomeTransport]; n > 0 {
		warnColor.Fprintf(c.out, "[*] %d requests failed to complete (timeouts or connection errors).\n", n)
	}
	fmt.Fprintln(c.out, "[*] Consider widening --ts-max and --counter-max.")
	fmt.Fprintf(c.out, "[*] Also, ensure --host (%s) is correct for your current challenge instance.\n", target.Host)
}

// Interrupted reports a hunt stopped by a signal.
func (c *console) Interrupted(result *probe.Result) {
	c.closeLine()
	attempts := 0
	if result != nil {
		attempts = result.Attempts
	}
	warnColor.Fprintf(c.out, "\n[!] Interrupted after %d attempts\n", attempts)
}

func (c *console) ReportWritten(path string) {
	dimColor.Fprintf(c.out, "[*] Report written to %s\n", path)
}

// closeLine moves past an open in-place progress line.
func (c *console) closeLine() {
	if c.lineOpen {
		fmt.Fprintln(c.out)
		c.lineOpen = false
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
