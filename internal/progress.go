package internal

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// UIManager handles all user interface concerns (progress, verbose output, prompts)
type UIManager interface {
	NewProgressBar(total int, description string) ProgressBar
	NewSpinner(description string) ProgressBar

	Verbose(format string, args ...any)
	Printf(format string, args ...any)
	Println(args ...any)
}

// ProgressBar interface abstracts progress bar and spinner operations
type ProgressBar interface {
	Set(current int)
	Describe(description string)
	Advance()
	Finish()
}

// StandardUIManager writes to stdout unless quiet or not attached to a terminal
type StandardUIManager struct {
	verbose     bool
	quiet       bool
	interactive bool
}

func NewUIManager(verbose, quiet bool) UIManager {
	fd := os.Stdout.Fd()
	return &StandardUIManager{
		verbose:     verbose,
		quiet:       quiet,
		interactive: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
	}
}

// showProgress reports whether bars and spinners should render. Verbose output
// would interleave with them, so verbose runs print plain lines instead.
func (ui *StandardUIManager) showProgress() bool {
	return !ui.quiet && !ui.verbose && ui.interactive
}

func (ui *StandardUIManager) NewProgressBar(total int, description string) ProgressBar {
	if !ui.showProgress() {
		return silentBar{}
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
	return &visibleBar{bar: bar}
}

// NewSpinner returns an indeterminate indicator; Advance ticks it.
func (ui *StandardUIManager) NewSpinner(description string) ProgressBar {
	if !ui.showProgress() {
		return silentBar{}
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetWriter(os.Stderr),
	)
	_ = bar.RenderBlank()
	return &visibleBar{bar: bar}
}

func (ui *StandardUIManager) Verbose(format string, args ...any) {
	if ui.verbose {
		fmt.Printf(format, args...)
	}
}

func (ui *StandardUIManager) Printf(format string, args ...any) {
	if !ui.quiet {
		fmt.Printf(format, args...)
	}
}

func (ui *StandardUIManager) Println(args ...any) {
	if !ui.quiet {
		fmt.Println(args...)
	}
}

type visibleBar struct {
	bar *progressbar.ProgressBar
}

func (v *visibleBar) Set(current int) {
	_ = v.bar.Set(current)
}

func (v *visibleBar) Describe(description string) {
	v.bar.Describe(description)
}

func (v *visibleBar) Advance() {
	_ = v.bar.Add(1)
}

func (v *visibleBar) Finish() {
	_ = v.bar.Finish()
}

// silentBar discards all progress
type silentBar struct{}

func (silentBar) Set(int)         {}
func (silentBar) Describe(string) {}
func (silentBar) Advance()        {}
func (silentBar) Finish()         {}
