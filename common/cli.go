// Package common provides shared utilities for the command line tools.
package common

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/colorprofile"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

// UsageClassifier reports whether an error was caused by how the command
// was invoked, in which case the usage help follows the error.
type UsageClassifier func(error) bool

// ExecuteWithFang runs cmd through fang.  A nil isUsage only treats flag
// parsing errors as usage errors.
func ExecuteWithFang(cmd *cobra.Command, isUsage UsageClassifier) {
	if isUsage == nil {
		isUsage = IsFlagError
	}
	if err := fang.Execute(
		context.Background(),
		cmd,
		fang.WithVersion(versioninfo.Short()),
		fang.WithErrorHandler(ErrorHandlerWithUsage(cmd, isUsage)),
	); err != nil {
		os.Exit(1)
	}
}

// ErrorHandlerWithUsage prints the error, then either the full help of cmd
// or a pointer to --help.
func ErrorHandlerWithUsage(cmd *cobra.Command, isUsage UsageClassifier) fang.ErrorHandler {
	return func(w io.Writer, styles fang.Styles, err error) {
		_, _ = fmt.Fprintln(w, styles.ErrorHeader.String())
		_, _ = fmt.Fprintln(w, styles.ErrorText.Render(err.Error()+"."))
		_, _ = fmt.Fprintln(w)

		if isUsage(err) {
			cmd.SetOut(colorprofile.NewWriter(w, os.Environ()))
			_ = cmd.Help()
			return
		}
		_, _ = fmt.Fprintln(w, lipgloss.JoinHorizontal(
			lipgloss.Left,
			styles.ErrorText.UnsetWidth().Render("Try"),
			styles.Program.Flag.Render("--help"),
			styles.ErrorText.UnsetWidth().UnsetMargins().UnsetTransform().PaddingLeft(1).Render("for usage."),
		))
		_, _ = fmt.Fprintln(w)
	}
}

// IsFlagError returns true for the errors cobra and pflag report while
// parsing the command line.
func IsFlagError(err error) bool {
	s := err.Error()
	for _, prefix := range []string{
		"flag needs an argument:",
		"unknown flag:",
		"unknown shorthand flag:",
		"unknown command",
		"bad flag syntax:",
	} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	// pflag: invalid argument "x" for "-n, --messages" flag: ...
	return strings.HasPrefix(s, "invalid argument \"") && strings.Contains(s, "\" flag: ")
}
