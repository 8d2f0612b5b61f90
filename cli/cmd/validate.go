package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"apkforge/api/model"
	"apkforge/cli/style"
)

var validateCmd = &cobra.Command{
	Use:     "validate",
	Short:   "Run the server's preflight checks of the build environment",
	Aliases: []string{"check", "preflight"},
	Args:    cobra.NoArgs,
	RunE:    runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	result, err := client.Validate()
	if err != nil {
		return fmt.Errorf("failed to validate: %w", err)
	}

	fmt.Println(style.Banner.Render("⚡ APKFORGE VALIDATE"))
	fmt.Println()
	printResult(result)
	fmt.Println()

	if !result.Valid() {
		fmt.Println(style.ErrorBox.Render("  "+result.Summary()+"  "))
		return fmt.Errorf("preflight failed")
	}
	fmt.Println(style.SuccessBox.Render("  Build environment ready  "))
	return nil
}

func printResult(r *model.ValidationResult) {
	name := style.Bold.Render(padRight(r.Subject, 24))

	if r.Errors == 0 && r.Warnings == 0 {
		fmt.Printf("  %s %s\n", name, style.Healthy.Render("PASS"))
	} else {
		var parts []string
		if r.Errors > 0 {
			parts = append(parts, style.Unhealthy.Render(fmt.Sprintf("FAIL  %d error(s)", r.Errors)))
		}
		if r.Warnings > 0 {
			parts = append(parts, style.Warning.Render(fmt.Sprintf("%d warning(s)", r.Warnings)))
		}
		fmt.Printf("  %s %s\n", name, strings.Join(parts, "  "))
	}

	for _, f := range r.Findings {
		dot := style.DotDim
		switch f.Severity {
		case model.SeverityError:
			dot = style.DotUnhealthy
		case model.SeverityWarning:
			dot = style.DotWarning
		}

		tag := ""
		if f.Field != "" {
			tag = " " + style.DimText.Render("["+f.Field+"]")
		}

		fmt.Printf("    %s %s%s\n", dot, f.Message, tag)
	}
}
