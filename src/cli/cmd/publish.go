package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/henn-dt/stevedore/src/build"
	"github.com/henn-dt/stevedore/src/credential"
	"github.com/henn-dt/stevedore/src/output"
	"github.com/henn-dt/stevedore/src/publish"
)

var (
	pubVariants    []string
	pubPlatforms   []string
	pubDryRun      bool
	pubJSON        bool
	pubTimeout     int
	pubRetries     int
	pubConcurrency int
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Build and publish all configured variants",
	Long: `Build each configured variant for its platform set, push every resolved
tag through a single authenticated registry session, and confirm each push
by comparing manifest digests.

Exit codes: 0 success, 2 config/credentials, 3 auth, 4 build, 5 push,
6 digest mismatch, 7 timeout.`,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringSliceVar(&pubVariants, "variant", nil, "restrict to named variants")
	publishCmd.Flags().StringSliceVar(&pubPlatforms, "platform", nil, "override platforms (comma-separated)")
	publishCmd.Flags().BoolVar(&pubDryRun, "dry-run", false, "show resolved targets without building or pushing")
	publishCmd.Flags().BoolVar(&pubJSON, "json", false, "write the machine-readable summary to stdout")
	publishCmd.Flags().IntVar(&pubTimeout, "timeout", 0, "override push timeout in seconds")
	publishCmd.Flags().IntVar(&pubRetries, "retries", 0, "override push retry attempts")
	publishCmd.Flags().IntVar(&pubConcurrency, "concurrency", 0, "override build concurrency limit")

	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	applyPublishOverrides()
	if err := cfg.Validate(); err != nil {
		return err
	}

	w := os.Stdout
	color := output.UseColor()
	start := time.Now()

	output.ContextBlock(w, output.CIContext())

	// Version detection is best-effort: outside a git repo, tag templates
	// that reference version fields fail at resolution instead.
	vi, _ := build.DetectVersion(".")

	names := pubVariants
	if len(names) == 0 {
		for _, v := range cfg.Variants {
			names = append(names, v.Name)
		}
	}

	if pubDryRun {
		return renderPlan(w, color, names, vi)
	}

	bx := build.NewBuildx(verbose)
	if !verbose {
		bx.Stdout = io.Discard
		bx.Stderr = io.Discard
	}

	source := credential.EnvSource{
		Server: cfg.Registry,
		Prefix: cfg.Credentials,
		Email:  cfg.Email,
	}
	invoker := build.NewInvoker(bx, cfg, vi)
	publisher := publish.NewPublisher(bx, cfg.RetryAttempts, time.Duration(cfg.PushTimeoutSeconds)*time.Second)
	auth := &publish.DockerAuthenticator{Engine: bx, Repository: cfg.Repository}
	orch := publish.NewOrchestrator(cfg, source, auth, invoker, publisher, vi)

	// Operator abort propagates to every in-flight build and push.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	output.SectionStart(w, "sv_publish", "Publish")
	sum, runErr := orch.Run(ctx, pubVariants)
	output.SectionEnd(w, "sv_publish")

	renderSummary(w, color, sum, time.Since(start))

	if output.IsCI() {
		if jErr := output.WritePublishJUnit(".stevedore/reports", sum); jErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write junit report: %v\n", jErr)
		}
	}
	if pubJSON {
		if jErr := sum.WriteJSON(w); jErr != nil {
			return jErr
		}
	}

	return runErr
}

// applyPublishOverrides folds CLI flags into the loaded config.
func applyPublishOverrides() {
	if len(pubPlatforms) > 0 {
		cfg.Platforms = pubPlatforms
		for i := range cfg.Variants {
			cfg.Variants[i].Platforms = nil
		}
	}
	if pubTimeout > 0 {
		cfg.PushTimeoutSeconds = pubTimeout
	}
	if pubRetries > 0 {
		cfg.RetryAttempts = pubRetries
	}
	if pubConcurrency > 0 {
		cfg.ConcurrencyLimit = pubConcurrency
	}
}

// renderPlan prints the resolved targets without touching the network.
func renderPlan(w io.Writer, color bool, names []string, vi *build.VersionInfo) error {
	targets, err := publish.ResolveAll(cfg, names, vi)
	if err != nil {
		return err
	}

	sec := output.NewSection(w, "Plan", 0, color)
	for _, name := range names {
		v, _ := cfg.Variant(name)
		sec.Row("%-24s→ %s", name, targets[name].Ref())
		sec.Row("%-24s  platforms %s", "", strings.Join(cfg.EffectivePlatforms(v), ","))
		if len(v.BuildArgs) > 0 {
			sec.Row("%-24s  build args %v", "", v.BuildArgs)
		}
	}
	sec.Close()
	return nil
}

// renderSummary prints the per-variant outcome table.
func renderSummary(w io.Writer, color bool, sum *publish.Summary, elapsed time.Duration) {
	sec := output.NewSection(w, "Summary", sum.Duration, color)
	for _, vo := range sum.Variants {
		detail := vo.Target
		if vo.Status == publish.StatusPublished && vo.Digest != "" {
			detail = fmt.Sprintf("%s @ %s", vo.Target, vo.Digest)
		}
		if vo.Error != "" {
			detail = output.TruncateError(vo.Error, 48)
		}
		output.SummaryRow(w, vo.Variant, vo.Status, detail, color)
	}
	sec.Separator()
	status := "failed"
	if sum.OK() {
		status = "success"
	}
	output.SummaryTotal(w, elapsed, status, color)
	sec.Close()
}
