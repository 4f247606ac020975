package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/cwygoda/scouter/internal/app"
	"github.com/cwygoda/scouter/internal/domain"
)

// scoutService is the slice of domain.JobService the capture command drives.
type scoutService interface {
	NewJobID() string
	Watch(ctx context.Context, jobID string) (<-chan domain.ProgressEvent, func())
	Capture(ctx context.Context, req domain.CaptureRequest) (*domain.CaptureResult, error)
	Enhance(ctx context.Context, req domain.EnhanceRequest) (*domain.EnhanceResult, error)
	GenerateCopy(ctx context.Context, jobID string, in domain.CopyInput) (domain.CopyResult, domain.WriteOutcome)
	PrepareBundle(ctx context.Context, jobID string) (*domain.BundlePlan, error)
	WriteBundle(ctx context.Context, w io.Writer, plan *domain.BundlePlan) error
}

type scoutOptions struct {
	URL        string
	Devices    []string
	BrandColor string
	AutoColor  bool
	Enhance    bool
	Copy       bool
	BundlePath string
}

// scoutSummary is what a finished command run prints.
type scoutSummary struct {
	JobID      string
	Domain     string
	Pages      int
	Shots      int
	Assets     int
	Copy       *domain.CopyResult
	BundlePath string
}

func newScoutCommand(root *rootOptions) *cobra.Command {
	opts := scoutOptions{}
	var plain bool
	cmd := &cobra.Command{
		Use:     "capture <url>",
		Aliases: []string{"scout"},
		Short:   "Capture a site and build its asset pack locally",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.URL = args[0]
			if opts.BundlePath != "" {
				opts.Enhance = true
			}

			interactive := !plain && isatty.IsTerminal(os.Stdout.Fd())
			if interactive && root.logLevel == "" {
				// Keep log lines from tearing the progress view.
				root.logLevel = "error"
			}
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			var summary *scoutSummary
			if interactive {
				summary, err = runInteractive(ctx, a.Service, opts)
			} else {
				summary, err = runScout(ctx, a.Service, opts, func(ev domain.ProgressEvent) {
					fmt.Fprintln(out, formatEvent(ev))
				})
			}
			if err != nil {
				return err
			}
			printSummary(out, summary)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVar(&opts.Devices, "devices", nil, "viewports to capture: desktop, tablet, mobile")
	flags.StringVar(&opts.BrandColor, "brand-color", "", "brand color as #RRGGBB")
	flags.BoolVar(&opts.AutoColor, "auto-color", false, "detect the brand color from the page")
	flags.BoolVar(&opts.Enhance, "enhance", true, "composite mockups, collages and social crops")
	flags.BoolVar(&opts.Copy, "copy", true, "generate marketing copy")
	flags.StringVar(&opts.BundlePath, "bundle", "", "write the asset pack zip to this path")
	flags.BoolVar(&plain, "plain", false, "print progress lines instead of the interactive view")
	return cmd
}

// runScout drives one job through every requested stage, forwarding its
// progress events to report.
func runScout(ctx context.Context, svc scoutService, opts scoutOptions, report func(domain.ProgressEvent)) (*scoutSummary, error) {
	jobID := svc.NewJobID()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	events, unsubscribe := svc.Watch(watchCtx, jobID)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for ev := range events {
			report(ev)
		}
	}()
	defer func() {
		unsubscribe()
		cancelWatch()
		<-forwarded
	}()

	captured, err := svc.Capture(ctx, domain.CaptureRequest{
		JobID:           jobID,
		URL:             opts.URL,
		BrandColor:      opts.BrandColor,
		Devices:         opts.Devices,
		AutoDetectColor: opts.AutoColor,
	})
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", opts.URL, err)
	}
	job := captured.Job

	summary := &scoutSummary{JobID: job.ID, Domain: job.Domain, Pages: len(job.Pages)}
	for _, p := range job.Pages {
		summary.Shots += len(p.Screenshots)
	}

	if opts.Enhance {
		enhanced, err := svc.Enhance(ctx, domain.EnhanceRequest{JobID: job.ID, Pages: job.Pages})
		if err != nil {
			return nil, fmt.Errorf("enhance %s: %w", job.ID, err)
		}
		summary.Assets = len(enhanced.Assets)
	}

	if opts.Copy {
		var title string
		if len(job.Pages) > 0 {
			title = job.Pages[0].Title
		}
		result, _ := svc.GenerateCopy(ctx, job.ID, domain.CopyInput{
			TextContent: job.TextContent,
			Domain:      job.Domain,
			PageTitle:   title,
		})
		summary.Copy = &result
	}

	if opts.BundlePath != "" {
		if err := writeBundle(ctx, svc, job.ID, opts.BundlePath); err != nil {
			return nil, err
		}
		summary.BundlePath = opts.BundlePath
	}
	return summary, nil
}

func writeBundle(ctx context.Context, svc scoutService, jobID, path string) error {
	plan, err := svc.PrepareBundle(ctx, jobID)
	if err != nil {
		return fmt.Errorf("prepare bundle: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := svc.WriteBundle(ctx, f, plan); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write bundle: %w", err)
	}
	return f.Close()
}

func formatEvent(ev domain.ProgressEvent) string {
	if ev.Progress == domain.ProgressFailed {
		return fmt.Sprintf("[ error] %s", ev.Detail)
	}
	return fmt.Sprintf("[%5d%%] %s", ev.Progress, ev.Detail)
}

func printSummary(w io.Writer, s *scoutSummary) {
	fmt.Fprintln(w, okStyle.Render("Scout complete: "+s.JobID))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("domain:"), s.Domain)
	fmt.Fprintf(w, "  %s %d pages, %d screenshots\n", mutedStyle.Render("captured:"), s.Pages, s.Shots)
	if s.Assets > 0 {
		fmt.Fprintf(w, "  %s %d assets\n", mutedStyle.Render("enhanced:"), s.Assets)
	}
	if s.Copy != nil {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("tagline:"), s.Copy.Tagline)
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("pitch:"), s.Copy.Pitch)
		for _, b := range s.Copy.Blurbs {
			fmt.Fprintf(w, "    - %s\n", strings.TrimSpace(b))
		}
	}
	if s.BundlePath != "" {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("bundle:"), s.BundlePath)
	}
}
