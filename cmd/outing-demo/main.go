// README: Demo CLI; runs extraction and an interactive chat against the live providers.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"outing/internal/app"
	"outing/internal/config"
	"outing/internal/modules/extract"
	"outing/internal/types"
)

const (
	Version = "0.1.0"
	appName = "outing-demo"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Family outing planner demo",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(extractCmd(), chatCmd(), usageCmd(), &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	})
	return cmd
}

func extractCmd() *cobra.Command {
	var keywordsOnly bool
	cmd := &cobra.Command{
		Use:   "extract <text>",
		Short: "Show the preferences read from one utterance",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			kw, err := extract.NewKeywordExtractor()
			if err != nil {
				return err
			}
			out := map[string]any{"keywords": kw.Extract(text)}
			if lat, lng, ok := extract.ParseCoordinates(text); ok {
				out["coordinates"] = types.Point{Lat: lat, Lng: lng}
			}

			if !keywordsOnly {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				a, err := loadApp(ctx)
				if err != nil {
					return err
				}
				defer a.Close()
				x, err := a.Extractor.Extract(ctx, text)
				if err != nil {
					out["model_error"] = err.Error()
				} else {
					out["model"] = x
					out["model_patch"] = x.Patch()
				}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&keywordsOnly, "keywords-only", false, "Skip the generation provider")
	return cmd
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation on stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return runChat(ctx, a, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runChat(ctx context.Context, a *app.App, in io.Reader, out io.Writer) error {
	start, err := a.Chat.CreateSession(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "bot> %s\n", start.Greeting)
	printQuickReplies(out, start.QuickReplies)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/history":
			h, err := a.Chat.History(ctx, start.SessionID)
			if err != nil {
				return err
			}
			if err := printJSON(out, h); err != nil {
				return err
			}
			continue
		}

		turnCtx, cancel := context.WithTimeout(ctx, a.Config.HTTP.TurnTimeout)
		res, err := a.Chat.HandleTurn(turnCtx, start.SessionID, line)
		cancel()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "bot> %s\n", res.Response)
		for _, p := range res.Places {
			fmt.Fprintf(out, "     - %s (%s)", p.Name, p.Address)
			if p.TravelMinutes != nil {
				fmt.Fprintf(out, " 約%d分", *p.TravelMinutes)
			}
			fmt.Fprintln(out)
		}
		printQuickReplies(out, res.QuickReplies)
		fmt.Fprintf(out, "     [%s]\n", res.State)
	}
}

func usageCmd() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarise generation calls from the usage ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Usage == nil {
				return fmt.Errorf("usage ledger needs OUTING_DB_DSN")
			}
			rows, err := a.Usage.Summary(ctx, time.Now().Add(-since))
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PURPOSE\tOUTCOME\tCALLS\tAVG LATENCY")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Purpose, r.Outcome, r.Calls, r.AvgLatency)
			}
			return w.Flush()
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Window to summarise")
	return cmd
}

func loadApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func printQuickReplies(out io.Writer, replies []string) {
	if len(replies) > 0 {
		fmt.Fprintf(out, "     (%s)\n", strings.Join(replies, " / "))
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
