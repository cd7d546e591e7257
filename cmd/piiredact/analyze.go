package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	pii "github.com/SamuelRCrider/pii-go"
	"github.com/SamuelRCrider/pii-go/core"
)

func newAnalyzeCmd(o *rootOptions) *cobra.Command {
	var (
		language string
		file     string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "analyze [text]",
		Short: "List the PII entities found in text",
		Long: `Analyze text given as arguments, read from --file, or read from stdin
and print every detected entity with its score and byte offsets.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := o.newService(cmd, nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			text, err := readInput(cmd, args, file)
			if err != nil {
				return err
			}

			ctx := pii.WithCaller(cmd.Context(), pii.Caller{RequestID: core.NewRequestID(), Source: "cli"})
			spans, err := svc.Analyze(ctx, text, language)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(spans)
			}
			if len(spans) == 0 {
				fmt.Fprintln(out, "no PII detected")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENTITY\tSCORE\tSTART\tEND\tTEXT")
			for _, sp := range spans {
				fmt.Fprintf(tw, "%s\t%.2f\t%d\t%d\t%s\n", sp.EntityType, sp.Score, sp.Start, sp.End, text[sp.Start:sp.End])
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", "", "language code (default: first supported language)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read input from a .txt, .csv or .json file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print spans as JSON")
	return cmd
}

// readInput takes the input text from args, then --file, then stdin.
func readInput(cmd *cobra.Command, args []string, file string) (string, error) {
	if len(args) > 0 && file != "" {
		return "", fmt.Errorf("pass text as arguments or --file, not both")
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return "", fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		text, err := core.ExtractText(filepath.Base(file), f)
		if err != nil {
			return "", err
		}
		return text, nil
	}

	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	text := strings.TrimRight(string(data), "\n")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no input text")
	}
	return text, nil
}
