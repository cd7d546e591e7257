package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	pii "github.com/SamuelRCrider/pii-go"
	"github.com/SamuelRCrider/pii-go/core"
)

func newAnonymizeCmd(o *rootOptions) *cobra.Command {
	var (
		language      string
		policyName    string
		file          string
		out           string
		overlap       string
		deterministic bool
		asJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "anonymize [text]",
		Short: "Redact the PII found in text",
		Long: `Anonymize text given as arguments, read from --file, or read from stdin.

Policies:
  fpe       replace letters and digits with random ones of the same class (default)
  entities  replace each entity with a <ENTITY_TYPE> placeholder
  simple    replace each entity with [REDACTED]`,
		Example: `  piiredact anonymize "call 555-123-4567"
  piiredact anonymize --file notes.csv --policy entities --out notes.redacted.txt
  piiredact anonymize --key-file fpe.key --deterministic "acct 12345678"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			extra := map[string]any{}
			if cmd.Flags().Changed("deterministic") {
				extra["redaction.deterministic"] = deterministic
			}
			if overlap != "" {
				extra["redaction.overlap"] = overlap
			}

			svc, _, err := o.newService(cmd, extra)
			if err != nil {
				return err
			}
			defer svc.Close()

			text, err := readInput(cmd, args, file)
			if err != nil {
				return err
			}

			policy, err := svc.Policy(policyName)
			if err != nil {
				return err
			}

			ctx := pii.WithCaller(cmd.Context(), pii.Caller{RequestID: core.NewRequestID(), Source: "cli"})
			res, err := svc.Anonymize(ctx, text, language, policy)
			if err != nil {
				return err
			}

			if out != "" {
				if err := os.WriteFile(out, []byte(res.Text), 0o600); err != nil {
					return fmt.Errorf("write output: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d redactions)\n", out, len(res.Applied))
				return nil
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&language, "language", "l", "", "language code (default: first supported language)")
	f.StringVarP(&policyName, "policy", "p", "", "redaction policy: fpe, entities or simple (default from config)")
	f.StringVarP(&file, "file", "f", "", "read input from a .txt, .csv or .json file")
	f.StringVarP(&out, "out", "o", "", "write the anonymized text to this file")
	f.StringVar(&overlap, "overlap", "", "overlapping span handling: skip, merge or reject")
	f.BoolVar(&deterministic, "deterministic", false, "derive fpe output from the key so equal inputs give equal outputs")
	f.BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}
