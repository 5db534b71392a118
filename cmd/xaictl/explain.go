package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fractal-lba/healthxai/internal/api"
	"github.com/fractal-lba/healthxai/internal/app"
	"github.com/fractal-lba/healthxai/internal/config"
	"github.com/fractal-lba/healthxai/internal/dataset"
	"github.com/fractal-lba/healthxai/internal/predlog"
	"github.com/fractal-lba/healthxai/internal/xai"
	"github.com/fractal-lba/healthxai/pkg/client"
)

// inputFlags select the row to explain.
type inputFlags struct {
	fields    []string
	inputFile string
	model     string
}

func (f *inputFlags) register(cmd *cobra.Command, withModel bool) {
	cmd.Flags().StringArrayVarP(&f.fields, "field", "f", nil, "Input field as NAME=VALUE (repeatable)")
	cmd.Flags().StringVarP(&f.inputFile, "input", "i", "", "JSON file with an object of input fields")
	if withModel {
		cmd.Flags().StringVarP(&f.model, "model", "m", "", "Model to explain (default from config)")
	}
}

// form merges the input file and the --field flags, flags winning.
func (f *inputFlags) form() (map[string]string, error) {
	form := map[string]string{}
	if f.inputFile != "" {
		data, err := os.ReadFile(f.inputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid input JSON: %w", err)
		}
		for k, v := range raw {
			form[k] = fmt.Sprint(v)
		}
	}
	for _, kv := range f.fields {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("field %q is not NAME=VALUE", kv)
		}
		form[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return form, nil
}

func (f *inputFlags) row() (api.InputRow, error) {
	form, err := f.form()
	if err != nil {
		return api.InputRow{}, err
	}
	return api.PrepareInput(form)
}

// predict scores locally, or against a running server when addr is set.
func (f *inputFlags) predict(ctx context.Context, opts *rootOptions, cmd *cobra.Command, addr string) (*api.PredictResponse, error) {
	if addr != "" {
		form, err := f.form()
		if err != nil {
			return nil, err
		}
		fields := make(map[string]any, len(form))
		for k, v := range form {
			fields[k] = v
		}
		return client.New(addr).Predict(ctx, api.PredictRequest{Model: f.model, Fields: fields})
	}

	row, err := f.row()
	if err != nil {
		return nil, err
	}
	a, err := newApp(opts, cmd.ErrOrStderr(), nil)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return a.Predict(ctx, app.PredictRequest{Model: f.model, Input: row})
}

// newApp builds an application that neither registers global metrics nor
// writes to the configured prediction log.
func newApp(opts *rootOptions, stderr io.Writer, mutate func(*config.Config)) (*app.App, error) {
	cfg, logger, err := opts.load(stderr)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}
	store, err := predlog.NewMemoryStore("")
	if err != nil {
		return nil, err
	}
	return app.New(cfg, logger,
		app.WithRegisterer(prometheus.NewRegistry()),
		app.WithStore(store),
	)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// explainCmd prints the additive explanation for one row
func explainCmd(opts *rootOptions) *cobra.Command {
	in := &inputFlags{}
	var asJSON bool
	var server string

	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Attribute a prediction to the input fields",
		Example: `  xaictl explain -m random_forest -f BMI=31 -f Smoking=Yes -f Sex=Male \
    -f AgeCategory=65-69 -f GenHealth=Fair -f HeartDisease=No -f PhysicalActivity=No`,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := in.predict(context.Background(), opts, cmd, server)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, resp)
			}

			fmt.Fprintf(out, "Model:       %s\n", resp.Model)
			fmt.Fprintf(out, "Prediction:  %s (p=%.3f)\n", resp.Label, resp.Probability)
			if resp.Explanation.Failed() {
				fmt.Fprintf(out, "Explanation: %s\n", resp.Explanation.Error)
				return nil
			}
			fmt.Fprintf(out, "Method:      %s\n", resp.Explanation.Method)
			if resp.Explanation.BaseValue != nil {
				fmt.Fprintf(out, "Base value:  %.4f\n", *resp.Explanation.BaseValue)
			}
			fmt.Fprintln(out)
			for _, c := range resp.Explanation.AllFeatures {
				fmt.Fprintf(out, "  %-18s %+.4f\n", c.Feature, c.Value)
			}
			fmt.Fprintf(out, "\n%s\n", resp.Summary)
			return nil
		},
	}
	in.register(cmd, true)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full response as JSON")
	cmd.Flags().StringVar(&server, "server", "", "Score against a running server (e.g. http://localhost:8080) instead of locally")
	return cmd
}

// explainLocalCmd prints the LIME surrogate for one row
func explainLocalCmd(opts *rootOptions) *cobra.Command {
	in := &inputFlags{}
	var samples int

	cmd := &cobra.Command{
		Use:   "explain-local",
		Short: "Fit a local surrogate around a prediction",
		RunE: func(cmd *cobra.Command, args []string) error {
			row, err := in.row()
			if err != nil {
				return err
			}
			a, err := newApp(opts, cmd.ErrOrStderr(), func(c *config.Config) {
				if samples > 0 {
					c.Explain.LimeSamples = samples
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.ExplainLocal(context.Background(), in.model, row)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	in.register(cmd, true)
	cmd.Flags().IntVar(&samples, "samples", 0, "Perturbation samples (default from config)")
	return cmd
}

// backgroundCmd shows the reference rows an explanation would be measured against
func backgroundCmd(opts *rootOptions) *cobra.Command {
	in := &inputFlags{}
	var size int
	var seed uint64

	cmd := &cobra.Command{
		Use:   "background",
		Short: "Print the background sample drawn for an input row",
		RunE: func(cmd *cobra.Command, args []string) error {
			row, err := in.row()
			if err != nil {
				return err
			}
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if size <= 0 {
				size = cfg.Explain.BackgroundSize
			}
			if seed == 0 {
				seed = cfg.Explain.Seed
			}

			frame, err := dataset.Load(cfg.Dataset.Path)
			if err != nil {
				logger.Warn("reference dataset unavailable", "path", cfg.Dataset.Path, "error", err)
				frame = nil
			}
			bg := xai.SampleBackground(frame, row, size, seed)

			out := cmd.OutOrStdout()
			fmt.Fprintf(cmd.ErrOrStderr(), "rows=%d synthetic=%t %s\n", bg.Len(), bg.Synthetic, bg.Reason)
			enc := json.NewEncoder(out)
			for _, r := range bg.Rows {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
	in.register(cmd, false)
	cmd.Flags().IntVarP(&size, "size", "n", 0, "Background rows (default from config)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Sampling seed (default from config)")
	return cmd
}
