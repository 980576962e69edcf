package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/df-go/dispatch"
	"github.com/khaledhikmat/df-go/model"
	"github.com/khaledhikmat/df-go/panel"
	"github.com/khaledhikmat/df-go/preview"
	"github.com/khaledhikmat/df-go/render"
)

type analyzeOptions struct {
	Media     string
	File      string
	Model     string
	Dataset   string
	Threshold float64
	Length    int
}

var analyzeOpts analyzeOptions

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Classify a single file from the command line",
	RunE: func(cmd *cobra.Command, args []string) error {
		sel := panel.Selection{
			Media:    analyzeOpts.Media,
			Model:    analyzeOpts.Model,
			Dataset:  analyzeOpts.Dataset,
			Frames:   analyzeOpts.Length,
			Duration: analyzeOpts.Length,
		}
		if cmd.Flags().Changed("threshold") {
			sel.Threshold = &analyzeOpts.Threshold
		}

		verdict, req, err := runAnalyze(cmd, sel, analyzeOpts.File)
		if err != nil {
			return err
		}
		printVerdict(cmd.OutOrStdout(), req, verdict)
		if verdict.Failed() {
			return xerrors.New("analysis failed")
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOpts.Media, "media", "m", string(model.Image), "Media type: Image, Video or Audio")
	analyzeCmd.Flags().StringVarP(&analyzeOpts.File, "file", "f", "", "Path to the file to analyze")
	analyzeCmd.Flags().StringVar(&analyzeOpts.Model, "model", "", "Detection model (default: first model for the media type)")
	analyzeCmd.Flags().StringVar(&analyzeOpts.Dataset, "dataset", "", "Training dataset (default: first dataset for the media type)")
	analyzeCmd.Flags().Float64VarP(&analyzeOpts.Threshold, "threshold", "t", panel.DefaultThreshold, "Confidence threshold between 0 and 1")
	analyzeCmd.Flags().IntVarP(&analyzeOpts.Length, "length", "l", 0, "Frames for video or seconds for audio (default per media type)")

	analyzeCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, sel panel.Selection, path string) (model.Verdict, model.DetectionRequest, error) {
	ctx := cmd.Context()

	catalog, err := svcs.DataSvc.RetrieveCatalog()
	if err != nil {
		return model.Verdict{}, model.DetectionRequest{}, err
	}

	req, err := panel.Resolve(catalog, sel)
	if err != nil {
		return model.Verdict{}, model.DetectionRequest{}, err
	}

	opts, err := panel.Options(catalog, req.Media)
	if err != nil {
		return model.Verdict{}, model.DetectionRequest{}, err
	}

	if req.Media == model.Audio {
		if missing := svcs.DataSvc.RetrieveMissingAudioArtifacts(); len(missing) > 0 {
			color.New(color.FgYellow).Fprintf(cmd.ErrOrStderr(), "⚠️  audio model files not found: %v\n", missing)
		}
	}

	req.FileName = filepath.Base(path)
	req.Payload, err = os.ReadFile(path)
	if err != nil {
		return model.Verdict{}, req, xerrors.Errorf("reading %s: %w", path, err)
	}

	p, err := preview.New(svcs.CfgSvc, svcs.ProbeSvc, svcs.StorageSvc).Build(ctx, opts, req)
	if err != nil {
		return model.Verdict{}, req, err
	}
	defer p.Release()
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s (%d bytes)\n", p.Caption, p.FileName, p.Size)

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("🔍 Analyzing content"),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionClearOnFinish(),
	)

	dispatcher := dispatch.New(svcs.CfgSvc, svcs.InferenceSvc, svcs.StorageSvc)
	verdict := dispatcher.DispatchStaged(ctx, req, p.Lease, func(elapsed time.Duration, done bool) {
		if done {
			_ = bar.Finish()
			return
		}
		_ = bar.Add(1)
	})

	return verdict, req, nil
}

func printVerdict(w io.Writer, req model.DetectionRequest, verdict model.Verdict) {
	card, ok := render.CardFor(req.Media, verdict)
	if !ok {
		color.New(color.FgRed, color.Bold).Fprintf(w, "Error: %s\n", verdict.Message)
		return
	}

	c := color.New(color.FgRed, color.Bold)
	if verdict.Real() {
		c = color.New(color.FgGreen, color.Bold)
	}

	fmt.Fprintf(w, "%s The %s is classified as: ", card.Icon, card.Noun)
	c.Fprintln(w, card.Label)
	fmt.Fprintf(w, "Confidence score: ")
	c.Fprintln(w, card.Score)
	fmt.Fprintf(w, "Model: %s  Dataset: %s  Threshold: %.2f\n", req.Model, req.Dataset, req.Threshold)
}
