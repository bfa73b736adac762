package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"code.cloudfoundry.org/bytefmt"
	"github.com/dunamismax/pixelfit/internal/config"
	"github.com/dunamismax/pixelfit/internal/domain"
	"github.com/dunamismax/pixelfit/internal/pipeline"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type processSummary struct {
	Input              string     `json:"input"`
	Output             string     `json:"output"`
	Format             string     `json:"format"`
	MIMEType           string     `json:"mimeType"`
	OriginalSize       int        `json:"originalSize"`
	ProcessedSize      int        `json:"processedSize"`
	SavedBytes         int        `json:"savedBytes"`
	SavedPercent       float64    `json:"savedPercent"`
	OriginalDimensions dimensions `json:"originalDimensions"`
	Dimensions         dimensions `json:"dimensions"`
	Quality            int        `json:"quality"`
	Probes             int        `json:"probes"`
	TargetMet          bool       `json:"targetMet"`
	ProcessingTime     int64      `json:"processingTime"`
}

type dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type probeSummary struct {
	pipeline.Metadata
	Bytes int    `json:"bytes"`
	Size  string `json:"size"`
}

type processFlags struct {
	output           string
	quality          int
	format           string
	targetSize       string
	set              []string
	keepSourceFormat bool
}

func newRootCmd(stdout io.Writer, logger *log.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "pixelfit",
		Short: "Transform images and fit them to a byte budget",
		Long: `pixelfit runs the same transform engine as the API on local files.

Example usage:
  pixelfit process photo.jpg --format webp --target-size 50KB
  pixelfit process photo.png --set width=800 --set fit=cover --set height=600
  pixelfit probe photo.jpg`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)

	root.AddCommand(newProcessCmd(logger), newProbeCmd())
	return root
}

func newProcessCmd(logger *log.Logger) *cobra.Command {
	var flags processFlags

	cmd := &cobra.Command{
		Use:   "process <input>",
		Short: "Transform one image and write the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd.Context(), cmd.OutOrStdout(), logger, args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "output path (default: <input>.pixelfit.<ext>)")
	cmd.Flags().IntVar(&flags.quality, "quality", 0, "encoder quality 1-100 (default 92)")
	cmd.Flags().StringVar(&flags.format, "format", "", "output format: jpeg, png, webp, avif, gif, tiff")
	cmd.Flags().StringVar(&flags.targetSize, "target-size", "", "byte budget such as 50KB or 1.5M; bare numbers are KB")
	cmd.Flags().StringArrayVar(&flags.set, "set", nil, "extra parameter as key=value, repeatable")
	cmd.Flags().BoolVar(&flags.keepSourceFormat, "keep-source-format", false, "ignore --format and keep the detected source format")
	return cmd
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <input>",
		Short: "Print detected format, dimensions and color facts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.OutOrStdout(), args[0])
		},
	}
}

func runProcess(ctx context.Context, stdout io.Writer, logger *log.Logger, input string, flags processFlags) error {
	params, err := buildParams(flags)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	engine, err := newEngine()
	if err != nil {
		return err
	}
	defer pipeline.Shutdown()

	source, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	policy := pipeline.FormatFromConfig
	if flags.keepSourceFormat {
		policy = pipeline.FormatFromSource
	}

	cfg := domain.NormalizeParams(params)
	result, err := engine.Process(ctx, pipeline.TransformRequest{
		Source:       source,
		Config:       cfg,
		FormatPolicy: policy,
	})
	if err != nil {
		return fmt.Errorf("process %s: %w", input, err)
	}

	output := flags.output
	if output == "" {
		output = defaultOutputPath(input, result.Format)
	}
	if err := os.WriteFile(output, result.Bytes, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	if !result.TargetMet {
		logger.Printf("target size missed target=%s got=%s quality=%d",
			humanize.IBytes(uint64(cfg.TargetSizeBytes)), humanize.IBytes(uint64(result.ProcessedSize)), result.QualityUsed)
	}
	logger.Printf("wrote %s %s -> %s (%.2f%% saved, %d probes)",
		output, humanize.IBytes(uint64(result.OriginalSize)), humanize.IBytes(uint64(result.ProcessedSize)), result.SavedPercent, result.Probes)

	return writeIndented(stdout, processSummary{
		Input:              input,
		Output:             output,
		Format:             result.Format.Extension(),
		MIMEType:           result.MIMEType,
		OriginalSize:       result.OriginalSize,
		ProcessedSize:      result.ProcessedSize,
		SavedBytes:         result.SavedBytes,
		SavedPercent:       result.SavedPercent,
		OriginalDimensions: dimensions{Width: result.OriginalWidth, Height: result.OriginalHeight},
		Dimensions:         dimensions{Width: result.Width, Height: result.Height},
		Quality:            result.QualityUsed,
		Probes:             result.Probes,
		TargetMet:          result.TargetMet,
		ProcessingTime:     result.Duration.Milliseconds(),
	})
}

func runProbe(stdout io.Writer, input string) error {
	engine, err := newEngine()
	if err != nil {
		return err
	}
	defer pipeline.Shutdown()

	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	md, err := engine.Probe(data)
	if err != nil {
		return fmt.Errorf("probe %s: %w", input, err)
	}

	return writeIndented(stdout, probeSummary{
		Metadata: md,
		Bytes:    len(data),
		Size:     humanize.IBytes(uint64(len(data))),
	})
}

func newEngine() (*pipeline.Engine, error) {
	cfg := config.Load()
	return pipeline.NewDefaultEngine(pipeline.Limits{
		MaxSourceBytes: cfg.Limits.MaxUploadBytes,
		MaxDimension:   cfg.Limits.MaxDimension,
		Timeout:        cfg.Limits.ProcessTimeout,
	})
}

// buildParams merges --set pairs with the dedicated flags; dedicated flags
// win.
func buildParams(flags processFlags) (map[string]string, error) {
	params := make(map[string]string, len(flags.set)+3)
	for _, pair := range flags.set {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", pair)
		}
		params[key] = strings.TrimSpace(value)
	}

	if flags.quality != 0 {
		params["quality"] = strconv.Itoa(flags.quality)
	}
	if flags.format != "" {
		format, ok := domain.ParseFormat(flags.format)
		if !ok || !format.Encodable() {
			return nil, fmt.Errorf("unsupported --format %q", flags.format)
		}
		params["format"] = string(format)
	}
	if flags.targetSize != "" {
		bytes, err := parseTargetSize(flags.targetSize)
		if err != nil {
			return nil, err
		}
		delete(params, "targetSize")
		params["targetSizeBytes"] = strconv.FormatUint(bytes, 10)
	}
	return params, nil
}

func parseTargetSize(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if kb, err := strconv.ParseUint(raw, 10, 64); err == nil {
		if kb == 0 {
			return 0, errors.New("--target-size must be positive")
		}
		return kb * bytefmt.KILOBYTE, nil
	}
	bytes, err := bytefmt.ToBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid --target-size %q: %w", raw, err)
	}
	if bytes == 0 {
		return 0, errors.New("--target-size must be positive")
	}
	return bytes, nil
}

func defaultOutputPath(input string, format domain.Format) string {
	ext := filepath.Ext(input)
	base := strings.TrimSuffix(input, ext)
	return base + ".pixelfit." + format.Extension()
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
