package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/GautamJagannath/entrada/internal/config"
	"github.com/GautamJagannath/entrada/internal/logging"
)

func newGenerateCommand() *cobra.Command {
	var (
		caseID    string
		outputDir string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Render the court forms of one case to a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), caseID, outputDir)
		},
	}
	cmd.Flags().StringVar(&caseID, "case-id", "", "Case to render")
	cmd.Flags().StringVar(&outputDir, "out", ".", "Directory receiving the PDFs")
	_ = cmd.MarkFlagRequired("case-id")
	return cmd
}

func runGenerate(ctx context.Context, caseID, outputDir string) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(logging.Config{Level: appConfig.LogLevel, Format: appConfig.LogFormat})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	app, err := buildApplication(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if status := app.renderer.Status(); !status.Configured {
		return fmt.Errorf("pdf generation unavailable: %s", status.Message)
	}

	record, err := app.cases.Get(ctx, caseID)
	if err != nil {
		return err
	}
	bundle, err := app.orchestrator.Generate(ctx, record)
	if err != nil {
		return err
	}
	if len(bundle.Documents) == 0 && len(bundle.Failures) == 0 {
		return fmt.Errorf("case %s has no answers to render", record.ID)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	names := make([]string, 0, len(bundle.Documents))
	for _, document := range bundle.Documents {
		path := filepath.Join(outputDir, document.Name)
		if err := os.WriteFile(path, document.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		names = append(names, document.Name)
	}
	sort.Strings(names)
	for _, failure := range bundle.Failures {
		logger.Warn("document skipped", zap.String("type", failure.Type.String()), zap.Error(failure.Err))
	}
	if bundle.Complete() {
		if _, err := app.cases.MarkGenerated(ctx, record.ID); err != nil {
			return err
		}
	}

	logger.Info("case rendered",
		zap.String("case_id", record.ID),
		zap.String("output", outputDir),
		zap.Strings("documents", names))
	return nil
}
