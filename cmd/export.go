package cmd

import (
	"context"
	"os"

	"github.com/spigell/hirebot/internal/export"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored sessions to an xlsx workbook",
	Run: func(cmd *cobra.Command, _ []string) {
		exportSessions(cmd)
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringP("output", "o", "sessions.xlsx", "workbook path")
}

func exportSessions(cmd *cobra.Command) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger, config := setup()

	// Exporting reads the store only, no model client is needed.
	parts, err := newComponents(ctx, config, logger, componentOptions{noExpiry: true, withoutModel: true})
	if err != nil {
		logger.Fatal("wiring the application", zap.Error(err))
	}
	defer parts.close(context.Background(), logger)

	output, _ := cmd.Flags().GetString("output")

	data, err := export.New(parts.store, logger).XLSX(ctx)
	if err != nil {
		logger.Error("building the workbook", zap.Error(err))
		return
	}

	if err := os.WriteFile(output, data, 0o644); err != nil {
		logger.Error("writing the workbook", zap.Error(err), zap.String("path", output))
		return
	}

	logger.Info("sessions exported", zap.String("path", output), zap.Int("bytes", len(data)))
}
