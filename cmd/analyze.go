package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/reddit-intel/internal/model"
)

var (
	analyzeCompetitors []string
	analyzeOutput      string
)

// analysisReport is the YAML document written by the analyze command.
type analysisReport struct {
	Result      *model.AnalysisResult      `yaml:"result"`
	Subreddits  []model.Subreddit          `yaml:"subreddits"`
	Competitive *model.CompetitiveOverview `yaml:"competitive"`
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <domain>",
	Short: "Run a full analysis for a company domain and print a YAML report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := newEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		start := time.Now()
		j, err := env.manager.Submit(ctx, args[0], analyzeCompetitors)
		if err != nil {
			return err
		}
		env.manager.Wait()

		done, _ := env.manager.Get(j.ID)
		if done.Status != model.JobStatusComplete {
			return eris.Errorf("analysis failed: %s", done.Error)
		}
		zap.L().Info("analysis finished",
			zap.String("domain", args[0]),
			zap.Duration("elapsed", time.Since(start)),
		)

		report, err := buildReport(ctx, env, done.Result)
		if err != nil {
			return err
		}
		return writeReport(report, analyzeOutput)
	},
}

func buildReport(ctx context.Context, env *env, result *model.AnalysisResult) (*analysisReport, error) {
	subs, err := env.store.ListSubreddits(ctx)
	if err != nil {
		return nil, err
	}
	overview, err := overviewFromStore(ctx, env.store, env.cfg.Analytics)
	if err != nil {
		return nil, err
	}
	return &analysisReport{Result: result, Subreddits: subs, Competitive: overview}, nil
}

func writeReport(report *analysisReport, path string) error {
	out, err := yaml.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "marshal report")
	}
	if path == "" {
		fmt.Print(string(out))
		return nil
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return eris.Wrapf(err, "write report %s", path)
	}
	zap.L().Info("report written", zap.String("path", path))
	return nil
}

func init() {
	analyzeCmd.Flags().StringSliceVar(&analyzeCompetitors, "competitors", nil, "competitor names or domains to track")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "write the YAML report to a file instead of stdout")
	rootCmd.AddCommand(analyzeCmd)
}
