package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"code-mentor/api/internal/mentor"
	"code-mentor/api/internal/purge"
)

var llmName string

var analyzeCmd = &cobra.Command{
	Use:   "analyze <report.json>",
	Short: "Analyze a SonarQube JSON report and print the issues",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) (any, error) {
			return a.svc.AnalyzeReport(ctx, filepath.Base(args[0]), raw, llmName)
		})
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review <file>",
	Short: "Review a source file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) (any, error) {
			return a.svc.ReviewCode(ctx, mentor.CodeRequest{Code: string(code), Language: languageOf(args[0]), LLMName: llmName})
		})
	},
}

var flawedCmd = &cobra.Command{
	Use:   "flawed <file>",
	Short: "Generate a subtly flawed version of a source file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) (any, error) {
			out, err := a.svc.GenerateFlawed(ctx, mentor.CodeRequest{Code: string(code), Language: languageOf(args[0]), LLMName: llmName})
			return map[string]string{"flawed_code": out}, err
		})
	},
}

var problem string

var judgeCmd = &cobra.Command{
	Use:   "judge <user-file> <ai-file>",
	Short: "Judge two solutions to the same problem",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		ai, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) (any, error) {
			return a.svc.Judge(ctx, mentor.JudgeRequest{Problem: problem, UserCode: string(user), AICode: string(ai), LLMName: llmName})
		})
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete conversations and cached analyses older than cache.purge_after",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return purge.Once(a.context(cmd.Context()), a.store, a.cfg.PurgeAfter)
	},
}

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, reviewCmd, flawedCmd, judgeCmd} {
		c.Flags().StringVar(&llmName, "llm", "", "engine to use: gpt or gemini (default: llm.default)")
		rootCmd.AddCommand(c)
	}
	judgeCmd.Flags().StringVar(&problem, "problem", "", "problem statement both solutions address")
	rootCmd.AddCommand(purgeCmd)
}

// withApp runs fn against a fresh app and prints its result as indented JSON.
func withApp(ctx context.Context, fn func(context.Context, *app) (any, error)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(a.context(ctx), a.cfg.RequestTimeout)
	defer cancel()
	out, err := fn(ctx, a)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("print result: %w", err)
	}
	return nil
}

var languages = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".java": "java",
	".c":    "c",
	".cpp":  "cpp",
	".cs":   "csharp",
	".rb":   "ruby",
	".rs":   "rust",
	".kt":   "kotlin",
	".php":  "php",
}

func languageOf(path string) string {
	return languages[filepath.Ext(path)]
}
