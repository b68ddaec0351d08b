package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/reeseleonb-crypto/quickpostkit/internal/generator"
	"github.com/reeseleonb-crypto/quickpostkit/internal/questionnaire"
)

func newRenderCmd(opts *rootOptions) *cobra.Command {
	var input, out string
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a plan document from questionnaire JSON without payment",
		Long: `render reads questionnaire answers as JSON (from --input or stdin), calls the
configured language model and writes the .docx plan. Intended for operators.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			in, err := readInputs(cmd.InOrStdin(), input)
			if err != nil {
				return err
			}
			client, provider, err := buildLLM(cmd.Context(), cfg.LLM)
			if err != nil {
				return err
			}
			gen, err := buildGenerator(cfg, client, provider, nil)
			if err != nil {
				return err
			}
			path, err := renderPlan(cmd.Context(), gen, in, out)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "questionnaire JSON file, - for stdin")
	cmd.Flags().StringVarP(&out, "out", "o", ".", "output directory or .docx path")
	return cmd
}

func readInputs(stdin io.Reader, path string) (questionnaire.Inputs, error) {
	var r io.Reader = stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return questionnaire.Inputs{}, fmt.Errorf("打开问卷文件失败: %w", err)
		}
		defer f.Close()
		r = f
	}
	var in questionnaire.Inputs
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return questionnaire.Inputs{}, fmt.Errorf("解析问卷 JSON 失败: %w", err)
	}
	return in, nil
}

// renderPlan 生成计划并写入 out。out 是已存在的目录时使用默认文件名。
func renderPlan(ctx context.Context, gen *generator.Generator, in questionnaire.Inputs, out string) (string, error) {
	p, err := gen.Build(ctx, in)
	if err != nil {
		return "", err
	}
	data, err := gen.Render(p, in)
	if err != nil {
		return "", err
	}
	path := out
	if info, err := os.Stat(out); out == "" || (err == nil && info.IsDir()) {
		path = filepath.Join(out, gen.Filename(in.Normalize()))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("写入文档失败: %w", err)
	}
	return path, nil
}
