package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/reeseleonb-crypto/quickpostkit/sdk/go/quickpost"
)

func newFetchCmd() *cobra.Command {
	var (
		apiURL    string
		jobID     string
		sessionID string
		outDir    string
		interval  time.Duration
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Wait for a job over the API and save its document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if jobID == "" && sessionID == "" {
				return errors.New("需要指定 --job 或 --session")
			}
			client, err := quickpost.NewClient(apiURL, nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			path, err := fetchDocument(ctx, client, jobID, sessionID, outDir, interval)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	defaultURL := os.Getenv("QPK_API_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	cmd.Flags().StringVar(&apiURL, "api-url", defaultURL, "QuickPostKit API base URL")
	cmd.Flags().StringVar(&jobID, "job", "", "job id")
	cmd.Flags().StringVar(&sessionID, "session", "", "checkout session id, used when --job is empty")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	cmd.Flags().DurationVar(&interval, "interval", quickpost.DefaultPollInterval, "poll interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall timeout, 0 disables")
	return cmd
}

func fetchDocument(ctx context.Context, client *quickpost.Client, jobID, sessionID, outDir string, interval time.Duration) (string, error) {
	if jobID == "" {
		j, err := client.JobBySession(ctx, sessionID)
		if err != nil {
			return "", fmt.Errorf("查询会话任务失败: %w", err)
		}
		jobID = j.JobID
	}
	j, err := client.WaitForJob(ctx, jobID, interval)
	if errors.Is(err, quickpost.ErrJobFailed) {
		return "", fmt.Errorf("任务 %s 失败: %s", jobID, j.Error)
	}
	if err != nil {
		return "", err
	}

	path := filepath.Join(outDir, filepath.Base(j.Filename))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("创建文件失败: %w", err)
	}
	if _, err := client.Download(ctx, j.Filename, f); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}
