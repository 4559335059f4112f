package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ghibli-go/internal/client"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var convertCmd = &cobra.Command{
	Use:   "convert <image>",
	Short: "Upload an image and convert it to Ghibli style",
	Long: `convert uploads the image to the server's /api/ghibli endpoint and prints
the result envelope. With --out the converted image is downloaded as
ghibli-<name>.png into the given directory (or to the given file path).`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().String("out", "", "download the converted image into this directory or file")
	convertCmd.Flags().Duration("timeout", 2*time.Minute, "overall timeout for upload, conversion and download")

	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	conv := client.NewConverter(viper.GetString("server"), nil)
	conv.OnStateChange(func(s client.State) {
		fmt.Fprintf(os.Stderr, "state: %s\n", s)
	})

	if err := conv.SelectFile(args[0]); err != nil {
		return err
	}
	result, err := conv.Convert(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}

	if out == "" {
		return nil
	}
	target := out
	if info, err := os.Stat(out); err == nil && info.IsDir() {
		target = filepath.Join(out, conv.DownloadFileName())
	}

	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("创建输出文件失败: %w", err)
	}
	if err := conv.Download(ctx, f); err != nil {
		f.Close()
		os.Remove(target)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "saved %s\n", target)
	return nil
}
