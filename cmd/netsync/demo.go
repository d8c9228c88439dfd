package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	neterrors "github.com/vango-dev/netsync/internal/errors"
	"github.com/vango-dev/netsync/pkg/demo"
)

func demoCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Inspect and archive demo recordings",
	}
	cmd.AddCommand(demoInfoCmd(), demoUploadCmd(g))
	return cmd
}

func demoInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>",
		Short: "Summarize a demo recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemoInfo(args[0])
		},
	}
}

func runDemoInfo(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return neterrors.New("E100").WithSubject(path).Wrap(err)
	}
	defer f.Close()

	s, err := demo.Scan(f)
	if err != nil {
		return neterrors.FromError(err, "E101").WithSubject(path)
	}

	info("File:       %s", filepath.Base(path))
	info("Messages:   %d", s.Messages)
	info("Bytes:      %d", s.Bytes)
	info("Largest:    %d", s.Largest)
	if s.Messages > 0 {
		info("Average:    %d", s.Bytes/int64(s.Messages))
	}
	info("Compressed: %t", s.Compressed)
	if s.Ended {
		success("Recording is complete")
	} else {
		warn("No end marker, the recording was cut short")
	}
	return nil
}

type uploadOptions struct {
	bucket   string
	prefix   string
	region   string
	endpoint string
}

func demoUploadCmd(g *globals) *cobra.Command {
	var opts uploadOptions

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Compress a demo and store it in an S3 bucket",
		Long: `Compress a demo with zstd and store it in an S3 bucket.

The destination defaults to the demo section of the config file. Credentials
are read from AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and AWS_SESSION_TOKEN.

Examples:
  netsync demo upload demos/20260101-120000.dm2
  netsync demo upload match.dm2 --bucket=replays --endpoint=http://localhost:9000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemoUpload(cmd.Context(), g, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.bucket, "bucket", "", "Destination bucket")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "Object key prefix")
	cmd.Flags().StringVar(&opts.region, "region", "", "Bucket region")
	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "S3-compatible endpoint URL")

	return cmd
}

func runDemoUpload(ctx context.Context, g *globals, path string, opts uploadOptions) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	logger, flush, err := newLogger(g, cfg)
	if err != nil {
		return err
	}
	defer flush()

	bucket := firstNonEmpty(opts.bucket, cfg.Demo.Bucket)
	if bucket == "" {
		return neterrors.New("E121").WithSubject(path)
	}
	endpoint := firstNonEmpty(opts.endpoint, cfg.Demo.Endpoint)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	client := demo.NewS3Client(demo.S3Config{
		Region:    firstNonEmpty(opts.region, cfg.Demo.Region),
		Endpoint:  endpoint,
		PathStyle: endpoint != "",
	})
	archiver := demo.NewArchiver(client, demo.ArchiverConfig{
		Bucket: bucket,
		Prefix: firstNonEmpty(opts.prefix, cfg.Demo.Prefix),
		Logger: logger,
	})
	key, err := archiver.Upload(ctx, path)
	if err != nil {
		return neterrors.FromError(err, "E102").WithSubject(path)
	}
	success("Uploaded s3://%s/%s", bucket, key)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
