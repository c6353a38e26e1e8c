package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mediadrop/internal"
	"mediadrop/utils"
)

var (
	serverURL   string
	quality     string
	outputPath  string
	cookiesPath string
	getTimeout  time.Duration
)

var getCmd = &cobra.Command{
	Use:   "get [OPTIONS] <URL>",
	Short: "Ask a running server for a media URL and download the result",
	Long: `Submit a media URL to a running mediadrop server, then download the file
through the one-time link it returns. The link is consumed by this download.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mediaURL := strings.TrimSpace(args[0])
		if err := utils.ValidateMediaURL(mediaURL); err != nil {
			return err
		}
		if cookiesPath != "" {
			if err := validateCookiesFile(cookiesPath); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if getTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, getTimeout)
			defer cancel()
		}

		client, err := utils.NewHTTPClientWithConfig(&utils.HTTPClientConfig{
			ProxyURL:    config.ProxyURL,
			RetryConfig: utils.DefaultRetryConfig(),
		})
		if err != nil {
			return err
		}

		if !config.QuietMode {
			fmt.Fprintf(os.Stderr, "%s %s\n", color.CyanString("Requesting"), mediaURL)
		}

		summary, err := fetchMedia(ctx, client, fetchOptions{
			Server:   serverURL,
			MediaURL: mediaURL,
			Quality:  quality,
			Cookies:  cookiesPath,
			Output:   outputPath,
			Quiet:    config.QuietMode,
		})
		if err != nil {
			internal.LogError("Download failed: %v", err)
			color.New(color.FgRed).Fprintf(os.Stderr, "Download failed: %v\n", err)
			return err
		}

		internal.LogInfo("Downloaded %s (%s)", summary.Filename, utils.FormatBytes(summary.TotalBytes))
		return nil
	},
}

type fetchOptions struct {
	Server   string
	MediaURL string
	Quality  string
	Cookies  string
	Output   string // empty means the server's file name in the working directory
	Quiet    bool
}

// fetchMedia submits the request, then streams the one-time link into a
// .part file that is renamed into place only after the copy completes
func fetchMedia(ctx context.Context, client *utils.HTTPClient, opts fetchOptions) (*utils.DownloadSummary, error) {
	endpoint, err := utils.ResolveReference(opts.Server, "/download")
	if err != nil {
		return nil, err
	}

	ticket, err := client.Submit(ctx, endpoint, opts.MediaURL, opts.Quality, opts.Cookies)
	if err != nil {
		return nil, err
	}
	internal.LogDebug("Ticket issued for %s (%d bytes), expires %s", ticket.Filename, ticket.Size, ticket.ExpiresAt.Format(time.RFC3339))

	link, err := utils.ResolveReference(opts.Server, ticket.DownloadURL)
	if err != nil {
		return nil, err
	}

	output := opts.Output
	if output == "" {
		output = filepath.Base(ticket.Filename)
	}
	if err := validateOutputPath(output); err != nil {
		return nil, err
	}

	resp, err := client.GetWithContext(ctx, link, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	partial := output + ".part"
	file, err := os.Create(partial)
	if err != nil {
		return nil, fmt.Errorf("cannot create output file: %w", err)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = ticket.Size
	}
	tracker := utils.NewProgressTracker(total, opts.Quiet)
	tracker.SetFilename(filepath.Base(output))

	_, copyErr := io.Copy(file, io.TeeReader(resp.Body, tracker))
	closeErr := file.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(partial)
		return nil, fmt.Errorf("download interrupted: %w", copyErr)
	}

	if err := os.Rename(partial, output); err != nil {
		os.Remove(partial)
		return nil, fmt.Errorf("cannot move download into place: %w", err)
	}

	return tracker.Finish(), nil
}

// validateOutputPath checks that the output directory exists and is writable
func validateOutputPath(path string) error {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("output directory does not exist: %s", dir)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path parent is not a directory: %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".mediadrop-write-*")
	if err != nil {
		return fmt.Errorf("output directory is not writable: %s", dir)
	}
	tmp.Close()
	os.Remove(tmp.Name())
	return nil
}

// validateCookiesFile checks that a cookies file exists and is readable
func validateCookiesFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cookies file not found: %s", path)
	}
	if info.IsDir() {
		return fmt.Errorf("cookies path is a directory: %s", path)
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cookies file is not readable: %s", path)
	}
	return file.Close()
}

func init() {
	getCmd.Flags().StringVarP(&serverURL, "server", "s", internal.GetEnvWithDefault("MEDIADROP_SERVER", "http://localhost:8080"), "Base URL of a running mediadrop server (env: MEDIADROP_SERVER)")
	getCmd.Flags().StringVarP(&quality, "quality", "f", "", "Preferred quality: a height like 720p, best or worst (default: best)")
	getCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (default: the name chosen by the server)")
	getCmd.Flags().StringVarP(&cookiesPath, "cookies", "c", "", "Netscape-format cookies file to send with the request")
	getCmd.Flags().StringVar(&proxyURL, "proxy", "", "HTTP/SOCKS proxy URL (env: MEDIADROP_PROXY)")
	getCmd.Flags().DurationVar(&getTimeout, "timeout", 0, "Give up after this long, e.g. 10m (default: no limit)")
}
