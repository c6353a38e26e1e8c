package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"mediadrop/internal"
	"mediadrop/storage"
)

// ExtractorOptions configures the yt-dlp adapter
type ExtractorOptions struct {
	StorageDir     string
	Executable     string
	UserAgent      string
	Proxy          string
	ExtractTimeout time.Duration
	FetchTimeout   time.Duration
}

// ExtractorOptionsFromConfig derives extractor options from the application config
func ExtractorOptionsFromConfig(cfg *internal.Config) ExtractorOptions {
	return ExtractorOptions{
		StorageDir:     cfg.StorageDir,
		Executable:     cfg.YtDlpPath,
		UserAgent:      cfg.UserAgent,
		Proxy:          cfg.ProxyURL,
		ExtractTimeout: cfg.ExtractTimeout,
		FetchTimeout:   cfg.FetchTimeout,
	}
}

// runFunc executes a prepared command
type runFunc func(ctx context.Context, cmd *ytdlp.Command, url string) (*ytdlp.Result, error)

func runCommand(ctx context.Context, cmd *ytdlp.Command, url string) (*ytdlp.Result, error) {
	return cmd.Run(ctx, url)
}

// YtDlpExtractor lists and fetches renditions by driving the yt-dlp binary
type YtDlpExtractor struct {
	opts ExtractorOptions
	run  runFunc
}

var _ internal.Extractor = (*YtDlpExtractor)(nil)

// NewYtDlpExtractor creates an extractor writing into opts.StorageDir
func NewYtDlpExtractor(opts ExtractorOptions) *YtDlpExtractor {
	if opts.Executable == "" {
		opts.Executable = "yt-dlp"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = internal.DefaultUserAgent
	}
	return &YtDlpExtractor{opts: opts, run: runCommand}
}

func (e *YtDlpExtractor) command(creds *internal.Credentials) *ytdlp.Command {
	cmd := ytdlp.New().
		SetExecutable(e.opts.Executable).
		NoWarnings().
		NoPlaylist().
		AddHeaders("User-Agent:" + e.opts.UserAgent)

	if e.opts.Proxy != "" {
		cmd = cmd.Proxy(e.opts.Proxy)
	}
	if creds != nil && creds.CookieFile != "" {
		cmd = cmd.Cookies(creds.CookieFile)
	}
	return cmd
}

// ListRenditions asks yt-dlp for the formats of url without downloading.
// Every failure, including an empty format list, is reported as a single
// source error; yt-dlp's output does not reliably tell them apart.
func (e *YtDlpExtractor) ListRenditions(ctx context.Context, url string, creds *internal.Credentials) ([]internal.Rendition, error) {
	if e.opts.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.ExtractTimeout)
		defer cancel()
	}

	internal.LogDebug("Listing renditions for %s", url)

	// -j rather than -J: go-ytdlp only decodes stdout for the per-video JSON flags
	result, err := e.run(ctx, e.command(creds).SkipDownload().DumpJSON(), url)
	if err != nil {
		return nil, internal.NewSourceError(url, err)
	}

	info, err := extractedInfo(result)
	if err != nil {
		return nil, internal.NewSourceError(url, err)
	}

	renditions := renditionsFrom(info)
	if len(renditions) == 0 {
		return nil, internal.NewSourceError(url, errors.New("no formats available"))
	}

	internal.LogDebug("Found %d renditions for %s", len(renditions), url)
	return renditions, nil
}

// Fetch downloads one rendition to <storage>/<stem>.<ext>. The caller
// reserves stem before calling so the janitor leaves the file alone.
// Partial files are removed when the fetch fails.
func (e *YtDlpExtractor) Fetch(ctx context.Context, url, renditionID string, creds *internal.Credentials, stem string) (*internal.FetchResult, error) {
	if e.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.FetchTimeout)
		defer cancel()
	}

	output := filepath.Join(e.opts.StorageDir, stem+".%(ext)s")
	cmd := e.command(creds).
		Format(renditionID).
		Output(output).
		ForceOverwrites().
		DumpJSON().
		NoSimulate()

	internal.LogDebug("Fetching format %s of %s into %s", renditionID, url, stem)

	result, err := e.run(ctx, cmd, url)
	if err != nil {
		removeStaging(e.opts.StorageDir, stem)
		return nil, internal.NewFetchError(url, renditionID, err)
	}

	var fetched *internal.FetchResult
	info, err := extractedInfo(result)
	if err == nil {
		fetched, err = fetchResultFrom(info)
	}
	if err != nil {
		removeStaging(e.opts.StorageDir, stem)
		return nil, internal.NewFetchError(url, renditionID, err)
	}

	path, err := findStaged(e.opts.StorageDir, stem)
	if err != nil {
		removeStaging(e.opts.StorageDir, stem)
		return nil, internal.NewFetchError(url, renditionID, err)
	}

	// the container may differ from the selected format after a merge
	fetched.Ext = strings.TrimPrefix(filepath.Ext(path), ".")
	fetched.Path = path
	if fetched.FormatID == "" {
		fetched.FormatID = renditionID
	}
	return fetched, nil
}

// extractedInfo returns the last info document yt-dlp printed
func extractedInfo(result *ytdlp.Result) (*ytdlp.ExtractedInfo, error) {
	if result == nil {
		return nil, errors.New("yt-dlp returned no result")
	}

	infos, err := result.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("invalid yt-dlp output: %w", err)
	}
	if len(infos) == 0 {
		return nil, errors.New("yt-dlp printed no info document")
	}
	return infos[len(infos)-1], nil
}

// renditionsFrom converts the formats of an info document into renditions,
// in source order
func renditionsFrom(info *ytdlp.ExtractedInfo) []internal.Rendition {
	renditions := make([]internal.Rendition, 0, len(info.Formats))
	for _, f := range info.Formats {
		if f == nil || deref(f.FormatID) == "" {
			continue
		}

		r := internal.Rendition{
			FormatID: *f.FormatID,
			Label:    deref(f.FormatNote),
			Ext:      deref(f.Extension),
		}
		if f.Height != nil && *f.Height > 0 {
			r.Height = int(*f.Height)
			if r.Label == "" {
				r.Label = strconv.Itoa(r.Height) + "p"
			}
		}
		renditions = append(renditions, r)
	}
	return renditions
}

// fetchResultFrom extracts title, extension and format id from the info
// document yt-dlp prints for a finished download
func fetchResultFrom(info *ytdlp.ExtractedInfo) (*internal.FetchResult, error) {
	title := strings.TrimSpace(deref(info.Title))
	if title == "" {
		title = info.ID
	}
	if title == "" {
		return nil, errors.New("yt-dlp output has no title")
	}

	result := &internal.FetchResult{Title: title}
	if info.ExtractedFormat != nil {
		result.Ext = info.Extension
		result.FormatID = deref(info.FormatID)
	}
	return result, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// isIntermediate reports yt-dlp's in-progress and fragment files
func isIntermediate(name string) bool {
	for _, suffix := range []string{".part", ".ytdl", ".temp"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return strings.Contains(name, ".part-Frag")
}

// findStaged locates the single finished file written for stem
func findStaged(dir, stem string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, stem+".*"))
	if err != nil {
		return "", err
	}

	var found []string
	for _, match := range matches {
		if isIntermediate(match) || storage.IsMarker(match) {
			continue
		}
		info, err := os.Stat(match)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		found = append(found, match)
	}

	switch len(found) {
	case 0:
		return "", fmt.Errorf("yt-dlp reported success but wrote no file for %s", stem)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("yt-dlp wrote %d files for %s", len(found), stem)
	}
}

// removeStaging deletes every file written for stem
func removeStaging(dir, stem string) {
	matches, err := filepath.Glob(filepath.Join(dir, stem+".*"))
	if err != nil {
		return
	}
	for _, match := range matches {
		if storage.IsMarker(match) {
			continue
		}
		if err := os.Remove(match); err != nil && !errors.Is(err, os.ErrNotExist) {
			internal.LogWarn("Failed to remove staging file %s: %v", match, err)
		}
	}
}
