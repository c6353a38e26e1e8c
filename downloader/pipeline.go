package downloader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"mediadrop/internal"
	"mediadrop/storage"
	"mediadrop/utils"
)

// maxNameAttempts bounds the " (n)" suffixes tried for a busy output name
const maxNameAttempts = 9

// PipelineOptions configures a Pipeline
type PipelineOptions struct {
	StorageDir     string
	BaseURL        string
	TicketTTL      time.Duration
	MaxConcurrent  int
	AllowedDomains []string
}

// PipelineOptionsFromConfig derives pipeline options from the application config
func PipelineOptionsFromConfig(cfg *internal.Config) PipelineOptions {
	return PipelineOptions{
		StorageDir:     cfg.StorageDir,
		BaseURL:        cfg.PublicBaseURL,
		TicketTTL:      cfg.TicketTTL,
		MaxConcurrent:  cfg.MaxConcurrent,
		AllowedDomains: cfg.AllowedDomains,
	}
}

// Pipeline turns a media request into a file in the storage directory and
// hands it out exactly once. Every file it touches is reserved in the
// registry from before it exists until after it is deleted.
type Pipeline struct {
	extractor internal.Extractor
	locks     internal.LockRegistry
	validator *utils.URLValidator
	fileOps   *utils.FileOperations
	slots     *semaphore.Weighted
	opts      PipelineOptions

	now   func() time.Time
	newID func() string
}

// NewPipeline wires a pipeline around an extractor and a lock registry
func NewPipeline(extractor internal.Extractor, locks internal.LockRegistry, opts PipelineOptions) *Pipeline {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Pipeline{
		extractor: extractor,
		locks:     locks,
		validator: utils.NewURLValidator(opts.AllowedDomains...),
		fileOps:   utils.NewFileOperations(),
		slots:     semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		opts:      opts,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Prepare validates req, downloads the selected rendition and reserves it
// under its final name. The returned ticket is the only way to fetch the
// file. On failure nothing stays reserved and no file is left behind.
func (p *Pipeline) Prepare(ctx context.Context, req internal.MediaRequest) (*internal.Ticket, error) {
	if err := p.validator.ValidateURL(req.URL); err != nil {
		return nil, err
	}
	quality := NormalizeQuality(req.Quality)

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.slots.Release(1)

	renditions, err := p.extractor.ListRenditions(ctx, req.URL, req.Credentials)
	if err != nil {
		return nil, asSourceError(req.URL, err)
	}
	if len(renditions) == 0 {
		return nil, internal.NewSourceError(req.URL, errors.New("no formats available"))
	}

	formatID := SelectRendition(renditions, quality)
	internal.LogDebug("Selected format %s for quality %s", formatID, quality)

	stem := p.newID()
	if err := p.locks.Acquire(stem, ""); err != nil {
		return nil, internal.NewFilesystemError("reserve staging name", stem, err)
	}
	defer p.locks.Release(stem)

	fetched, err := p.extractor.Fetch(ctx, req.URL, formatID, req.Credentials, stem)
	if err != nil {
		return nil, asFetchError(req.URL, formatID, err)
	}
	// a request abandoned during the fetch must not publish anything
	if err := ctx.Err(); err != nil {
		p.discard(fetched.Path)
		return nil, err
	}

	result, token, err := p.publish(fetched)
	if err != nil {
		return nil, err
	}

	internal.LogInfo("Prepared %s (%s) from %s", result.Name, utils.FormatBytes(result.Size), req.URL)

	return &internal.Ticket{
		Name:        result.Name,
		Token:       token,
		DownloadURL: utils.DeliveryURL(p.opts.BaseURL, result.Name, token),
		Size:        result.Size,
		ExpiresAt:   p.now().Add(p.opts.TicketTTL),
	}, nil
}

// publish moves a staged fetch to its sanitized final name. The final name
// stays reserved under the returned token; on failure the staged file is
// removed and nothing stays reserved.
func (p *Pipeline) publish(fetched *internal.FetchResult) (*internal.DownloadResult, string, error) {
	name, token, err := p.reserveName(utils.SanitizeFilename(fetched.Title, fetched.Ext))
	if err != nil {
		p.discard(fetched.Path)
		return nil, "", err
	}

	path := filepath.Join(p.opts.StorageDir, name)
	if err := p.fileOps.AtomicRename(fetched.Path, path); err != nil {
		p.discard(fetched.Path)
		p.locks.Release(name)
		return nil, "", internal.NewFilesystemError("rename", path, err)
	}

	size, err := p.fileOps.GetFileSize(path)
	if err != nil {
		p.discard(path)
		p.locks.Release(name)
		return nil, "", internal.NewFilesystemError("stat", path, err)
	}

	return &internal.DownloadResult{Name: name, Path: path, Size: size}, token, nil
}

// reserveName acquires base, or base with a " (n)" suffix when it is busy
func (p *Pipeline) reserveName(base string) (string, string, error) {
	token := p.newID()

	for n := 1; n <= maxNameAttempts; n++ {
		name := base
		if n > 1 {
			name = utils.NumberedName(base, n)
		}

		err := p.locks.Acquire(name, token)
		if err == nil {
			return name, token, nil
		}
		if !errors.Is(err, storage.ErrAlreadyLocked) {
			return "", "", internal.NewFilesystemError("reserve name", name, err)
		}
	}

	return "", "", internal.NewNameInUseError(base)
}

func (p *Pipeline) discard(path string) {
	if err := p.fileOps.RemoveIfExists(path); err != nil {
		internal.LogWarn("Failed to remove %s: %v", path, err)
	}
}

// Open claims the delivery of name for the holder of token. It fails with a
// not-found error for unknown names, wrong tokens and deliveries that were
// already claimed. The caller must Close the delivery.
func (p *Pipeline) Open(name, token string) (*Delivery, error) {
	if err := p.locks.Claim(name, token); err != nil {
		return nil, internal.NewNotFoundError(name).WithCause(err)
	}

	path := filepath.Join(p.opts.StorageDir, name)
	file, err := os.Open(path)
	if err != nil {
		p.locks.Release(name)
		return nil, internal.NewNotFoundError(name).WithCause(err)
	}

	info, err := file.Stat()
	if err != nil || !info.Mode().IsRegular() {
		file.Close()
		p.locks.Release(name)
		if err == nil {
			err = fmt.Errorf("%s is not a regular file", name)
		}
		return nil, internal.NewNotFoundError(name).WithCause(err)
	}

	internal.LogDebug("Serving %s", name)

	return &Delivery{
		Name:    name,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		file:    file,
		path:    path,
		release: p.locks.Release,
	}, nil
}

// Delivery is a claimed file being streamed to its requester
type Delivery struct {
	Name    string
	Size    int64
	ModTime time.Time

	file    *os.File
	path    string
	release func(name string)

	once     sync.Once
	closeErr error
}

func (d *Delivery) Read(p []byte) (int, error) {
	return d.file.Read(p)
}

func (d *Delivery) Seek(offset int64, whence int) (int64, error) {
	return d.file.Seek(offset, whence)
}

// Close deletes the file and releases its reservation. Only the first call
// does anything, whether or not the file was read to the end.
func (d *Delivery) Close() error {
	d.once.Do(func() {
		d.closeErr = d.file.Close()

		if err := os.Remove(d.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			internal.LogMediaError(internal.NewFilesystemError("delete", d.path, err))
			if d.closeErr == nil {
				d.closeErr = err
			}
		}

		d.release(d.Name)
		internal.LogDebug("Cleaned up %s", d.Name)
	})
	return d.closeErr
}

func asSourceError(url string, err error) error {
	if _, ok := internal.AsMediaError(err); ok {
		return err
	}
	return internal.NewSourceError(url, err)
}

func asFetchError(url, formatID string, err error) error {
	if _, ok := internal.AsMediaError(err); ok {
		return err
	}
	return internal.NewFetchError(url, formatID, err)
}
