package patcher

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/l1nkz/rpatchur/gruf"
	"github.com/l1nkz/rpatchur/gruf/thor"
	"github.com/l1nkz/rpatchur/internal/patchapply"
)

// maxConcurrentDownloads bounds how many patch files are in flight at once,
// so a long patch list doesn't open hundreds of sockets at the same time.
const maxConcurrentDownloads = 32

type pendingPatch struct {
	info          thor.PatchInfo
	localFilePath string
}

// Runner drives one end-to-end patching run: fetch the patch list, skip
// what the cache says is already applied, download the rest concurrently,
// then apply them in strict index order.
type Runner struct {
	config        Configuration
	sink          Sink
	cacheFilePath string
	httpClient    *http.Client
}

// NewRunner builds a Runner. cacheFilePath is where the last-applied patch
// index is persisted between runs.
func NewRunner(config Configuration, sink Sink, cacheFilePath string) *Runner {
	if sink == nil {
		sink = DiscardSink{}
	}
	return &Runner{
		config:        config,
		sink:          sink,
		cacheFilePath: cacheFilePath,
		httpClient:    &http.Client{Timeout: 0},
	}
}

// Run executes the patching pipeline, blocking until it completes, fails,
// or is canceled. It first waits for a CommandStart on cmds; any
// CommandCancel received afterward aborts the run with ctx.Err() ==
// context.Canceled.
func (r *Runner) Run(ctx context.Context, cmds <-chan Command) error {
	if !waitForStart(cmds) {
		return xerrors.New("command channel was closed before a start command was received")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go watchForCancellation(cmds, cancel)

	if err := r.runOnce(ctx); err != nil {
		r.sink.DispatchStatus(Status{Kind: StatusError, Err: err})
		return err
	}
	r.sink.DispatchStatus(Status{Kind: StatusReady})
	return nil
}

func (r *Runner) runOnce(ctx context.Context) error {
	patchList, err := fetchPatchList(ctx, r.httpClient, r.config.Web.PlistURL)
	if err != nil {
		return xerrors.Errorf("retrieve the patch list: %w", err)
	}

	log.Printf("fetched patch list: %d patch(es)", len(patchList))
	if cache, err := ReadCacheFile(r.cacheFilePath); err == nil {
		patchList = filterAlreadyApplied(patchList, cache.LastPatchIndex)
		log.Printf("cache reports last applied index %d, %d patch(es) remaining", cache.LastPatchIndex, len(patchList))
	}

	if len(patchList) == 0 {
		log.Print("nothing to do, already up to date")
		return nil
	}

	patchURL, err := url.Parse(r.config.Web.PatchURL)
	if err != nil {
		return xerrors.Errorf("parse patch_url: %w", err)
	}
	tmpDir, err := os.MkdirTemp("", "rpatchur-*")
	if err != nil {
		return xerrors.Errorf("create temporary directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pending, err := r.downloadPatches(ctx, patchURL, patchList, tmpDir)
	if err != nil {
		return xerrors.Errorf("download patches: %w", err)
	}

	return r.applyPatches(ctx, pending)
}

// filterAlreadyApplied drops every patch at or before lastIndex, but only
// if lastIndex actually appears in the list — an unrecognized cached index
// likely means the patch list was regenerated, and filtering blindly could
// skip patches that were never actually applied.
func filterAlreadyApplied(list thor.PatchList, lastIndex int) thor.PatchList {
	found := false
	for _, p := range list {
		if p.Index == lastIndex {
			found = true
			break
		}
	}
	if !found {
		return list
	}
	filtered := make(thor.PatchList, 0, len(list))
	for _, p := range list {
		if p.Index > lastIndex {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// progressWindow tracks bytes downloaded across all in-flight transfers
// over a rolling one-second window, to report a single download speed to
// the UI rather than one per file.
type progressWindow struct {
	mu          sync.Mutex
	windowStart time.Time
	windowBytes uint64
}

func (w *progressWindow) add(deltaBytes uint64) (bytesPerSec uint64, ready bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.windowStart.IsZero() {
		w.windowStart = nowOrZero()
	}
	w.windowBytes += deltaBytes
	elapsed := time.Since(w.windowStart)
	if elapsed < time.Second {
		return 0, false
	}
	bytesPerSec = uint64(float64(w.windowBytes) / elapsed.Seconds())
	w.windowStart = nowOrZero()
	w.windowBytes = 0
	return bytesPerSec, true
}

// nowOrZero isolates the one non-deterministic call in this file so tests
// can substitute it if ever needed; today it's just time.Now.
func nowOrZero() time.Time { return time.Now() }

func (r *Runner) downloadPatches(ctx context.Context, patchURL *url.URL, patchList thor.PatchList, downloadDir string) ([]pendingPatch, error) {
	patchCount := len(patchList)
	r.sink.DispatchStatus(Status{Kind: StatusDownloadInProgress, PatchesToDownload: patchCount})

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDownloads)

	var downloadedCount atomic.Int64
	window := &progressWindow{}
	results := make([]pendingPatch, patchCount)

	for i, info := range patchList {
		i, info := i, info
		g.Go(func() error {
			localPath := filepath.Join(downloadDir, info.FileName)
			f, err := os.Create(localPath)
			if err != nil {
				return xerrors.Errorf("create temporary file for %q: %w", info.FileName, err)
			}
			defer f.Close()

			var lastDownloaded int64
			onProgress := func(downloaded, _ int64) {
				delta := downloaded - lastDownloaded
				lastDownloaded = downloaded
				if bps, ready := window.add(uint64(delta)); ready {
					r.sink.DispatchStatus(Status{
						Kind:                StatusDownloadInProgress,
						PatchesDownloaded:   int(downloadedCount.Load()),
						PatchesToDownload:   patchCount,
						DownloadBytesPerSec: bps,
					})
				}
			}
			if err := downloadFile(ctx, r.httpClient, patchURL, info.FileName, f, onProgress); err != nil {
				return err
			}

			if r.config.Patching.CheckIntegrity {
				valid, err := isArchiveValid(localPath)
				if err != nil {
					return xerrors.Errorf("check archive's integrity for %q: %w", info.FileName, err)
				}
				if !valid {
					return xerrors.Errorf("archive %q is corrupt", info.FileName)
				}
			}

			downloadedCount.Add(1)
			r.sink.DispatchStatus(Status{
				Kind:               StatusDownloadInProgress,
				PatchesDownloaded:  int(downloadedCount.Load()),
				PatchesToDownload:  patchCount,
			})
			results[i] = pendingPatch{info: info, localFilePath: localPath}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].info.Index < results[j].info.Index })
	return results, nil
}

// isArchiveValid checks a THOR archive's data.integrity manifest. An
// archive with no manifest at all is considered valid: the reference
// client treats a missing checksum file as nothing to check, not as
// corruption.
func isArchiveValid(path string) (bool, error) {
	archive, err := thor.Open(path)
	if err != nil {
		return false, xerrors.Errorf("open archive: %w", err)
	}
	defer archive.Close()

	valid, err := archive.IsValid()
	if err != nil {
		if grufErr, ok := err.(*gruf.Error); ok && grufErr.Kind == gruf.KindEntryNotFound {
			return true, nil
		}
		return false, err
	}
	return valid, nil
}

func (r *Runner) applyPatches(ctx context.Context, pending []pendingPatch) error {
	patchCount := len(pending)
	r.sink.DispatchStatus(Status{Kind: StatusInstallationInProgress, PatchesToApply: patchCount})

	workingDir, err := os.Getwd()
	if err != nil {
		return xerrors.Errorf("resolve current working directory: %w", err)
	}

	for i, patch := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		log.Printf("applying patch %d/%d: %s", i+1, patchCount, patch.info.FileName)
		thorArchive, err := thor.Open(patch.localFilePath)
		if err != nil {
			return xerrors.Errorf("open %q: %w", patch.info.FileName, err)
		}
		applyErr := r.applyOnePatch(workingDir, thorArchive)
		thorArchive.Close()
		if applyErr != nil {
			return xerrors.Errorf("apply %q: %w", patch.info.FileName, applyErr)
		}

		if err := WriteCacheFile(r.cacheFilePath, Cache{LastPatchIndex: patch.info.Index}); err != nil {
			// Non-fatal: a stale cache only costs a redundant download
			// on the next run, not corruption.
			log.Printf("write cache file: %v", err)
			r.sink.DispatchStatus(Status{Kind: StatusError, Err: xerrors.Errorf("write cache file: %w", err)})
		}

		r.sink.DispatchStatus(Status{
			Kind:           StatusInstallationInProgress,
			PatchesApplied: i + 1,
			PatchesToApply: patchCount,
		})
	}
	return nil
}

func (r *Runner) applyOnePatch(workingDir string, thorArchive *thor.Reader) error {
	if thorArchive.UseGrfMerging() {
		targetGrfName := thorArchive.TargetGrfName()
		if targetGrfName == "" {
			targetGrfName = r.config.Client.DefaultGrfName
		}
		method := patchapply.OutOfPlace
		if r.config.Patching.InPlace {
			method = patchapply.InPlace
		}
		targetGrfPath := filepath.Join(workingDir, targetGrfName)
		return patchapply.ApplyPatchToGrf(method, r.config.Patching.CreateGrf, targetGrfPath, thorArchive)
	}
	return patchapply.ApplyPatchToDisk(workingDir, thorArchive)
}
