package patcher

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/xerrors"

	"github.com/l1nkz/rpatchur/gruf/thor"
)

// fetchPatchList downloads and parses the plist.txt file located at
// plistURL.
func fetchPatchList(ctx context.Context, httpClient *http.Client, plistURL string) (thor.PatchList, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, plistURL, nil)
	if err != nil {
		return nil, xerrors.Errorf("build request for patch list: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Errorf("fetch patch list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.Errorf("patch list file not found on the remote server (status %d)", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xerrors.Errorf("read patch list response body: %w", err)
	}
	return thor.ParsePatchList(string(body)), nil
}

// progressFunc is invoked as a download progresses, with the total bytes
// downloaded so far and the (possibly unknown, i.e. zero) total size.
type progressFunc func(downloadedBytes, totalBytes int64)

// downloadFile streams patchURL joined with patchFileName into w, invoking
// onProgress as bytes arrive.
func downloadFile(ctx context.Context, httpClient *http.Client, patchURL *url.URL, patchFileName string, w io.Writer, onProgress progressFunc) error {
	fileURL, err := patchURL.Parse(patchFileName)
	if err != nil {
		return xerrors.Errorf("invalid file name %q given in patch list file: %w", patchFileName, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL.String(), nil)
	if err != nil {
		return xerrors.Errorf("build request for %q: %w", patchFileName, err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return xerrors.Errorf("download file %q: %w", patchFileName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return xerrors.Errorf("patch file %q not found on the remote server (status %d)", patchFileName, resp.StatusCode)
	}

	totalBytes := resp.ContentLength
	var downloaded int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return xerrors.Errorf("write downloaded data for %q: %w", patchFileName, err)
			}
			downloaded += int64(n)
			if onProgress != nil {
				onProgress(downloaded, totalBytes)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return xerrors.Errorf("download file %q: %w", patchFileName, readErr)
		}
	}
}
