package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/l1nkz/rpatchur/internal/patcher"
)

// cliSink renders patcher.Status updates to stderr. When stderr is a
// terminal, progress lines overwrite themselves with a carriage return
// instead of scrolling.
type cliSink struct {
	mu        sync.Mutex
	isTTY     bool
	ttyChecked bool
	lastLineLen int
}

func (s *cliSink) DispatchStatus(st patcher.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ttyChecked {
		s.isTTY = isatty.IsTerminal(os.Stderr.Fd())
		s.ttyChecked = true
	}

	var line string
	switch st.Kind {
	case patcher.StatusDownloadInProgress:
		line = fmt.Sprintf("downloading patches: %d/%d (%d B/s)", st.PatchesDownloaded, st.PatchesToDownload, st.DownloadBytesPerSec)
	case patcher.StatusInstallationInProgress:
		line = fmt.Sprintf("applying patches: %d/%d", st.PatchesApplied, st.PatchesToApply)
	case patcher.StatusReady:
		line = "ready"
	case patcher.StatusError:
		line = fmt.Sprintf("error: %v", st.Err)
	default:
		return
	}
	s.writeLine(line)
}

func (s *cliSink) writeLine(line string) {
	if s.isTTY {
		pad := s.lastLineLen - len(line)
		if pad < 0 {
			pad = 0
		}
		fmt.Fprintf(os.Stderr, "\r%s%*s", line, pad, "")
		s.lastLineLen = len(line)
		return
	}
	fmt.Fprintln(os.Stderr, line)
}
