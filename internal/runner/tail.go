package runner

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"touchgrass/internal/assistant"
	"touchgrass/internal/tool"
)

// tailPollInterval drives the fallback scan that covers dropped
// filesystem events and dated directories rolling past midnight.
var tailPollInterval = 2 * time.Second

// rolloverScanRecords bounds how many leading records of a new file are
// searched for a reference to the active vendor session.
const rolloverScanRecords = 80

// Tail follows the assistant's JSONL session log for one child launch:
// it discovers which file belongs to this run, reads appended records
// incrementally, and parses them into forwarded events. All fields are
// owned by the Run goroutine.
type Tail struct {
	tool   *tool.Tool
	cwd    string
	resume string
	emit   func(*assistant.ParsedMessage)
	attach func(path string)

	parser  *assistant.Parser
	watcher *fsnotify.Watcher
	dir     string
	seen    map[string]int64 // preexisting files and their sizes at start
	scanned map[string]int   // rollover candidate lines already checked

	file      string
	offset    int64
	carry     []byte
	sessionID string
}

// newTail prepares a tail. resume names the vendor session this run
// continues, if known, so its file is followed from the current end
// instead of waiting for it to grow.
func newTail(t *tool.Tool, cwd, resume string, emit func(*assistant.ParsedMessage), attach func(string)) *Tail {
	return &Tail{
		tool:    t,
		cwd:     cwd,
		resume:  resume,
		emit:    emit,
		attach:  attach,
		parser:  assistant.NewParser(),
		seen:    make(map[string]int64),
		scanned: make(map[string]int),
	}
}

// Run follows the log until ctx is done. Discovery trouble is logged
// and retried on the next tick; it never aborts the session.
func (tl *Tail) Run(ctx context.Context) {
	dir, err := tl.tool.JSONLDir(tl.cwd, time.Now())
	if err != nil {
		log.Printf("tail: resolve %s log dir: %v", tl.tool.Name, err)
		return
	}
	tl.dir = dir
	tl.snapshot()

	if w, err := fsnotify.NewWatcher(); err != nil {
		log.Printf("tail: filesystem watch unavailable, polling only: %v", err)
	} else {
		tl.watcher = w
		defer w.Close()
		w.Add(tl.dir)
	}

	if tl.resume != "" {
		path := filepath.Join(tl.dir, tl.resume+".jsonl")
		if fi, err := os.Stat(path); err == nil {
			tl.attachFile(path, fi.Size())
		}
	}

	var events chan fsnotify.Event
	var errs chan error
	if tl.watcher != nil {
		events = tl.watcher.Events
		errs = tl.watcher.Errors
	}
	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && strings.HasSuffix(ev.Name, ".jsonl") {
				tl.check(ev.Name)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("tail: watch: %v", err)
		case <-ticker.C:
			tl.poll()
		case <-ctx.Done():
			return
		}
	}
}

// snapshot records the files already present so only growth after this
// point is treated as session output.
func (tl *Tail) snapshot() {
	entries, err := os.ReadDir(tl.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		tl.seen[filepath.Join(tl.dir, e.Name())] = info.Size()
	}
}

// poll is the watch fallback: rescan the directory and re-stat the
// active file.
func (tl *Tail) poll() {
	if dir, err := tl.tool.JSONLDir(tl.cwd, time.Now()); err == nil && dir != tl.dir {
		tl.dir = dir
		if tl.watcher != nil {
			tl.watcher.Add(dir)
		}
	}
	entries, err := os.ReadDir(tl.dir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
				continue
			}
			tl.check(filepath.Join(tl.dir, e.Name()))
		}
	}
	if tl.file != "" {
		tl.readMore()
	}
}

// check routes one candidate path: read the active file, adopt the
// first file that belongs to this run, or test a newcomer for a claude
// rollover.
func (tl *Tail) check(path string) {
	if path == tl.file {
		tl.readMore()
		return
	}
	if tl.file == "" {
		fi, err := os.Stat(path)
		if err != nil {
			return
		}
		snap, known := tl.seen[path]
		if !known {
			tl.attachFile(path, 0)
		} else if fi.Size() > snap {
			// A preexisting file that grows is a resumed session.
			tl.attachFile(path, snap)
		}
		return
	}
	if _, preexisting := tl.seen[path]; preexisting {
		return
	}
	if tl.tool.RolloverAware() && tl.rollsOver(path) {
		log.Printf("tail: session rolled over to %s", filepath.Base(path))
		tl.attachFile(path, 0)
	}
}

// rollsOver reports whether the leading records of path reference the
// active vendor session id. The check re-runs while the file is still
// short, since the referencing record may not have been written yet.
func (tl *Tail) rollsOver(path string) bool {
	if tl.sessionID == "" || tl.scanned[path] >= rolloverScanRecords {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	ref := []byte(tl.sessionID)
	br := bufio.NewReader(f)
	lines := 0
	for lines < rolloverScanRecords {
		line, err := br.ReadBytes('\n')
		if err != nil {
			break
		}
		lines++
		if bytes.Contains(line, ref) {
			return true
		}
	}
	tl.scanned[path] = lines
	return false
}

// attachFile points the tail at path and drains whatever is already
// beyond offset. A fresh parser starts with the file: tool-use ids
// never span files.
func (tl *Tail) attachFile(path string, offset int64) {
	if tl.watcher != nil {
		if tl.file != "" {
			tl.watcher.Remove(tl.file)
		}
		// Watch the file itself as well; kqueue backends only report
		// child writes for watched files, not for watched directories.
		tl.watcher.Add(path)
	}
	tl.file = path
	tl.offset = offset
	tl.carry = nil
	tl.sessionID = ""
	tl.parser = assistant.NewParser()
	if tl.attach != nil {
		tl.attach(path)
	}
	log.Printf("tail: following %s", filepath.Base(path))
	tl.readMore()
}

// readMore consumes the bytes appended to the active file since the
// last read. A shrunken file restarts from zero.
func (tl *Tail) readMore() {
	f, err := os.Open(tl.file)
	if err != nil {
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return
	}
	if fi.Size() < tl.offset {
		tl.offset = 0
		tl.carry = nil
	}
	if fi.Size() == tl.offset {
		return
	}
	if _, err := f.Seek(tl.offset, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(io.LimitReader(f, fi.Size()-tl.offset))
	if len(data) == 0 && err != nil {
		return
	}
	tl.offset += int64(len(data))

	buf := append(tl.carry, data...)
	for {
		nl := bytes.IndexByte(buf, '\n')
		if nl < 0 {
			break
		}
		line := buf[:nl]
		buf = buf[nl+1:]
		tl.handleLine(bytes.TrimSuffix(line, []byte{'\r'}))
	}
	tl.carry = append([]byte(nil), buf...)
}

func (tl *Tail) handleLine(line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	if tl.sessionID == "" {
		if id := assistant.SessionIDOf(line); id != "" {
			tl.sessionID = id
		}
	}
	if msg, ok := tl.parser.Parse(line); ok {
		tl.emit(msg)
	}
}
