package metadata

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// CommentKey is the container tag the summary is stored under.
const CommentKey = "comment"

// ErrNoComment is returned by ReadComment when the clip carries no comment.
var ErrNoComment = errors.New("metadata: clip has no comment")

// Tagger rewrites clip metadata through ffmpeg stream-copy remuxing. The
// remux output goes to a sibling temp file which then replaces the clip, so
// the original is never partially overwritten.
type Tagger struct {
	ffmpegPath string
	logger     *zap.Logger

	mu    sync.Mutex
	locks map[string]*clipLock
}

type clipLock struct {
	mu   sync.Mutex
	refs int
}

// NewTagger returns a Tagger using the ffmpeg binary at ffmpegPath, or the
// one on PATH when empty.
func NewTagger(ffmpegPath string, logger *zap.Logger) *Tagger {
	if ffmpegPath == "" {
		ffmpegPath = detectFFmpeg()
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Tagger{
		ffmpegPath: ffmpegPath,
		logger:     logger.Named("tagger"),
		locks:      make(map[string]*clipLock),
	}
}

func detectFFmpeg() string {
	if p, err := exec.LookPath("ffmpeg"); err == nil {
		return p
	}
	return "ffmpeg"
}

// Tag formats labels and writes the result into the clip's comment. It
// returns the comment that was written, or attempted.
func (t *Tagger) Tag(ctx context.Context, clipPath string, labels []string) (string, error) {
	comment := FormatLabels(labels)
	return comment, t.WriteComment(ctx, clipPath, comment)
}

// WriteComment replaces the clip's comment tag. On failure the temp output
// is removed and the clip is left as it was.
func (t *Tagger) WriteComment(ctx context.Context, clipPath, comment string) error {
	unlock := t.lock(clipPath)
	defer unlock()

	if _, err := os.Stat(clipPath); err != nil {
		return fmt.Errorf("tag %s: %w", clipPath, err)
	}

	tmp := tempPath(clipPath)
	cmd := exec.CommandContext(ctx, t.ffmpegPath,
		"-y", "-loglevel", "error",
		"-i", clipPath,
		"-metadata", CommentKey+"="+comment,
		"-codec", "copy",
		tmp,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		t.discard(tmp)
		return fmt.Errorf("remux %s: %w: %s", clipPath, err, strings.TrimSpace(stderr.String()))
	}

	if err := os.Rename(tmp, clipPath); err != nil {
		t.discard(tmp)
		return fmt.Errorf("replace %s: %w", clipPath, err)
	}

	t.logger.Debug("Clip tagged", zap.String("clip", clipPath), zap.String("comment", comment))
	return nil
}

// ReadComment returns the comment tag of a clip.
func (t *Tagger) ReadComment(ctx context.Context, clipPath string) (string, error) {
	cmd := exec.CommandContext(ctx, t.ffmpegPath,
		"-loglevel", "error",
		"-i", clipPath,
		"-f", "ffmetadata", "-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("read metadata %s: %w: %s", clipPath, err, strings.TrimSpace(stderr.String()))
	}

	tags, err := parseFFMetadata(bytes.NewReader(out))
	if err != nil {
		return "", fmt.Errorf("parse metadata %s: %w", clipPath, err)
	}
	comment, ok := tags[CommentKey]
	if !ok {
		return "", ErrNoComment
	}
	return comment, nil
}

func (t *Tagger) lock(path string) func() {
	t.mu.Lock()
	l, ok := t.locks[path]
	if !ok {
		l = &clipLock{}
		t.locks[path] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, path)
		}
		t.mu.Unlock()
	}
}

func (t *Tagger) discard(tmp string) {
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		t.logger.Warn("Failed to remove temp remux output", zap.String("path", tmp), zap.Error(err))
	}
}

// tempPath keeps the extension so ffmpeg picks the same muxer.
func tempPath(clipPath string) string {
	dir, name := filepath.Split(clipPath)
	ext := filepath.Ext(name)
	return filepath.Join(dir, "."+strings.TrimSuffix(name, ext)+".tagging"+ext)
}

// parseFFMetadata reads the global section of an ffmetadata document.
// Values may contain backslash escapes, including escaped newlines.
func parseFFMetadata(r io.Reader) (map[string]string, error) {
	tags := make(map[string]string)
	sc := bufio.NewScanner(r)

	var pending strings.Builder
	for sc.Scan() {
		line := sc.Text()
		if pending.Len() == 0 {
			if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
				continue
			}
			if strings.HasPrefix(line, "[") {
				break
			}
		}

		// A trailing unescaped backslash continues the entry on the next line.
		if trailingBackslashes(line)%2 == 1 {
			pending.WriteString(line[:len(line)-1])
			pending.WriteString("\n")
			continue
		}
		pending.WriteString(line)

		key, value, ok := splitEntry(pending.String())
		pending.Reset()
		if ok {
			tags[strings.ToLower(key)] = value
		}
	}
	return tags, sc.Err()
}

func trailingBackslashes(s string) int {
	n := 0
	for i := len(s) - 1; i >= 0 && s[i] == '\\'; i-- {
		n++
	}
	return n
}

// splitEntry splits at the first unescaped '=' and unescapes both halves.
func splitEntry(s string) (string, string, bool) {
	var key strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				i++
				key.WriteByte(s[i])
			}
		case '=':
			return key.String(), unescape(s[i+1:]), true
		default:
			key.WriteByte(s[i])
		}
	}
	return "", "", false
}

func unescape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
