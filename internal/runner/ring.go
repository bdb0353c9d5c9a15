// Package runner is the CLI side of a bridged session: it spawns the
// assistant (in a PTY or as one-shot agent turns), mirrors its terminal,
// tails its JSONL session log, and exchanges input, control actions and
// events with the daemon.
package runner

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// ringCap bounds the stripped tail. Approval prompts render within the
// last screenful, so a small window is enough.
const ringCap = 2048

const (
	stripNormal = iota
	stripEsc
	stripCSI
	stripOSC
	stripOSCEsc
)

// Ring keeps a rolling ANSI-stripped tail of the child's terminal
// output. It is written from the PTY reader and read from the approval
// scanner.
type Ring struct {
	mu    sync.Mutex
	buf   []byte
	state int
}

func NewRing() *Ring {
	return &Ring{buf: make([]byte, 0, ringCap)}
}

// Write strips escape sequences from p and appends the printable
// remainder, keeping only the most recent ringCap bytes. Always
// succeeds; the signature exists so the PTY pipe can treat the ring as
// one more output sink.
func (g *Ring) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := len(p)
	for len(p) > 0 {
		r, sz := utf8.DecodeRune(p)
		if r == utf8.RuneError && sz == 1 {
			r = rune(p[0])
		}
		p = p[sz:]

		switch g.state {
		case stripEsc:
			switch r {
			case '[':
				g.state = stripCSI
			case ']':
				g.state = stripOSC
			default:
				g.state = stripNormal
			}
			continue
		case stripCSI:
			// A final byte in 0x40-0x7E ends the sequence.
			if r >= 0x40 && r <= 0x7E {
				if r == 'J' {
					// Erase-display wipes the screen; drop the
					// mirrored tail with it.
					g.buf = g.buf[:0]
				}
				g.state = stripNormal
			}
			continue
		case stripOSC:
			// OSC ends with BEL or ST (ESC \).
			if r == 0x07 {
				g.state = stripNormal
			} else if r == 0x1B {
				g.state = stripOSCEsc
			}
			continue
		case stripOSCEsc:
			switch r {
			case '\\':
				g.state = stripNormal
			case 0x1B:
				g.state = stripOSCEsc
			default:
				g.state = stripOSC
			}
			continue
		}

		switch r {
		case 0x1B:
			g.state = stripEsc
		case '\r':
			// Column reset only; CRLF output must not double lines.
		case '\n':
			g.buf = append(g.buf, '\n')
		case 0x08, 0x7F:
			if _, sz := utf8.DecodeLastRune(g.buf); sz > 0 {
				g.buf = g.buf[:len(g.buf)-sz]
			}
		case '\t':
			g.buf = append(g.buf, ' ')
		default:
			if r >= 0x20 {
				g.buf = utf8.AppendRune(g.buf, r)
			}
		}
	}

	if len(g.buf) > ringCap {
		cut := len(g.buf) - ringCap
		for cut < len(g.buf) && g.buf[cut]&0xC0 == 0x80 {
			cut++
		}
		g.buf = append(g.buf[:0], g.buf[cut:]...)
	}
	return n, nil
}

// Tail returns the current stripped window.
func (g *Ring) Tail() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return string(g.buf)
}

// Reset clears the window and the escape parser. Called on relaunch so
// a prompt from the previous child cannot leak into the next scan.
func (g *Ring) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buf = g.buf[:0]
	g.state = stripNormal
}

// Contains reports whether the current window holds s.
func (g *Ring) Contains(s string) bool {
	return strings.Contains(g.Tail(), s)
}
