// Package player drives an external media player process as the playback
// element. Start offsets are passed on the command line and progress is
// estimated from wall-clock time since launch. Players that can print the
// media duration at startup (mpv) report it, which lets a clean exit be told
// apart from the viewer closing the player early.
package player

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/feedplay/internal/stream"
)

// ErrNoPlayer is returned when no configured or known player is installed
var ErrNoPlayer = errors.New("no media player found")

const (
	DefaultTickInterval = time.Second

	// durationMarker prefixes the stdout line carrying the media duration
	durationMarker = "feedplay-duration="

	// endTolerance is how close to the duration a clean exit must be to count
	// as the natural end
	endTolerance = 2 * time.Second
)

// playerConfig describes how to pass a resume offset to a known player
type playerConfig struct {
	offsetFlag   string
	durationArgs []string // ask the player to print durationMarker on start
	platforms    []string
}

// players registry - offset flags for players that stay in the foreground
var players = map[string]playerConfig{
	"mpv": {
		offsetFlag:   "--start=",
		durationArgs: []string{"--term-playing-msg=" + durationMarker + "${=duration:}"},
		platforms:    []string{"darwin", "linux", "windows"},
	},
	"vlc":       {offsetFlag: "--start-time=", platforms: []string{"darwin", "linux", "windows"}},
	"celluloid": {offsetFlag: "--mpv-start=", platforms: []string{"linux"}},
	"haruna":    {offsetFlag: "--mpv-start=", platforms: []string{"linux"}},
	"ffplay":    {offsetFlag: "-ss ", platforms: []string{"darwin", "linux", "windows"}},
}

// candidatePlayers defines the preferred player order for each platform
var candidatePlayers = map[string][]string{
	"darwin":  {"mpv", "vlc", "ffplay"},
	"linux":   {"mpv", "celluloid", "haruna", "vlc", "ffplay"},
	"windows": {"mpv", "vlc", "ffplay"},
}

// Options configures the external player
type Options struct {
	Command      string   // empty auto-detects a known player
	Args         []string // extra arguments placed before the URL
	StartFlag    string   // offset flag, e.g. "--start=" or "-ss "
	TickInterval time.Duration
}

// Player runs one player process at a time. It implements stream.Element.
type Player struct {
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	proc *process
}

var _ stream.Element = (*Player)(nil)

type process struct {
	cancel  context.CancelFunc
	done    chan struct{}
	offset  time.Duration
	started time.Time

	mu       sync.Mutex
	duration time.Duration
	exited   bool
	final    time.Duration
}

// position is clamped to the duration once it is known and frozen at exit
func (p *process) position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return p.final
	}
	pos := p.offset + time.Since(p.started)
	if p.duration > 0 && pos > p.duration {
		return p.duration
	}
	return pos
}

// exit freezes the position and returns it
func (p *process) exit() time.Duration {
	pos := p.position()
	p.mu.Lock()
	p.exited, p.final = true, pos
	p.mu.Unlock()
	return pos
}

func (p *process) getDuration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func (p *process) setDuration(d time.Duration) {
	p.mu.Lock()
	p.duration = d
	p.mu.Unlock()
}

// reachedEnd reports whether a clean exit at pos is the natural end
func (p *process) reachedEnd(pos time.Duration) bool {
	d := p.getDuration()
	return d > 0 && pos >= d-endTolerance
}

// New creates a Player. A known command gets its offset flag detected.
func New(opts Options, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.StartFlag == "" && opts.Command != "" {
		if cfg, ok := players[playerName(opts.Command)]; ok {
			opts.StartFlag = cfg.offsetFlag
			logger.Debug("auto-detected player offset flag", "player", playerName(opts.Command), "flag", opts.StartFlag)
		}
	}
	return &Player{opts: opts, logger: logger}
}

func playerName(command string) string {
	base := filepath.Base(command)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.ToLower(base)
}

// resolve picks the command and offset flag to launch with
func (p *Player) resolve() (string, string, error) {
	if p.opts.Command != "" {
		path, err := exec.LookPath(p.opts.Command)
		if err != nil {
			return "", "", fmt.Errorf("%s: %w", p.opts.Command, ErrNoPlayer)
		}
		return path, p.opts.StartFlag, nil
	}

	candidates, ok := candidatePlayers[runtime.GOOS]
	if !ok {
		candidates = candidatePlayers["linux"]
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, players[name].offsetFlag, nil
		}
		p.logger.Debug("player not installed", "player", name)
	}
	return "", "", ErrNoPlayer
}

func offsetArgs(flag string, offset time.Duration) []string {
	if offset <= 0 || flag == "" {
		return nil
	}
	secs := fmt.Sprintf("%.0f", offset.Seconds())
	if strings.HasSuffix(flag, " ") {
		return []string{strings.TrimSuffix(flag, " "), secs}
	}
	return []string{flag + secs}
}

// Load stops any running player and launches url at offset. Events are
// delivered on a background goroutine.
func (p *Player) Load(url string, offset time.Duration, emit func(stream.ElementEvent)) error {
	p.Unload()

	command, flag, err := p.resolve()
	if err != nil {
		return err
	}
	args := append([]string{}, p.opts.Args...)
	if offset > 0 && flag == "" {
		p.logger.Warn("cannot set start offset - unknown player, configure start_flag in config",
			"command", command, "offset", offset)
	}
	args = append(args, players[playerName(command)].durationArgs...)
	args = append(args, offsetArgs(flag, offset)...)
	args = append(args, url)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, command, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", filepath.Base(command), err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", filepath.Base(command), err)
	}
	p.logger.Info("launched player", "command", command, "args", args)

	proc := &process{cancel: cancel, done: make(chan struct{}), offset: offset, started: time.Now()}
	p.mu.Lock()
	p.proc = proc
	p.mu.Unlock()

	emit(stream.ElementEvent{Kind: stream.ElementPlaying, Position: offset})
	go p.watch(ctx, cmd, stdout, proc, emit)
	return nil
}

// watch reports progress until the process exits. A clean exit is the
// natural end only when the duration is known and the position reached it;
// otherwise the viewer closed the player.
func (p *Player) watch(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, proc *process, emit func(stream.ElementEvent)) {
	defer close(proc.done)

	exited := make(chan error, 1)
	go func() {
		// all reads must finish before Wait closes the pipe
		readDuration(stdout, proc)
		exited <- cmd.Wait()
	}()

	ticker := time.NewTicker(p.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			emit(stream.ElementEvent{Kind: stream.ElementTimeUpdate, Position: proc.position(), Duration: proc.getDuration()})
		case err := <-exited:
			if ctx.Err() != nil {
				// unloaded
				return
			}
			pos, dur := proc.exit(), proc.getDuration()
			switch {
			case err != nil:
				p.logger.Warn("player exited with error", "error", err)
				emit(stream.ElementEvent{Kind: stream.ElementError, Position: pos, Duration: dur, Err: fmt.Errorf("player exited: %w", err)})
			case proc.reachedEnd(pos):
				emit(stream.ElementEvent{Kind: stream.ElementEnded, Position: pos, Duration: dur})
			default:
				p.logger.Info("player closed before the end", "position", pos, "duration", dur)
				emit(stream.ElementEvent{Kind: stream.ElementStopped, Position: pos, Duration: dur})
			}
			return
		}
	}
}

// readDuration scans player output for the duration line and drains the rest
func readDuration(r io.Reader, proc *process) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		value, ok := strings.CutPrefix(line, durationMarker)
		if !ok {
			continue
		}
		if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
			proc.setDuration(time.Duration(secs * float64(time.Second)))
		}
	}
	// a line longer than the scanner buffer stops it; keep the pipe drained
	_, _ = io.Copy(io.Discard, r)
}

// Unload kills the running player and waits for its watcher
func (p *Player) Unload() {
	p.mu.Lock()
	proc := p.proc
	p.proc = nil
	p.mu.Unlock()
	if proc == nil {
		return
	}
	proc.cancel()
	<-proc.done
}

// Position estimates the playback position of the running player
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc == nil {
		return 0
	}
	return p.proc.position()
}
