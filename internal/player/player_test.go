package player

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mmcdole/feedplay/internal/log"
	"github.com/mmcdole/feedplay/internal/stream"
)

// TestHelperProcess stands in for a media player when re-executed by the
// tests below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("FEEDPLAY_HELPER_PLAYER") != "1" {
		return
	}
	if d := os.Getenv("FEEDPLAY_HELPER_DURATION"); d != "" {
		fmt.Println("playing")
		fmt.Println(durationMarker + d)
	}
	if d, err := time.ParseDuration(os.Getenv("FEEDPLAY_HELPER_SLEEP")); err == nil {
		time.Sleep(d)
	}
	code, _ := strconv.Atoi(os.Getenv("FEEDPLAY_HELPER_EXIT"))
	os.Exit(code)
}

func helperPlayer(t *testing.T, exit int, sleep time.Duration) *Player {
	t.Helper()
	t.Setenv("FEEDPLAY_HELPER_PLAYER", "1")
	t.Setenv("FEEDPLAY_HELPER_DURATION", "")
	t.Setenv("FEEDPLAY_HELPER_EXIT", strconv.Itoa(exit))
	t.Setenv("FEEDPLAY_HELPER_SLEEP", sleep.String())
	return New(Options{
		Command:      os.Args[0],
		Args:         []string{"-test.run=TestHelperProcess", "--"},
		StartFlag:    "--start=",
		TickInterval: 10 * time.Millisecond,
	}, log.NullLogger())
}

func collect() (chan stream.ElementEvent, func(stream.ElementEvent)) {
	ch := make(chan stream.ElementEvent, 256)
	return ch, func(ev stream.ElementEvent) { ch <- ev }
}

func waitFor(t *testing.T, ch chan stream.ElementEvent, kind stream.ElementEventKind) stream.ElementEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
			return stream.ElementEvent{}
		}
	}
}

func TestLoad_CleanExitAtDurationEnds(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := helperPlayer(t, 0, 50*time.Millisecond)
	t.Setenv("FEEDPLAY_HELPER_DURATION", "1.5")
	ch, emit := collect()

	require.NoError(t, p.Load("http://nas.local/v1.mp4", 0, emit))
	assert.Equal(t, stream.ElementPlaying, (<-ch).Kind)

	ev := waitFor(t, ch, stream.ElementEnded)
	assert.Equal(t, 1500*time.Millisecond, ev.Duration)
	assert.Greater(t, ev.Position, time.Duration(0))
	assert.LessOrEqual(t, ev.Position, ev.Duration)
	p.Unload()
}

func TestLoad_CleanExitBeforeDurationStops(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := helperPlayer(t, 0, 50*time.Millisecond)
	t.Setenv("FEEDPLAY_HELPER_DURATION", "600")
	ch, emit := collect()

	require.NoError(t, p.Load("http://nas.local/v1.mp4", 30*time.Second, emit))
	ev := waitFor(t, ch, stream.ElementStopped)
	assert.Equal(t, 10*time.Minute, ev.Duration)
	assert.GreaterOrEqual(t, ev.Position, 30*time.Second)
	assert.Less(t, ev.Position, time.Minute)
	p.Unload()
}

func TestLoad_CleanExitWithoutDurationStops(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := helperPlayer(t, 0, 50*time.Millisecond)
	ch, emit := collect()

	require.NoError(t, p.Load("http://nas.local/v1.mp4", 0, emit))
	ev := waitFor(t, ch, stream.ElementStopped)
	assert.Zero(t, ev.Duration)
	p.Unload()
}

func TestReadDuration(t *testing.T) {
	tests := []struct {
		out  string
		want time.Duration
	}{
		{"Playing: x\n" + durationMarker + "61.25\n (+) Video --vid=1\n", 61250 * time.Millisecond},
		{durationMarker + "\n", 0},
		{durationMarker + "nan\n", 0},
		{"no marker here\n", 0},
	}
	for _, tt := range tests {
		proc := &process{}
		readDuration(strings.NewReader(tt.out), proc)
		assert.Equal(t, tt.want, proc.getDuration(), tt.out)
	}
}

func TestProcess_PositionClampedAndFrozen(t *testing.T) {
	proc := &process{offset: 90 * time.Second, started: time.Now(), duration: time.Minute}
	assert.Equal(t, time.Minute, proc.position())
	assert.True(t, proc.reachedEnd(proc.exit()))

	proc = &process{offset: 10 * time.Second, started: time.Now()}
	pos := proc.exit()
	assert.False(t, proc.reachedEnd(pos))
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, pos, proc.position())
}

func TestLoad_FailedExitReportsError(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := helperPlayer(t, 3, 0)
	ch, emit := collect()

	require.NoError(t, p.Load("http://nas.local/v1.mp4", 0, emit))
	ev := waitFor(t, ch, stream.ElementError)
	assert.Error(t, ev.Err)
	p.Unload()
}

func TestLoad_ReportsProgressFromOffset(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := helperPlayer(t, 0, time.Minute)
	ch, emit := collect()

	require.NoError(t, p.Load("http://nas.local/v1.mp4", 30*time.Second, emit))
	ev := waitFor(t, ch, stream.ElementTimeUpdate)
	assert.GreaterOrEqual(t, ev.Position, 30*time.Second)
	assert.GreaterOrEqual(t, p.Position(), 30*time.Second)

	p.Unload()
	assert.Zero(t, p.Position())
}

func TestUnload_KillsWithoutEvents(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := helperPlayer(t, 0, time.Minute)
	ch, emit := collect()

	require.NoError(t, p.Load("http://nas.local/v1.mp4", 0, emit))
	<-ch
	p.Unload()

	for len(ch) > 0 {
		ev := <-ch
		assert.Equal(t, stream.ElementTimeUpdate, ev.Kind)
	}
}

func TestLoad_MissingCommand(t *testing.T) {
	p := New(Options{Command: "feedplay-no-such-player"}, log.NullLogger())
	err := p.Load("http://nas.local/v1.mp4", 0, func(stream.ElementEvent) {})
	assert.ErrorIs(t, err, ErrNoPlayer)
}

func TestOffsetArgs(t *testing.T) {
	tests := []struct {
		flag   string
		offset time.Duration
		want   []string
	}{
		{"--start=", 90 * time.Second, []string{"--start=90"}},
		{"-ss ", 90 * time.Second, []string{"-ss", "90"}},
		{"--start=", 0, nil},
		{"", 90 * time.Second, nil},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q/%s", tt.flag, tt.offset), func(t *testing.T) {
			assert.Equal(t, tt.want, offsetArgs(tt.flag, tt.offset))
		})
	}
}

func TestNew_DetectsKnownStartFlag(t *testing.T) {
	p := New(Options{Command: "/usr/local/bin/VLC.exe"}, log.NullLogger())
	assert.Equal(t, "--start-time=", p.opts.StartFlag)

	p = New(Options{Command: "mpv", StartFlag: "--custom="}, log.NullLogger())
	assert.Equal(t, "--custom=", p.opts.StartFlag)
}

type fakeElement struct {
	loads   []string
	unloads int
	emit    func(stream.ElementEvent)
}

func (e *fakeElement) Load(url string, _ time.Duration, emit func(stream.ElementEvent)) error {
	e.loads = append(e.loads, url)
	e.emit = emit
	return nil
}
func (e *fakeElement) Unload()                 { e.unloads++ }
func (e *fakeElement) Position() time.Duration { return 0 }

func TestPipeline_TurnsErrorsIntoFaults(t *testing.T) {
	el := &fakeElement{}
	var events []stream.ElementEvent
	var faults []stream.Fault
	pl := NewPipeline(el)

	require.NoError(t, pl.Attach("http://live/a.m3u8", 0,
		func(ev stream.ElementEvent) { events = append(events, ev) },
		func(f stream.Fault) { faults = append(faults, f) }))

	el.emit(stream.ElementEvent{Kind: stream.ElementPlaying})
	el.emit(stream.ElementEvent{Kind: stream.ElementError, Err: fmt.Errorf("boom")})
	require.Len(t, events, 1)
	require.Len(t, faults, 1)
	assert.Equal(t, stream.FaultNetwork, faults[0].Kind)
	assert.True(t, faults[0].Fatal)

	pl.ResumeLoading()
	pl.RecoverMediaError()
	assert.Equal(t, []string{"http://live/a.m3u8", "http://live/a.m3u8", "http://live/a.m3u8"}, el.loads)

	pl.Destroy()
	assert.Equal(t, 1, el.unloads)
}
