package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"station-check/internal/models"
	"station-check/internal/music"
	"station-check/internal/player"
)

// DefaultSongsPlaylist is the name used when I is given without a name.
const DefaultSongsPlaylist = "all_songs"

var (
	ErrUnknownCommand  = errors.New("unrecognized command")
	ErrMissingArgument = errors.New("missing argument")
	ErrDefaultPlaylist = errors.New("refused for the default playlist")
	ErrNoStations      = errors.New("no playable stations")
)

// Action tells the loop what to do after a command.
type Action int

const (
	Continue Action = iota
	// Leave exits and keeps the player running.
	Leave
	// Quit exits and stops playback.
	Quit
)

// StationSource supplies the stations used to build the default playlist.
type StationSource interface {
	Playable() []models.Station
}

// Options configures a Menu.
type Options struct {
	Stations    StationSource
	MusicDir    string
	Extensions  []string
	In          io.Reader
	Out         io.Writer
	Interactive bool
}

// Menu is the interactive command loop.
type Menu struct {
	player  player.Controller
	session *Session
	opts    Options
	logger  *log.Logger
}

// NewMenu wires a menu to a player and a session.
func NewMenu(ctrl player.Controller, sess *Session, opts Options, logger *log.Logger) *Menu {
	if logger == nil {
		logger = log.Default()
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = music.DefaultExtensions
	}
	return &Menu{player: ctrl, session: sess, opts: opts, logger: logger}
}

// Run reads commands until exit, end of input or cancellation, then saves
// the session. An empty line or a cancelled context stops playback; x and end
// of input leave it running.
func (m *Menu) Run(ctx context.Context) error {
	if err := m.player.SetVolume(m.session.Volume); err != nil {
		m.logger.Printf("restore volume: %v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(m.opts.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	action := Leave
loop:
	for {
		if m.opts.Interactive {
			m.printMenu()
			fmt.Fprint(m.opts.Out, ">")
		}

		select {
		case <-ctx.Done():
			action = Quit
			break loop
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						m.logger.Printf("read command: %v", err)
					}
				default:
				}
				break loop
			}
			next, err := m.Dispatch(line)
			if err != nil {
				fmt.Fprintf(m.opts.Out, "error: %v\n", err)
				m.logger.Printf("command %q: %v", line, err)
			}
			if next != Continue {
				action = next
				break loop
			}
		}
	}

	return m.finish(action)
}

func (m *Menu) finish(action Action) error {
	if action == Quit {
		if err := m.player.Stop(); err != nil {
			m.logger.Printf("stop: %v", err)
		}
	} else {
		m.logger.Printf("leaving playback running")
	}

	if current, err := m.player.CurrentTrack(); err != nil {
		m.logger.Printf("current track: %v", err)
	} else if current != "" {
		m.session.Station = current
	}

	if err := m.session.Save(); err != nil {
		return err
	}
	m.logger.Printf("session saved (volume %d, playlist %s)", m.session.Volume, m.session.Playlist)
	return nil
}

// Dispatch runs a single command line.
func (m *Menu) Dispatch(line string) (Action, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Quit, nil
	}

	cmd, arg, hasArg := strings.Cut(line, "=")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case ">":
		if !hasArg {
			m.say("play")
			return Continue, m.player.Play(-1)
		}
		pos, err := position(arg)
		if err != nil {
			return Continue, err
		}
		m.say("play number %d", pos)
		return Continue, m.player.Play(pos - 1)
	case "!":
		m.say("pause")
		return Continue, m.player.Pause()
	case "p":
		m.say("previous")
		return Continue, m.player.Previous()
	case "n":
		m.say("next")
		return Continue, m.player.Next()
	case "m":
		volume := m.session.ToggleMute()
		if m.session.Muted {
			m.say("mute")
		} else {
			m.say("unmute")
		}
		return Continue, m.player.SetVolume(volume)
	case "+":
		volume := m.session.VolumeUp()
		m.say("volume %d", volume)
		return Continue, m.player.SetVolume(volume)
	case "-":
		volume := m.session.VolumeDown()
		m.say("volume %d", volume)
		return Continue, m.player.SetVolume(volume)
	case "a":
		if !hasArg || arg == "" {
			return Continue, fmt.Errorf("a: %w: file name", ErrMissingArgument)
		}
		return Continue, m.addMusic(arg)
	case "C":
		m.say("Current playlist = %s", m.session.Playlist)
		return Continue, nil
	case "d":
		if !hasArg {
			m.say("delete current song")
			return Continue, m.player.Delete(-1)
		}
		pos, err := position(arg)
		if err != nil {
			return Continue, err
		}
		m.say("delete number %d", pos)
		return Continue, m.player.Delete(pos - 1)
	case "D":
		if m.session.IsDefaultPlaylist(m.session.Playlist) {
			return Continue, fmt.Errorf("clear %s: %w", m.session.Playlist, ErrDefaultPlaylist)
		}
		if err := m.player.Stop(); err != nil {
			return Continue, err
		}
		return Continue, m.player.Clear()
	case "I":
		return Continue, m.initFromMusic(nameOr(arg, DefaultSongsPlaylist))
	case "T":
		return Continue, m.initFromStations(nameOr(arg, m.session.DefaultPlaylist))
	case "L":
		if !hasArg || arg == "" {
			return Continue, fmt.Errorf("L: %w: playlist name", ErrMissingArgument)
		}
		return Continue, m.loadPlaylist(arg)
	case "P":
		names, err := m.player.ListPlaylists()
		if err != nil {
			return Continue, err
		}
		for _, name := range names {
			m.say("%s", name)
		}
		return Continue, nil
	case "R":
		return Continue, m.removePlaylist(nameOr(arg, m.session.Playlist))
	case "S":
		name := nameOr(arg, m.session.Playlist)
		m.say("save playlist as %s", name)
		return Continue, m.player.SavePlaylist(name)
	case "s":
		current, err := m.player.CurrentTrack()
		if err != nil {
			return Continue, err
		}
		if current == "" {
			current = "(nothing playing)"
		}
		m.say("Playing = %s", current)
		return Continue, nil
	case "x":
		return Leave, nil
	}

	return Continue, fmt.Errorf("%w: %s", ErrUnknownCommand, line)
}

func (m *Menu) addMusic(name string) error {
	uri, err := music.FileURI(m.opts.MusicDir, name)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	m.say("add song %s", name)
	return m.player.Add(uri)
}

func (m *Menu) initFromMusic(name string) error {
	lib, err := music.Scan(m.opts.MusicDir, m.opts.Extensions, m.logger)
	if err != nil {
		return fmt.Errorf("scan music: %w", err)
	}

	m.say("loading %d songs into %s", len(lib.Tracks), name)
	uris := make([]string, 0, len(lib.Tracks))
	for _, t := range lib.Tracks {
		uris = append(uris, lib.URI(t))
	}
	return m.replaceQueue(name, uris)
}

func (m *Menu) initFromStations(name string) error {
	if m.opts.Stations == nil {
		return ErrNoStations
	}
	stations := m.opts.Stations.Playable()
	if len(stations) == 0 {
		return ErrNoStations
	}

	m.say("loading %d stations into %s", len(stations), name)
	uris := make([]string, 0, len(stations))
	for _, st := range stations {
		uris = append(uris, st.StreamURL)
	}
	return m.replaceQueue(name, uris)
}

// replaceQueue fills the queue with uris and saves it under name.
func (m *Menu) replaceQueue(name string, uris []string) error {
	if err := m.player.Clear(); err != nil {
		return err
	}
	for _, uri := range uris {
		if err := m.player.Add(uri); err != nil {
			m.logger.Printf("add %s: %v", uri, err)
		}
	}
	if err := m.player.SavePlaylist(name); err != nil {
		return err
	}
	m.session.Playlist = name
	return nil
}

func (m *Menu) loadPlaylist(name string) error {
	if err := m.player.Clear(); err != nil {
		return err
	}
	if err := m.player.LoadPlaylist(name); err != nil {
		return err
	}
	m.session.Playlist = name
	m.say("loaded playlist %s", name)
	return nil
}

func (m *Menu) removePlaylist(name string) error {
	if m.session.IsDefaultPlaylist(name) {
		return fmt.Errorf("remove %s: %w", name, ErrDefaultPlaylist)
	}

	m.say("remove playlist %s", name)
	if err := m.player.Stop(); err != nil {
		return err
	}
	if err := m.player.RemovePlaylist(name); err != nil {
		return err
	}
	return m.initFromStations(m.session.DefaultPlaylist)
}

func (m *Menu) say(format string, args ...any) {
	fmt.Fprintf(m.opts.Out, format+"\n", args...)
}

func (m *Menu) printMenu() {
	fmt.Fprint(m.opts.Out, menuText)
}

const menuText = `
Song Commands:
   >[=n]  Play, n is the song number (default: current song)
   !      Pause
   p      Previous
   n      Next
   s      Show the current song or stream
Volume Commands:
   m      Mute volume toggle
   +      Increase volume
   -      Decrease volume
Playlist Commands:
   a=f    Add file f from the music directory
   d[=n]  Delete song number n (default: current song)
   C      Current playlist
   D      Delete all songs from the playlist
   I[=n]  Initialize playlist n from the music directory
   T[=n]  Initialize playlist n from good stations
   L=n    Load playlist n
   P      List playlists
   R[=n]  Remove playlist n (default: current playlist)
   S[=n]  Save playlist as n (default: current playlist)
Exit Commands:
   x      Exit and leave music playing
 Return   Exit and turn off music
`

// position parses a one-based song number.
func position(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid song number %q", arg)
	}
	return n, nil
}

func nameOr(arg, fallback string) string {
	if arg == "" {
		return fallback
	}
	return arg
}
