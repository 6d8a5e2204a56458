package player

import (
	"fmt"
	"log"
	"strconv"

	"github.com/fhs/gompd/v2/mpd"
)

// MPD talks to a Music Player Daemon. A connection is opened per command so
// an idle menu never holds a stale socket.
type MPD struct {
	network  string
	addr     string
	password string
	logger   *log.Logger
}

// NewMPD returns a controller for the daemon at addr. network is "tcp" or
// "unix".
func NewMPD(network, addr, password string, logger *log.Logger) *MPD {
	if logger == nil {
		logger = log.Default()
	}
	if network == "" {
		network = "tcp"
	}
	return &MPD{network: network, addr: addr, password: password, logger: logger}
}

func (m *MPD) dial() (*mpd.Client, error) {
	if m.password != "" {
		return mpd.DialAuthenticated(m.network, m.addr, m.password)
	}
	return mpd.Dial(m.network, m.addr)
}

func (m *MPD) do(op string, fn func(c *mpd.Client) error) error {
	c, err := m.dial()
	if err != nil {
		return fmt.Errorf("mpd %s: dial %s: %w", op, m.addr, err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			m.logger.Printf("mpd %s: close: %v", op, err)
		}
	}()

	if err := fn(c); err != nil {
		return fmt.Errorf("mpd %s: %w", op, err)
	}
	return nil
}

// Ping checks that the daemon answers.
func (m *MPD) Ping() error {
	return m.do("ping", func(c *mpd.Client) error { return c.Ping() })
}

func (m *MPD) Play(pos int) error {
	if pos < 0 {
		pos = -1
	}
	return m.do("play", func(c *mpd.Client) error { return c.Play(pos) })
}

func (m *MPD) Pause() error {
	return m.do("pause", func(c *mpd.Client) error { return c.Pause(true) })
}

func (m *MPD) Stop() error {
	return m.do("stop", func(c *mpd.Client) error { return c.Stop() })
}

func (m *MPD) Next() error {
	return m.do("next", func(c *mpd.Client) error { return c.Next() })
}

func (m *MPD) Previous() error {
	return m.do("previous", func(c *mpd.Client) error { return c.Previous() })
}

// SetVolume clamps percent to 0..100.
func (m *MPD) SetVolume(percent int) error {
	percent = clampVolume(percent)
	return m.do("setvol", func(c *mpd.Client) error { return c.SetVolume(percent) })
}

// CurrentTrack returns the title of the current song, falling back to the
// stream name and then the file.
func (m *MPD) CurrentTrack() (string, error) {
	var current string
	err := m.do("currentsong", func(c *mpd.Client) error {
		attrs, err := c.CurrentSong()
		if err != nil {
			return err
		}
		for _, key := range []string{"Title", "Name", "file"} {
			if value := attrs[key]; value != "" {
				current = value
				return nil
			}
		}
		return nil
	})
	return current, err
}

func (m *MPD) Clear() error {
	return m.do("clear", func(c *mpd.Client) error { return c.Clear() })
}

func (m *MPD) Add(uri string) error {
	return m.do("add", func(c *mpd.Client) error { return c.Add(uri) })
}

func (m *MPD) Delete(pos int) error {
	return m.do("delete", func(c *mpd.Client) error {
		if pos < 0 {
			status, err := c.Status()
			if err != nil {
				return err
			}
			song, ok := status["song"]
			if !ok {
				return fmt.Errorf("no current song")
			}
			pos, err = strconv.Atoi(song)
			if err != nil {
				return fmt.Errorf("invalid song position %q: %w", song, err)
			}
		}
		return c.Delete(pos, -1)
	})
}

func (m *MPD) ListPlaylists() ([]string, error) {
	var names []string
	err := m.do("listplaylists", func(c *mpd.Client) error {
		attrs, err := c.ListPlaylists()
		if err != nil {
			return err
		}
		for _, a := range attrs {
			if name := a["playlist"]; name != "" {
				names = append(names, name)
			}
		}
		return nil
	})
	return names, err
}

// SavePlaylist replaces any stored playlist of the same name.
func (m *MPD) SavePlaylist(name string) error {
	return m.do("save", func(c *mpd.Client) error {
		if err := c.PlaylistRemove(name); err != nil {
			m.logger.Printf("mpd save: no previous playlist %q: %v", name, err)
		}
		return c.PlaylistSave(name)
	})
}

func (m *MPD) LoadPlaylist(name string) error {
	return m.do("load", func(c *mpd.Client) error { return c.PlaylistLoad(name, -1, -1) })
}

func (m *MPD) RemovePlaylist(name string) error {
	return m.do("rm", func(c *mpd.Client) error { return c.PlaylistRemove(name) })
}

// Close is a no-op; connections are not kept between commands.
func (m *MPD) Close() error {
	return nil
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
