// Package player controls the external media player daemon.
package player

// Controller is the set of playback operations the menu needs. Positions are
// zero-based; a negative position means the current song.
type Controller interface {
	Play(pos int) error
	Pause() error
	Stop() error
	Next() error
	Previous() error
	SetVolume(percent int) error
	CurrentTrack() (string, error)
	Clear() error
	Add(uri string) error
	Delete(pos int) error
	ListPlaylists() ([]string, error)
	SavePlaylist(name string) error
	LoadPlaylist(name string) error
	RemovePlaylist(name string) error
	Close() error
}
