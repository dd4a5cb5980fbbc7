package music

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotInVoice    = errors.New("not in any voice channel")
	ErrNotConnected  = errors.New("not connected to a voice channel")
	ErrNothingToPlay = errors.New("the queue is empty")
	ErrNotPlaying    = errors.New("nothing is playing")
	ErrNoPlaylist    = errors.New("no playlist is attached")
)

// PlayerState is the playback state of a guild.
type PlayerState int

const (
	StateStopped PlayerState = iota
	StatePlaying
	StatePaused
)

func (s PlayerState) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// Entry is a queued track.
type Entry struct {
	ID        string
	Track     *Track
	Requester string
	Channel   string
	AddedAt   time.Time
}

func newEntry(track *Track, requester, channel string) *Entry {
	return &Entry{
		ID:        uuid.NewString(),
		Track:     track,
		Requester: requester,
		Channel:   channel,
		AddedAt:   time.Now(),
	}
}

// Playlist is an ordered queue of entries.
type Playlist struct {
	Name string

	mu      sync.Mutex
	entries []*Entry
}

// NewPlaylist creates an empty playlist.
func NewPlaylist(name string) *Playlist {
	return &Playlist{Name: name}
}

// Add appends entry and returns its 1-based position.
func (p *Playlist) Add(entry *Entry) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
	return len(p.entries)
}

// Import appends entries and returns the position of the first one.
func (p *Playlist) Import(entries []*Entry) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	position := len(p.entries) + 1
	p.entries = append(p.entries, entries...)
	return position
}

// Next removes and returns the head of the queue.
func (p *Playlist) Next() (*Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) == 0 {
		return nil, false
	}
	head := p.entries[0]
	p.entries = slices.Delete(p.entries, 0, 1)
	return head, true
}

// Entries returns a copy of the queue.
func (p *Playlist) Entries() []*Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.entries)
}

// Len returns the queue length.
func (p *Playlist) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Contains reports whether a queued entry uses the file at path.
func (p *Playlist) Contains(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.ContainsFunc(p.entries, func(e *Entry) bool { return e.Track != nil && e.Track.Path == path })
}

// Player tracks the playback state of one guild. Audio output belongs to
// the transport; the player only keeps the state the commands act on.
type Player struct {
	Guild string

	mu           sync.Mutex
	voiceChannel string
	playlist     *Playlist
	current      *Entry
	state        PlayerState
}

// NewPlayer creates a stopped, disconnected player.
func NewPlayer(guild string) *Player {
	return &Player{Guild: guild}
}

// Connect joins voiceChannel.
func (p *Player) Connect(voiceChannel string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.voiceChannel = voiceChannel
}

// Disconnect leaves the voice channel and stops playback.
func (p *Player) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.voiceChannel = ""
	if p.state == StatePlaying {
		p.state = StatePaused
	}
}

// VoiceChannel returns the connected voice channel.
func (p *Player) VoiceChannel() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voiceChannel
}

// SetPlaylist attaches playlist.
func (p *Player) SetPlaylist(playlist *Playlist) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playlist = playlist
}

// Playlist returns the attached playlist, if any.
func (p *Player) Playlist() *Playlist {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playlist
}

// Play starts or resumes playback.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.voiceChannel == "" {
		return ErrNotConnected
	}
	if p.current == nil {
		if p.playlist == nil {
			return ErrNoPlaylist
		}
		next, ok := p.playlist.Next()
		if !ok {
			return ErrNothingToPlay
		}
		p.current = next
	}
	p.state = StatePlaying
	return nil
}

// Pause pauses playback.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StatePlaying {
		return ErrNotPlaying
	}
	p.state = StatePaused
	return nil
}

// Skip drops the current entry and moves to the next one. Playback stops
// when the queue runs out.
func (p *Player) Skip() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return ErrNotPlaying
	}
	p.current = nil
	if p.playlist != nil {
		if next, ok := p.playlist.Next(); ok {
			p.current = next
			return nil
		}
	}
	p.state = StateStopped
	return nil
}

// Current returns the entry being played.
func (p *Player) Current() *Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// State returns the playback state.
func (p *Player) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
