// Package music is a playback queue module. Downloads go through a resource
// cache so a URL requested by several actors at once is fetched only once,
// and each actor may only have one play request in flight.
package music

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/GoCodeAlone/modubot"
	"github.com/GoCodeAlone/modubot/config"
	"github.com/GoCodeAlone/modubot/keylock"
	"github.com/GoCodeAlone/modubot/rescache"
	"github.com/robfig/cron/v3"
)

// ModuleName is the catalog name of this module.
const ModuleName = "music"

// Permission flags published and checked by the module.
const (
	FlagSummon          = "canSummon"
	FlagDisconnect      = "canDisconnect"
	FlagControlPlayback = "canControlPlayback"
	FlagAddEntry        = "canAddEntry"
)

var (
	ErrPermissionUnavailable = errors.New("permission checker is not available")
	ErrMissingQuery          = errors.New("usage: play <url or search terms>")
)

// Module is the music module.
type Module struct {
	config  Config
	logger  modubot.Logger
	fetcher Fetcher
	cache   *rescache.Cache[*Track]
	locks   *keylock.Locker
	sweeper *cron.Cron

	mu        sync.Mutex
	players   map[string]*Player
	playlists map[string]*Playlist

	caps *modubot.ScopedCapabilities
}

// Option configures the module.
type Option func(*Module)

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f Fetcher) Option {
	return func(m *Module) {
		m.fetcher = f
	}
}

// New creates the module.
func New(opts ...Option) *Module {
	m := &Module{
		locks:     keylock.New(),
		players:   make(map[string]*Player),
		playlists: make(map[string]*Playlist),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Factory is the catalog factory with the default fetcher.
func Factory() modubot.Module {
	return New()
}

// Name returns the module name.
func (m *Module) Name() string {
	return ModuleName
}

// Dependencies returns the modules music needs.
func (m *Module) Dependencies() []string {
	return []string{"permission"}
}

// PreInit reads the configuration, prepares the cache directory and the
// download cache, and starts the sweeper.
func (m *Module) PreInit(_ context.Context, mc *modubot.ModuleContext) error {
	if err := mc.Config().Decode(&m.config); err != nil {
		return err
	}
	if err := config.ProcessDefaults(&m.config); err != nil {
		return err
	}
	m.logger = mc.Logger()
	m.caps = mc.Capabilities()

	if err := os.MkdirAll(m.config.CacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir %s: %w", m.config.CacheDir, err)
	}
	if m.fetcher == nil {
		m.fetcher = NewHTTPFetcher(nil)
	}

	m.cache = rescache.New(
		rescache.WithProductionTimeout[*Track](m.config.ProductionTimeout),
		rescache.WithMaxEntries[*Track](m.config.MaxEntries),
		rescache.WithOnEvict(m.evicted),
	)

	m.sweeper = cron.New()
	if _, err := m.sweeper.AddFunc(m.config.SweepSchedule, func() { m.Sweep() }); err != nil {
		return fmt.Errorf("invalid sweep_schedule %q: %w", m.config.SweepSchedule, err)
	}
	m.sweeper.Start()

	m.logger.Debug("Music cache ready", "dir", m.config.CacheDir, "maxEntries", m.config.MaxEntries)
	return nil
}

// Init publishes the permission flags of the bundled profiles and the cache
// metrics collector.
func (m *Module) Init(_ context.Context, mc *modubot.ModuleContext) error {
	caps := mc.Capabilities()
	caps.Publish("PermissivePerm", FlagSummon, "True")
	caps.Publish("PermissivePerm", FlagDisconnect, "True")
	caps.Publish("PermissivePerm", FlagControlPlayback, "True")
	caps.Publish("PermissivePerm", FlagAddEntry, "True")
	caps.Publish("DefaultPerm", FlagSummon, "False")
	caps.Publish("DefaultPerm", FlagDisconnect, "False")
	caps.Publish("DefaultPerm", FlagAddEntry, "False")

	caps.Publish(modubot.MetricsNamespace, "music_cache", rescache.NewPrometheusCollector(m.cache, "", ModuleName))
	return nil
}

// PostInit checks that the commands can be gated.
func (m *Module) PostInit(_ context.Context, mc *modubot.ModuleContext) error {
	value, ok := mc.Capabilities().Lookup(modubot.PermissionNamespace, modubot.PermissionCheckerKey)
	if !ok {
		return ErrPermissionUnavailable
	}
	if _, ok = value.(modubot.PermissionChecker); !ok {
		return fmt.Errorf("%w: found %T", ErrPermissionUnavailable, value)
	}
	return nil
}

// Uninit stops the sweeper and waits for a running sweep.
func (m *Module) Uninit(ctx context.Context) error {
	if m.sweeper == nil {
		return nil
	}
	select {
	case <-m.sweeper.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Commands returns the playback commands, each gated on its flag.
func (m *Module) Commands() []modubot.Command {
	gate := func(flag string, h modubot.CommandHandler) modubot.CommandHandler {
		return modubot.RequirePermission(m.caps, flag, "True", h)
	}
	return []modubot.Command{
		{Name: "summon", Usage: "{prefix}summon\n\nsummon bot into voice channel that you're currently joining to", Handler: gate(FlagSummon, m.summon)},
		{Name: "disconnect", Usage: "{prefix}disconnect\n\ndisconnect bot from voice channel", Handler: gate(FlagDisconnect, m.disconnect)},
		{Name: "resume", Usage: "{prefix}resume\n\nresume playback", Handler: gate(FlagControlPlayback, m.resume)},
		{Name: "pause", Usage: "{prefix}pause\n\npause playback", Handler: gate(FlagControlPlayback, m.pause)},
		{Name: "skip", Usage: "{prefix}skip\n\nskip playback", Handler: gate(FlagControlPlayback, m.skip)},
		{Name: "play", Usage: "{prefix}play song_link\n{prefix}play text to search for\n\nadds the song to the current playlist", Handler: gate(FlagAddEntry, m.play)},
		{Name: "queue", Usage: "{prefix}queue\n\nshow the current playlist", Handler: m.queue},
	}
}

// Player returns the player of guild, creating it on first use.
func (m *Module) Player(guild string) *Player {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[guild]
	if !ok {
		p = NewPlayer(guild)
		m.players[guild] = p
	}
	return p
}

// defaultPlaylist attaches the guild's default playlist when the player has
// none.
func (m *Module) defaultPlaylist(p *Player) *Playlist {
	if playlist := p.Playlist(); playlist != nil {
		return playlist
	}

	name := "default-" + p.Guild
	m.mu.Lock()
	playlist, ok := m.playlists[name]
	if !ok {
		playlist = NewPlaylist(name)
		m.playlists[name] = playlist
	}
	m.mu.Unlock()

	p.SetPlaylist(playlist)
	return playlist
}

// Cache exposes the download cache.
func (m *Module) Cache() *rescache.Cache[*Track] {
	return m.cache
}

func (m *Module) summon(ctx context.Context, inv *modubot.Invocation) error {
	if inv.VoiceChannel == "" {
		return ErrNotInVoice
	}
	p := m.Player(inv.Guild)
	p.Connect(inv.VoiceChannel)
	m.defaultPlaylist(p)
	return inv.Respond(ctx, "successfully summoned")
}

func (m *Module) disconnect(ctx context.Context, inv *modubot.Invocation) error {
	m.Player(inv.Guild).Disconnect()
	return inv.Respond(ctx, "successfully disconnected")
}

func (m *Module) resume(ctx context.Context, inv *modubot.Invocation) error {
	if err := m.Player(inv.Guild).Play(); err != nil {
		m.logger.Error("Cannot resume", "guild", inv.Guild, "error", err)
		return fmt.Errorf("cannot resume: %w", err)
	}
	return inv.Respond(ctx, "successfully resumed")
}

func (m *Module) pause(ctx context.Context, inv *modubot.Invocation) error {
	if err := m.Player(inv.Guild).Pause(); err != nil {
		return err
	}
	return inv.Respond(ctx, "successfully paused")
}

func (m *Module) skip(ctx context.Context, inv *modubot.Invocation) error {
	if err := m.Player(inv.Guild).Skip(); err != nil {
		return err
	}
	return inv.Respond(ctx, "successfully skipped")
}

// play holds the actor's play lock for the whole request so one actor cannot
// flood the queue with parallel requests.
func (m *Module) play(ctx context.Context, inv *modubot.Invocation) error {
	if len(inv.Args) == 0 {
		return ErrMissingQuery
	}
	query := NormalizeQuery(strings.Join(inv.Args, " "))

	unlock, err := m.locks.Lock(ctx, "play_"+inv.Actor)
	if err != nil {
		return err
	}
	defer unlock()

	resolved, err := m.fetcher.Resolve(ctx, query)
	if err != nil {
		return fmt.Errorf("```\n%w\n```", err)
	}
	if len(resolved.URLs) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyPlaylist, query)
	}
	playlist := m.defaultPlaylist(m.Player(inv.Guild))

	if !resolved.Playlist {
		track, err := m.fetch(ctx, resolved.URLs[0])
		if err != nil {
			return err
		}
		position := playlist.Add(newEntry(track, inv.Actor, inv.Channel))
		return inv.Respond(ctx, fmt.Sprintf("Enqueued `%s` to be played. Position in queue: %d", track.Title, position))
	}

	return m.playPlaylist(ctx, inv, playlist, resolved.URLs)
}

// secondsPerSong is the expected per-entry processing time used for the ETA
// of large playlists.
const secondsPerSong = 1.2

func (m *Module) playPlaylist(ctx context.Context, inv *modubot.Invocation, playlist *Playlist, urls []string) error {
	progress := fmt.Sprintf("Gathering playlist information for %d songs.", len(urls))
	if len(urls) >= 10 {
		progress = fmt.Sprintf("Gathering playlist information for %d songs, ETA: %g seconds", len(urls), float64(len(urls))*secondsPerSong)
	}
	if err := inv.Respond(ctx, progress); err != nil {
		m.logger.Warn("Failed to send playlist progress", "error", err)
	}

	entries := make([]*Entry, 0, len(urls))
	for _, u := range urls {
		track, err := m.fetch(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("Dropping playlist entry", "url", u, "error", err)
			continue
		}
		entries = append(entries, newEntry(track, inv.Actor, inv.Channel))
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: every entry failed to download", ErrEmptyPlaylist)
	}

	position := playlist.Import(entries)
	m.logger.Info("Processed playlist", "songs", len(entries), "dropped", len(urls)-len(entries))
	return inv.Respond(ctx, fmt.Sprintf("Enqueued **%d** songs to be played. Position in queue: %d", len(entries), position))
}

func (m *Module) fetch(ctx context.Context, url string) (*Track, error) {
	return m.cache.Do(ctx, url, func(ctx context.Context) (*Track, error) {
		return m.fetcher.Fetch(ctx, url, m.config.CacheDir)
	})
}

func (m *Module) queue(ctx context.Context, inv *modubot.Invocation) error {
	p := m.Player(inv.Guild)

	var b strings.Builder
	if current := p.Current(); current != nil {
		fmt.Fprintf(&b, "Now %s: `%s`\n", p.State(), current.Track.Title)
	}

	var entries []*Entry
	if playlist := p.Playlist(); playlist != nil {
		entries = playlist.Entries()
	}
	if len(entries) == 0 {
		b.WriteString("The queue is empty.")
		return inv.Respond(ctx, b.String())
	}

	const shown = 10
	for i, e := range entries {
		if i == shown {
			fmt.Fprintf(&b, "...and %d more", len(entries)-shown)
			break
		}
		fmt.Fprintf(&b, "%d. `%s` requested by %s\n", i+1, e.Track.Title, e.Requester)
	}
	return inv.Respond(ctx, strings.TrimRight(b.String(), "\n"))
}
