package cache

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/naturalspeech/naturalspeech/tts"
	"go.uber.org/multierr"
)

const (
	DefaultMemoryCapacity  = 16 << 20
	DefaultTTL             = 7 * 24 * time.Hour
	DefaultCleanupInterval = time.Hour
)

// Config configures an AudioCache.
type Config struct {
	Dir              string
	MemoryCapacity   int64
	DiskCapacity     int64
	CompressionLevel int
	TTL              time.Duration
	CleanupInterval  time.Duration
	Logger           *log.Logger
}

// FromSettings converts the user cache settings. dir is used when the
// settings leave the directory empty.
func FromSettings(c tts.CacheConfig, dir string) Config {
	if c.Dir != "" {
		dir = tts.ExpandPath(c.Dir)
	}
	return Config{
		Dir:              dir,
		MemoryCapacity:   DefaultMemoryCapacity,
		DiskCapacity:     int64(c.MaxSize) << 20,
		CompressionLevel: c.CompressionLevel,
		TTL:              DefaultTTL,
		CleanupInterval:  DefaultCleanupInterval,
	}
}

// AudioCache remembers generated audio per voice and text. Lookups try
// memory first, then disk, promoting disk hits.
type AudioCache struct {
	memory *MemoryCache
	disk   *DiskCache
	cfg    Config
	logger *log.Logger

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu         sync.Mutex
	promotions int64
}

// New opens the cache in cfg.Dir and starts the expiry loop.
func New(cfg Config) (*AudioCache, error) {
	if cfg.MemoryCapacity <= 0 {
		cfg.MemoryCapacity = DefaultMemoryCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default().WithPrefix("cache")
	}

	disk, err := NewDiskCache(cfg.Dir, cfg.DiskCapacity, cfg.CompressionLevel)
	if err != nil {
		return nil, err
	}

	c := &AudioCache{
		memory: NewMemoryCache(cfg.MemoryCapacity),
		disk:   disk,
		cfg:    cfg,
		logger: cfg.Logger,
		stop:   make(chan struct{}),
	}
	c.logger.Debug("Audio cache opened",
		"dir", cfg.Dir,
		"size", humanize.IBytes(uint64(disk.Size())),
		"capacity", humanize.IBytes(uint64(cfg.DiskCapacity)))

	if cfg.CleanupInterval > 0 && cfg.TTL > 0 {
		c.wg.Add(1)
		go c.cleanupLoop()
	}
	return c, nil
}

// Get returns the cached audio of text spoken by voice.
func (c *AudioCache) Get(voice tts.VoiceID, text string) (tts.Audio, bool) {
	key := Key(voice, text)
	if data, ok := c.memory.Get(key); ok {
		return decodeAudio(data)
	}

	data, ok := c.disk.Get(key)
	if !ok {
		return tts.Audio{}, false
	}
	audio, ok := decodeAudio(data)
	if !ok {
		c.disk.Delete(key)
		return tts.Audio{}, false
	}

	c.mu.Lock()
	c.promotions++
	c.mu.Unlock()
	_ = c.memory.Put(key, data)
	return audio, true
}

// Put stores audio for text spoken by voice in both tiers.
func (c *AudioCache) Put(voice tts.VoiceID, text string, audio tts.Audio) error {
	key := Key(voice, text)
	data := encodeAudio(audio)

	// too large for memory is fine as long as disk takes it
	_ = c.memory.Put(key, data)
	if err := c.disk.Put(key, data); err != nil {
		return fmt.Errorf("cache %s: %w", voice, err)
	}
	return nil
}

// Clear drops every entry.
func (c *AudioCache) Clear() error {
	return multierr.Combine(c.memory.Clear(), c.disk.Clear())
}

// Stats returns the counters of both tiers.
func (c *AudioCache) Stats() (memory, disk Stats) {
	return c.memory.Stats(), c.disk.Stats()
}

// Expire drops entries older than the configured TTL.
func (c *AudioCache) Expire() int {
	removed := c.memory.Prune(c.cfg.TTL)
	removed += c.disk.RemoveOlderThan(time.Now().Add(-c.cfg.TTL))
	if removed > 0 {
		c.logger.Debug("Expired cached audio", "entries", removed)
	}
	return removed
}

func (c *AudioCache) cleanupLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Expire()
		case <-c.stop:
			return
		}
	}
}

// Close stops the expiry loop and persists the disk index.
func (c *AudioCache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		c.wg.Wait()
		err = c.disk.Close()
	})
	return err
}

// Cached audio is prefixed with its format:
// magic(2) sampleRate(4) channels(1) bitDepth(1) flags(1).
const (
	audioMagic     = 0x4e53
	audioHeaderLen = 9

	flagLittleEndian = 1 << 0
	flagSigned       = 1 << 1
)

func encodeAudio(a tts.Audio) []byte {
	buf := make([]byte, audioHeaderLen+len(a.Bytes))
	binary.BigEndian.PutUint16(buf[0:], audioMagic)
	binary.BigEndian.PutUint32(buf[2:], uint32(a.Format.SampleRate))
	buf[6] = byte(a.Format.Channels)
	buf[7] = byte(a.Format.BitDepth)
	var flags byte
	if a.Format.LittleEndian {
		flags |= flagLittleEndian
	}
	if a.Format.Signed {
		flags |= flagSigned
	}
	buf[8] = flags
	copy(buf[audioHeaderLen:], a.Bytes)
	return buf
}

func decodeAudio(data []byte) (tts.Audio, bool) {
	if len(data) < audioHeaderLen || binary.BigEndian.Uint16(data) != audioMagic {
		return tts.Audio{}, false
	}
	flags := data[8]
	return tts.Audio{
		Bytes: data[audioHeaderLen:],
		Format: tts.Format{
			SampleRate:   int(binary.BigEndian.Uint32(data[2:])),
			Channels:     int(data[6]),
			BitDepth:     int(data[7]),
			LittleEndian: flags&flagLittleEndian != 0,
			Signed:       flags&flagSigned != 0,
		},
	}, true
}
