package core

import (
	"log/slog"
	"sync"
)

// channelSet tracks which PWM output channels are in use. Channels are
// exclusive, so a flag per id is all the state there is.
type channelSet struct {
	mu    sync.Mutex
	log   *slog.Logger
	inUse [MaxChannels]bool
}

func newChannelSet(log *slog.Logger) *channelSet {
	return &channelSet{log: orDiscard(log)}
}

// allocate marks the lowest free channel as used
func (c *channelSet) allocate() (ChannelID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, used := range c.inUse {
		if !used {
			c.inUse[i] = true
			return ChannelID(i), nil
		}
	}
	return 0, ErrResourceExhausted
}

// claim marks a caller chosen channel as used. Out of range ids are clamped
// to the last channel.
func (c *channelSet) claim(id ChannelID) (ChannelID, error) {
	if id >= MaxChannels {
		clamped := ChannelID(MaxChannels - 1)
		c.log.Warn("channel id out of range, clamped",
			"requested", id, "applied", clamped, "max", MaxChannels-1)
		id = clamped
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inUse[id] {
		return id, ErrChannelInUse
	}
	c.inUse[id] = true
	return id, nil
}

func (c *channelSet) free(id ChannelID) {
	if id >= MaxChannels {
		return
	}
	c.mu.Lock()
	c.inUse[id] = false
	c.mu.Unlock()
}

func (c *channelSet) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, used := range c.inUse {
		if used {
			n++
		}
	}
	return n
}
