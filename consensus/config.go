package consensus

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("invalid consensus config")

// MaxWindowSize bounds WindowSize so window arithmetic stays within int.
const MaxWindowSize = 1 << 20

func DefaultConfig() Config {
	return Config{
		WindowSize:         50,
		SlotDuration:       time.Second,
		ValidatedCacheSize: 1024,
	}
}

//nolint:lll
type Config struct {
	WindowSize         uint64        `long:"window-size"          description:"Number of blocks per density window (and the fork age, in slots, below which the longer chain wins)"`
	SlotDuration       time.Duration `long:"slot-duration"        description:"Duration of a slot (whole seconds)"`
	ValidatedCacheSize int           `long:"validated-cache-size" description:"Number of validated blocks to remember"`
}

func (c Config) Validate() error {
	if c.WindowSize == 0 || c.WindowSize > MaxWindowSize {
		return fmt.Errorf("%w: window size %d is not in [1, %d]", ErrInvalidConfig, c.WindowSize, MaxWindowSize)
	}
	if c.SlotDuration < time.Second || c.SlotDuration%time.Second != 0 {
		return fmt.Errorf("%w: slot duration %v is not a positive number of seconds", ErrInvalidConfig, c.SlotDuration)
	}
	if c.ValidatedCacheSize <= 0 {
		return fmt.Errorf("%w: validated cache size must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c Config) slotSeconds() uint64 {
	return uint64(c.SlotDuration / time.Second)
}
