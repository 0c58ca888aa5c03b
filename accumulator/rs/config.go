package rs

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spacemeshos/endgame/field"
)

const (
	// DefaultDomainSize is the cardinality of the evaluation domain.
	DefaultDomainSize = 256

	// DefaultNumChallenges is the number of spot-checked domain positions and
	// out-of-domain challenge points per proof.
	DefaultNumChallenges = 2

	ChallengesRandom     = "random"
	ChallengesTranscript = "transcript"
)

var ErrInvalidConfig = errors.New("invalid accumulator config")

func DefaultConfig() Config {
	return Config{
		DomainSize:    DefaultDomainSize,
		NumChallenges: DefaultNumChallenges,
		Challenges:    ChallengesRandom,
	}
}

//nolint:lll
type Config struct {
	DomainSize    int    `long:"domain-size"    description:"Number of points in the evaluation domain (maximum state length)"`
	NumChallenges int    `long:"num-challenges" description:"Number of spot-checked positions and out-of-domain challenges per proof"`
	Challenges    string `long:"challenges"     description:"How challenges are sampled" choice:"random" choice:"transcript"`
}

func (c Config) Validate() error {
	if c.DomainSize < 1 || uint64(c.DomainSize) >= field.P {
		return fmt.Errorf("%w: domain size %d", ErrInvalidConfig, c.DomainSize)
	}
	if c.NumChallenges < 1 {
		return fmt.Errorf("%w: num challenges %d", ErrInvalidConfig, c.NumChallenges)
	}
	switch c.Challenges {
	case "", ChallengesRandom, ChallengesTranscript:
	default:
		return fmt.Errorf("%w: unknown challenges mode %q", ErrInvalidConfig, c.Challenges)
	}
	return nil
}

// implement zap.ObjectMarshaler interface.
func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("domain_size", c.DomainSize)
	enc.AddInt("num_challenges", c.NumChallenges)
	enc.AddString("challenges", c.Challenges)
	return nil
}

type newAccumulatorOptions struct {
	cfg        Config
	challenger Challenger
	logger     *zap.Logger
}

type newAccumulatorOptionFunc func(*newAccumulatorOptions)

func WithConfig(cfg Config) newAccumulatorOptionFunc {
	return func(opts *newAccumulatorOptions) {
		opts.cfg = cfg
	}
}

// WithChallenger overrides the challenger selected by the config.
func WithChallenger(challenger Challenger) newAccumulatorOptionFunc {
	return func(opts *newAccumulatorOptions) {
		opts.challenger = challenger
	}
}

func WithLogger(logger *zap.Logger) newAccumulatorOptionFunc {
	return func(opts *newAccumulatorOptions) {
		opts.logger = logger
	}
}
