// Package consensus implements density-based fork choice over blocks that
// carry accumulated state proofs.
//
// Blocks are valid when their slot is not in the future and their state
// proof verifies against their accumulator. Forks whose tips are close in
// time are decided by length; older forks are decided by block density, the
// share of slots that actually hold a block.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrFutureBlock       = errors.New("block slot is in the future")
	ErrMissingProof      = errors.New("block has no accumulator or state proof")
	ErrInvalidStateProof = errors.New("block state proof is invalid")
	ErrBrokenChain       = errors.New("blocks do not form a chain")
)

// Consensus decides which blocks and chains to accept.
type Consensus interface {
	ValidateBlock(ctx context.Context, block *Block) error
	ChooseFork(chainA, chainB []*Block) []*Block
	CalculateDensity(blocks []*Block) float64
}

var _ Consensus = (*Density)(nil)

type newDensityOptions struct {
	clock  Clock
	logger *zap.Logger
}

type newDensityOptionFunc func(*newDensityOptions)

func WithClock(clock Clock) newDensityOptionFunc {
	return func(opts *newDensityOptions) {
		opts.clock = clock
	}
}

func WithLogger(logger *zap.Logger) newDensityOptionFunc {
	return func(opts *newDensityOptions) {
		opts.logger = logger
	}
}

// Density is the density-based consensus rule.
type Density struct {
	cfg    Config
	clock  Clock
	logger *zap.Logger

	// validated remembers blocks, keyed with their accumulator state and
	// exact proof, whose proof already verified.
	validated *lru.Cache
}

func New(cfg Config, opts ...newDensityOptionFunc) (*Density, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := &newDensityOptions{
		clock:  SystemClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(options)
	}

	cache, err := lru.New(cfg.ValidatedCacheSize)
	if err != nil {
		return nil, err
	}
	return &Density{
		cfg:       cfg,
		clock:     options.clock,
		logger:    options.logger.Named("consensus"),
		validated: cache,
	}, nil
}

// CurrentSlot is the slot of the clock's current time.
func (d *Density) CurrentSlot() uint64 {
	now := d.clock.Now().Unix()
	if now < 0 {
		return 0
	}
	return uint64(now) / d.cfg.slotSeconds()
}

// Slot is the slot a timestamp falls into.
func (d *Density) Slot(timestamp uint64) uint64 {
	return timestamp / d.cfg.slotSeconds()
}

// ValidateBlock rejects blocks from future slots and blocks whose state proof
// does not verify against their accumulator. A rejected block is an expected
// outcome reported through the returned error.
func (d *Density) ValidateBlock(ctx context.Context, block *Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if block == nil {
		return fmt.Errorf("%w: nil block", ErrMissingProof)
	}
	logger := d.logger.With(zap.Uint64("height", block.Height))

	if slot, current := d.Slot(block.Timestamp), d.CurrentSlot(); slot > current {
		blocksValidated.WithLabelValues("future").Inc()
		return fmt.Errorf("%w: slot %d, current slot %d", ErrFutureBlock, slot, current)
	}
	if block.Accumulator == nil || block.StateProof == nil {
		blocksValidated.WithLabelValues("invalid").Inc()
		return ErrMissingProof
	}

	key := block.stateKey()
	if d.validated.Contains(key) {
		logger.Debug("block already validated")
		blocksValidated.WithLabelValues("cached").Inc()
		return nil
	}

	start := time.Now()
	err := block.Accumulator.Check(block.StateProof)
	validationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		blocksValidated.WithLabelValues("invalid").Inc()
		logger.Debug("rejected block", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrInvalidStateProof, err)
	}

	d.validated.Add(key, struct{}{})
	blocksValidated.WithLabelValues("valid").Inc()
	return nil
}

// ValidateChain checks that blocks link to each other by parent hash and
// consecutive heights, then validates every block. Proofs are verified in
// parallel since verification does not mutate accumulators.
func (d *Density) ValidateChain(ctx context.Context, blocks []*Block) error {
	for i := 1; i < len(blocks); i++ {
		prev, cur := blocks[i-1], blocks[i]
		if prev == nil || cur == nil {
			return fmt.Errorf("%w: nil block at %d", ErrBrokenChain, i)
		}
		if cur.ParentHash != prev.Hash() {
			return fmt.Errorf("%w: block %d does not point to its predecessor", ErrBrokenChain, i)
		}
		if cur.Height != prev.Height+1 {
			return fmt.Errorf("%w: block %d has height %d after %d", ErrBrokenChain, i, cur.Height, prev.Height)
		}
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.NumCPU())
	for i, block := range blocks {
		i, block := i, block
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := d.ValidateBlock(ctx, block); err != nil {
				return fmt.Errorf("block %d: %w", i, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// ChooseFork picks between two chains. When the tips are less than WindowSize
// slots apart the longer chain wins, otherwise the denser one. Ties go to
// chainB.
func (d *Density) ChooseFork(chainA, chainB []*Block) []*Block {
	switch {
	case len(chainA) == 0:
		return chainB
	case len(chainB) == 0:
		return chainA
	}

	tipA, tipB := chainA[len(chainA)-1].Timestamp, chainB[len(chainB)-1].Timestamp
	if absDiff(tipA, tipB)/d.cfg.slotSeconds() < d.cfg.WindowSize {
		forkChoices.WithLabelValues("length").Inc()
		if len(chainA) > len(chainB) {
			return chainA
		}
		return chainB
	}

	forkChoices.WithLabelValues("density").Inc()
	densityA, densityB := d.CalculateDensity(chainA), d.CalculateDensity(chainB)
	d.logger.Debug("choosing fork by density",
		zap.Float64("density_a", densityA),
		zap.Float64("density_b", densityB),
	)
	if densityA > densityB {
		return chainA
	}
	return chainB
}

// CalculateDensity averages, over windows starting at every block and
// spanning up to WindowSize following blocks, the number of blocks in the
// window divided by the number of slots the window covers. An empty chain
// has density zero.
func (d *Density) CalculateDensity(blocks []*Block) float64 {
	if len(blocks) == 0 {
		return 0
	}

	total := 0.0
	for i := range blocks {
		end := len(blocks) - 1
		if d.cfg.WindowSize < uint64(end-i) {
			end = i + int(d.cfg.WindowSize)
		}
		startSlot := d.Slot(blocks[i].Timestamp)
		endSlot := d.Slot(blocks[end].Timestamp)
		total += d.windowDensity(blocks[i:end+1], startSlot, endSlot)
	}
	return total / float64(len(blocks))
}

func (d *Density) windowDensity(blocks []*Block, startSlot, endSlot uint64) float64 {
	if endSlot < startSlot {
		startSlot, endSlot = endSlot, startSlot
	}
	count := 0
	for _, b := range blocks {
		if slot := d.Slot(b.Timestamp); slot >= startSlot && slot <= endSlot {
			count++
		}
	}
	return float64(count) / float64(endSlot-startSlot+1)
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
