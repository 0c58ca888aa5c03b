package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spacemeshos/endgame/accumulator"
	"github.com/spacemeshos/endgame/accumulator/rs"
	"github.com/spacemeshos/endgame/config"
	"github.com/spacemeshos/endgame/consensus"
	"github.com/spacemeshos/endgame/field"
	"github.com/spacemeshos/endgame/logging"
	"github.com/spacemeshos/endgame/store"
)

// simulation builds two competing chains, validates them and picks one.
type simulation struct {
	cfg       *config.Config
	runID     string
	consensus *consensus.Density
	entropy   io.Reader
	now       uint64
}

type result struct {
	Chosen         []*consensus.Block
	Dense, Sparse  []*consensus.Block
	DenseDensity   float64
	SparseDensity  float64
	ChosenIsSparse bool
}

// newSimulation runs against the system clock when clock is nil.
func newSimulation(cfg *config.Config, runID string, clock consensus.Clock, logger *zap.Logger) (*simulation, error) {
	if clock == nil {
		clock = consensus.SystemClock{}
	}
	density, err := consensus.New(*cfg.Consensus,
		consensus.WithClock(clock),
		consensus.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return &simulation{
		cfg:       cfg,
		runID:     runID,
		consensus: density,
		entropy:   rand.Reader,
		now:       uint64(clock.Now().Unix()),
	}, nil
}

func (s *simulation) Run(ctx context.Context) (*result, error) {
	logger := logging.FromContext(ctx)
	slot := uint64(s.cfg.Consensus.SlotDuration.Seconds())

	// The dense chain fills every slot, the sparse one every other slot.
	// Both start together and the one reaching further ends at the current
	// slot.
	denseLen := s.cfg.Simulation.Blocks
	sparseLen := denseLen * 3 / 4
	if sparseLen == 0 {
		sparseLen = 1
	}
	span := uint64(denseLen-1) * slot
	if sparse := uint64(sparseLen-1) * 2 * slot; sparse > span {
		span = sparse
	}
	start := uint64(0)
	if span < s.now {
		start = s.now - span
	}

	res := &result{}
	var eg errgroup.Group
	eg.Go(func() error {
		chain, err := s.buildChain(ctx, start, denseLen, slot)
		res.Dense = chain
		return err
	})
	eg.Go(func() error {
		chain, err := s.buildChain(ctx, start, sparseLen, 2*slot)
		res.Sparse = chain
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("building chains: %w", err)
	}

	vg, vctx := errgroup.WithContext(ctx)
	for _, chain := range [][]*consensus.Block{res.Dense, res.Sparse} {
		chain := chain
		vg.Go(func() error {
			return s.consensus.ValidateChain(vctx, chain)
		})
	}
	if err := vg.Wait(); err != nil {
		return nil, fmt.Errorf("validating chains: %w", err)
	}

	res.DenseDensity = s.consensus.CalculateDensity(res.Dense)
	res.SparseDensity = s.consensus.CalculateDensity(res.Sparse)
	res.Chosen = s.consensus.ChooseFork(res.Dense, res.Sparse)
	res.ChosenIsSparse = len(res.Chosen) > 0 && res.Chosen[0] == res.Sparse[0]
	logger.Info("chose fork",
		zap.Int("dense_length", len(res.Dense)),
		zap.Int("sparse_length", len(res.Sparse)),
		zap.Float64("dense_density", res.DenseDensity),
		zap.Float64("sparse_density", res.SparseDensity),
		zap.Bool("sparse_chosen", res.ChosenIsSparse),
	)

	if s.cfg.Simulation.Archive {
		if err := s.archive(ctx, res.Chosen); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// buildChain builds n blocks spaced step seconds apart from start. Every
// FoldEvery-th block folds its predecessor's accumulator into its own.
func (s *simulation) buildChain(ctx context.Context, start uint64, n int, step uint64) ([]*consensus.Block, error) {
	logger := logging.FromContext(ctx)

	chain := make([]*consensus.Block, 0, n)
	var parent *consensus.Block
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		state, err := s.randomState()
		if err != nil {
			return nil, err
		}
		acc, err := rs.New(rs.WithConfig(*s.cfg.Accumulator), rs.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		proof, err := acc.Accumulate(state)
		if err != nil {
			return nil, fmt.Errorf("accumulating block %d: %w", i, err)
		}
		if every := s.cfg.Simulation.FoldEvery; every > 0 && i > 0 && i%every == 0 {
			proof, err = accumulator.FoldAll[*rs.Accumulator, []field.Element, *rs.Proof](acc, parent.Accumulator)
			if err != nil {
				return nil, fmt.Errorf("folding block %d: %w", i, err)
			}
		}

		b := consensus.NewBlock(parent, start+uint64(i)*step, acc, proof)
		chain = append(chain, b)
		parent = b
	}
	return chain, nil
}

func (s *simulation) randomState() ([]field.Element, error) {
	state := make([]field.Element, s.cfg.Simulation.StateSize)
	for i := range state {
		e, err := field.Random(s.entropy)
		if err != nil {
			return nil, fmt.Errorf("sampling state: %w", err)
		}
		state[i] = e
	}
	return state, nil
}

func (s *simulation) archive(ctx context.Context, chain []*consensus.Block) error {
	if len(chain) == 0 {
		return nil
	}
	db, err := store.Open(filepath.Join(s.cfg.DataDir, s.runID))
	if err != nil {
		return err
	}
	defer db.Close()

	for _, b := range chain {
		if err := db.PutBlock(ctx, b); err != nil {
			return err
		}
	}
	tip := chain[len(chain)-1]
	if err := db.SetHead(ctx, tip); err != nil {
		return err
	}
	head, err := db.GetHead(ctx)
	if err != nil {
		return err
	}
	return store.WriteCheckpoint(s.checkpointFile(), head)
}

func (s *simulation) checkpointFile() string {
	return filepath.Join(s.cfg.DataDir, s.runID+".head")
}
