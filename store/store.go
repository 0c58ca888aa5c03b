// Package store archives blocks and the chain head in leveldb.
package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	xdr "github.com/nullstyle/go-xdr/xdr3"
	"github.com/spacemeshos/go-scale"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"go.uber.org/zap"

	"github.com/spacemeshos/endgame/consensus"
	"github.com/spacemeshos/endgame/logging"
)

var ErrNotFound = leveldb.ErrNotFound

var (
	blockPrefix  = []byte("b/")
	heightPrefix = []byte("h/")
	headKey      = []byte("head")
)

// Head is the stored chain head.
type Head struct {
	Hash      [consensus.HashSize]byte
	Height    uint64
	Timestamp uint64
}

type Store struct {
	db *leveldb.DB
	wo *opt.WriteOptions
}

// Open opens (or creates) the archive at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database @ %s: %w", path, err)
	}
	return &Store{db: db, wo: &opt.WriteOptions{Sync: true}}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func blockKey(hash [consensus.HashSize]byte) []byte {
	return append(append([]byte{}, blockPrefix...), hash[:]...)
}

func heightKey(height uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, heightPrefix...), height)
}

// PutBlock stores a block under its hash and indexes it by height. A later
// block at the same height replaces the index entry.
func (s *Store) PutBlock(ctx context.Context, b *consensus.Block) error {
	var buf bytes.Buffer
	if _, err := newBlockRecord(b).EncodeScale(scale.NewEncoder(&buf)); err != nil {
		return fmt.Errorf("serializing block %d: %w", b.Height, err)
	}

	hash := b.Hash()
	batch := new(leveldb.Batch)
	batch.Put(blockKey(hash), buf.Bytes())
	batch.Put(heightKey(b.Height), hash[:])
	if err := s.db.Write(batch, s.wo); err != nil {
		return fmt.Errorf("storing block in DB: %w", err)
	}
	logging.FromContext(ctx).Debug("stored block",
		zap.Uint64("height", b.Height),
		zap.Binary("hash", hash[:]),
		zap.Int("size", buf.Len()),
	)
	return nil
}

// GetBlock loads the block with the given hash.
func (s *Store) GetBlock(ctx context.Context, hash [consensus.HashSize]byte) (*consensus.Block, error) {
	data, err := s.db.Get(blockKey(hash), nil)
	if err != nil {
		return nil, fmt.Errorf("get block %x from DB: %w", hash, err)
	}

	record := &blockRecord{}
	if _, err := record.DecodeScale(scale.NewDecoder(bytes.NewReader(data))); err != nil {
		return nil, fmt.Errorf("failed to deserialize block %x: %w", hash, err)
	}
	b, err := record.block()
	if err != nil {
		return nil, err
	}
	if b.Hash() != hash {
		return nil, fmt.Errorf("block stored under %x hashes to %x", hash, b.Hash())
	}
	return b, nil
}

// GetBlockByHeight loads the last block stored at height.
func (s *Store) GetBlockByHeight(ctx context.Context, height uint64) (*consensus.Block, error) {
	data, err := s.db.Get(heightKey(height), nil)
	if err != nil {
		return nil, fmt.Errorf("get block at height %d from DB: %w", height, err)
	}
	var hash [consensus.HashSize]byte
	if len(data) != len(hash) {
		return nil, fmt.Errorf("corrupted height index at %d: %d bytes", height, len(data))
	}
	copy(hash[:], data)
	return s.GetBlock(ctx, hash)
}

// SetHead records b as the chain head. The block itself must be stored with
// PutBlock.
func (s *Store) SetHead(ctx context.Context, b *consensus.Block) error {
	head := Head{
		Hash:      b.Hash(),
		Height:    b.Height,
		Timestamp: b.Timestamp,
	}
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, head); err != nil {
		return fmt.Errorf("serialization failure: %v", err)
	}
	if err := s.db.Put(headKey, buf.Bytes(), s.wo); err != nil {
		return fmt.Errorf("storing head in DB: %w", err)
	}
	logging.FromContext(ctx).Info("updated chain head", zap.Uint64("height", head.Height))
	return nil
}

func (s *Store) GetHead(ctx context.Context) (*Head, error) {
	data, err := s.db.Get(headKey, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get head from DB: %w", err)
	}
	head := &Head{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), head); err != nil {
		return nil, fmt.Errorf("failed to deserialize: %v", err)
	}
	return head, nil
}

// HeadBlock loads the block the chain head points to.
func (s *Store) HeadBlock(ctx context.Context) (*consensus.Block, error) {
	head, err := s.GetHead(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetBlock(ctx, head.Hash)
}
