package store

import (
	"fmt"

	"github.com/spacemeshos/go-scale"

	"github.com/spacemeshos/endgame/accumulator/rs"
	"github.com/spacemeshos/endgame/consensus"
	"github.com/spacemeshos/endgame/field"
	"github.com/spacemeshos/endgame/merkle"
)

const (
	// maxElements bounds every list of field elements in a record.
	maxElements = 1 << 16
	// maxPathLength bounds the sibling count of a Merkle path. Paths of trees
	// with up to maxElements leaves are at most 17 nodes long.
	maxPathLength = 64
	maxModeLength = 32
)

// blockRecord is the stored form of a consensus.Block.
// Scale encoding is implemented by hand to bound every list in the record.
type blockRecord struct {
	ParentHash [consensus.HashSize]byte
	Height     uint64
	Timestamp  uint64

	// HasState is 1 when the block carries an accumulator and a proof.
	HasState uint8
	Config   rs.Config
	State    []field.Element
	Proof    rs.Proof
}

func newBlockRecord(b *consensus.Block) *blockRecord {
	r := &blockRecord{
		ParentHash: b.ParentHash,
		Height:     b.Height,
		Timestamp:  b.Timestamp,
	}
	if b.Accumulator != nil && b.StateProof != nil {
		r.HasState = 1
		r.Config = b.Accumulator.Config()
		r.State = b.Accumulator.Evaluations()
		r.Proof = *b.StateProof.Clone()
	}
	return r
}

// block rebuilds the block. The accumulator is recommitted to the stored state.
func (r *blockRecord) block() (*consensus.Block, error) {
	b := &consensus.Block{
		ParentHash: r.ParentHash,
		Height:     r.Height,
		Timestamp:  r.Timestamp,
	}
	if r.HasState == 0 {
		return b, nil
	}
	acc, err := rs.Restore(r.State, rs.WithConfig(r.Config))
	if err != nil {
		return nil, fmt.Errorf("restoring accumulator: %w", err)
	}
	b.Accumulator = acc
	b.StateProof = r.Proof.Clone()
	return b, nil
}

func (r *blockRecord) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeByteArray(enc, r.ParentHash[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	for _, v := range []uint64{r.Height, r.Timestamp} {
		n, err := scale.EncodeCompact64(enc, v)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact8(enc, r.HasState)
		if err != nil {
			return total, err
		}
		total += n
	}
	if r.HasState == 0 {
		return total, nil
	}
	{
		n, err := encodeConfig(enc, r.Config)
		if err != nil {
			return total, fmt.Errorf("encoding config: %w", err)
		}
		total += n
	}
	{
		n, err := encodeElements(enc, r.State)
		if err != nil {
			return total, fmt.Errorf("encoding state: %w", err)
		}
		total += n
	}
	{
		n, err := encodeProof(enc, &r.Proof)
		if err != nil {
			return total, fmt.Errorf("encoding proof: %w", err)
		}
		total += n
	}
	return total, nil
}

func (r *blockRecord) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		n, err := scale.DecodeByteArray(dec, r.ParentHash[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	for _, v := range []*uint64{&r.Height, &r.Timestamp} {
		value, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		*v = value
	}
	{
		value, n, err := scale.DecodeCompact8(dec)
		if err != nil {
			return total, err
		}
		total += n
		r.HasState = value
	}
	if r.HasState == 0 {
		return total, nil
	}
	{
		n, err := decodeConfig(dec, &r.Config)
		if err != nil {
			return total, fmt.Errorf("decoding config: %w", err)
		}
		total += n
	}
	{
		value, n, err := decodeElements(dec)
		if err != nil {
			return total, fmt.Errorf("decoding state: %w", err)
		}
		total += n
		r.State = value
	}
	{
		n, err := decodeProof(dec, &r.Proof)
		if err != nil {
			return total, fmt.Errorf("decoding proof: %w", err)
		}
		total += n
	}
	return total, nil
}

func encodeConfig(enc *scale.Encoder, cfg rs.Config) (total int, err error) {
	for _, v := range []int{cfg.DomainSize, cfg.NumChallenges} {
		n, err := scale.EncodeCompact64(enc, uint64(v))
		if err != nil {
			return total, err
		}
		total += n
	}
	n, err := scale.EncodeByteSliceWithLimit(enc, []byte(cfg.Challenges), maxModeLength)
	if err != nil {
		return total, err
	}
	return total + n, nil
}

func decodeConfig(dec *scale.Decoder, cfg *rs.Config) (total int, err error) {
	for _, v := range []*int{&cfg.DomainSize, &cfg.NumChallenges} {
		value, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		if value > maxElements {
			return total, fmt.Errorf("config value %d is too large", value)
		}
		*v = int(value)
	}
	mode, n, err := scale.DecodeByteSliceWithLimit(dec, maxModeLength)
	if err != nil {
		return total, err
	}
	cfg.Challenges = string(mode)
	return total + n, nil
}

func encodeElements(enc *scale.Encoder, elements []field.Element) (total int, err error) {
	n, err := scale.EncodeLen(enc, uint32(len(elements)), maxElements)
	if err != nil {
		return total, fmt.Errorf("EncodeLen failed: %w", err)
	}
	total += n
	for _, e := range elements {
		n, err := scale.EncodeCompact64(enc, e.Uint64())
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func decodeElements(dec *scale.Decoder) ([]field.Element, int, error) {
	length, total, err := scale.DecodeLen(dec, maxElements)
	if err != nil {
		return nil, 0, fmt.Errorf("DecodeLen failed: %w", err)
	}
	if length == 0 {
		return nil, total, nil
	}
	result := make([]field.Element, 0, length)
	for i := uint32(0); i < length; i++ {
		v, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return nil, 0, err
		}
		if v >= field.P {
			return nil, 0, fmt.Errorf("element %d is not reduced: %d", i, v)
		}
		result = append(result, field.New(v))
		total += n
	}
	return result, total, nil
}

func encodeIndices(enc *scale.Encoder, indices []uint64) (total int, err error) {
	n, err := scale.EncodeLen(enc, uint32(len(indices)), maxElements)
	if err != nil {
		return total, fmt.Errorf("EncodeLen failed: %w", err)
	}
	total += n
	for _, index := range indices {
		n, err := scale.EncodeCompact64(enc, index)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func decodeIndices(dec *scale.Decoder) ([]uint64, int, error) {
	length, total, err := scale.DecodeLen(dec, maxElements)
	if err != nil {
		return nil, 0, fmt.Errorf("DecodeLen failed: %w", err)
	}
	if length == 0 {
		return nil, total, nil
	}
	result := make([]uint64, 0, length)
	for i := uint32(0); i < length; i++ {
		v, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, v)
		total += n
	}
	return result, total, nil
}

func encodePaths(enc *scale.Encoder, paths [][][]byte) (total int, err error) {
	n, err := scale.EncodeLen(enc, uint32(len(paths)), maxElements)
	if err != nil {
		return total, fmt.Errorf("EncodeLen failed: %w", err)
	}
	total += n
	for _, path := range paths {
		n, err := scale.EncodeLen(enc, uint32(len(path)), maxPathLength)
		if err != nil {
			return total, fmt.Errorf("EncodeLen failed: %w", err)
		}
		total += n
		for _, node := range path {
			n, err := scale.EncodeByteSliceWithLimit(enc, node, merkle.NodeSize)
			if err != nil {
				return total, fmt.Errorf("EncodeByteSliceWithLimit failed: %w", err)
			}
			total += n
		}
	}
	return total, nil
}

func decodePaths(dec *scale.Decoder) ([][][]byte, int, error) {
	length, total, err := scale.DecodeLen(dec, maxElements)
	if err != nil {
		return nil, 0, fmt.Errorf("DecodeLen failed: %w", err)
	}
	if length == 0 {
		return nil, total, nil
	}
	result := make([][][]byte, 0, length)
	for i := uint32(0); i < length; i++ {
		path, n, err := decodePath(dec)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, path)
		total += n
	}
	return result, total, nil
}

func decodePath(dec *scale.Decoder) ([][]byte, int, error) {
	length, total, err := scale.DecodeLen(dec, maxPathLength)
	if err != nil {
		return nil, 0, fmt.Errorf("DecodeLen failed: %w", err)
	}
	// An empty path is valid for a single-leaf tree and stays non-nil.
	result := make([][]byte, 0, length)
	for i := uint32(0); i < length; i++ {
		node, n, err := scale.DecodeByteSliceWithLimit(dec, merkle.NodeSize)
		if err != nil {
			return nil, 0, fmt.Errorf("DecodeByteSlice failed: %w", err)
		}
		result = append(result, node)
		total += n
	}
	return result, total, nil
}

func encodeProof(enc *scale.Encoder, p *rs.Proof) (total int, err error) {
	{
		n, err := scale.EncodeCompact64(enc, p.Degree)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := encodeIndices(enc, p.EvalIndices)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := encodeElements(enc, p.DomainEvals)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := encodePaths(enc, p.MerkleProofs)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, p.MerkleRoot, merkle.NodeSize)
		if err != nil {
			return total, err
		}
		total += n
	}
	for _, elements := range [][]field.Element{p.ChallengePoints, p.ChallengeEvals} {
		n, err := encodeElements(enc, elements)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func decodeProof(dec *scale.Decoder, p *rs.Proof) (total int, err error) {
	{
		value, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		p.Degree = value
	}
	{
		value, n, err := decodeIndices(dec)
		if err != nil {
			return total, err
		}
		total += n
		p.EvalIndices = value
	}
	{
		value, n, err := decodeElements(dec)
		if err != nil {
			return total, err
		}
		total += n
		p.DomainEvals = value
	}
	{
		value, n, err := decodePaths(dec)
		if err != nil {
			return total, err
		}
		total += n
		p.MerkleProofs = value
	}
	{
		value, n, err := scale.DecodeByteSliceWithLimit(dec, merkle.NodeSize)
		if err != nil {
			return total, err
		}
		total += n
		p.MerkleRoot = value
	}
	for _, v := range []*[]field.Element{&p.ChallengePoints, &p.ChallengeEvals} {
		value, n, err := decodeElements(dec)
		if err != nil {
			return total, err
		}
		total += n
		*v = value
	}
	return total, nil
}
