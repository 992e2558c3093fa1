package storage

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/veinworld/worldserver/pkg/core"
)

// BlobEncoding tags payloads written by EncodeChunk.
const BlobEncoding = "zstd+json"

// The zstd encoder and decoder are safe for concurrent EncodeAll/DecodeAll.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// EncodeChunk serializes a chunk for the cold tier.
func EncodeChunk(c *core.ChunkData) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal chunk: %w", err)
	}
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

// DecodeChunk reverses EncodeChunk.
func DecodeChunk(blob []byte) (*core.ChunkData, error) {
	raw, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress chunk: %w", err)
	}
	var c core.ChunkData
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("unmarshal chunk: %w", err)
	}
	return &c, nil
}
