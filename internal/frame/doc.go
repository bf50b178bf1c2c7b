// Package frame implements the on-disk envelope for blob files written by the
// local connector. Each blob is stored as a single frame: a fixed header
// carrying a magic number, the compression codec, the logical (uncompressed)
// length and a CRC-32C checksum, followed by the payload.
//
// The checksum covers the logical bytes, so a torn or bit-flipped blob is
// detected on decode regardless of codec. Incompressible payloads are stored
// raw even when a codec is requested, so decode never depends on what the
// writer was configured with.
package frame
