// Package archive handles snapshot export and import.
package archive

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"bough/cas"
	"bough/tree"
)

// Archive format (zstd compressed):
// [4 bytes: header length (big-endian)]
// [header JSON: Header]
// [attribute data...]
//
// Entries list the tree depth first. Each entry's attributes are canonical
// JSON at Offset/Length relative to the start of the data section. Paths are
// renumbered from a single root so they are dense and independent of where
// the tree was stored. The header carries a BLAKE3 checksum of the whole
// data section and each entry a digest of its kind and attributes.

const (
	FormatVersion    = 1
	HeaderLengthSize = 4
	MaxHeaderSize    = 64 * 1024 * 1024
	MaxArchiveSize   = 1 << 30
)

var (
	ErrFormat              = errors.New("malformed archive")
	ErrUnsupportedVersion  = errors.New("unsupported archive version")
	ErrFingerprintMismatch = errors.New("archive fingerprint mismatch")
	ErrChecksumMismatch    = errors.New("archive checksum mismatch")
	ErrTooLarge            = errors.New("archive too large")
)

// maxArchiveSize bounds the decompressed size accepted by Read.
var maxArchiveSize int64 = MaxArchiveSize

// Header describes an archived tree.
type Header struct {
	Version     int     `json:"version"`
	Fingerprint string  `json:"fingerprint"`
	Nodes       int     `json:"nodes"`
	Checksum    string  `json:"checksum"`
	Entries     []Entry `json:"entries"`
}

// Entry is one archived node.
type Entry struct {
	Path   string `json:"path"`
	Kind   string `json:"kind"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
	Digest string `json:"digest"`
}

// Write archives the loaded tree below root to w.
func Write(w io.Writer, root *tree.Node) (*Header, error) {
	fp, err := tree.Fingerprint(root)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting: %w", err)
	}
	header := &Header{Version: FormatVersion, Fingerprint: fp}

	var data bytes.Buffer
	var add func(n *tree.Node, path string) error
	add = func(n *tree.Node, path string) error {
		attrs, err := n.Kind().EncodeAttrs(n.Attrs())
		if err != nil {
			return fmt.Errorf("encoding attrs of %s: %w", n.ID, err)
		}
		digest, err := cas.DigestHex(n.Kind().Name, json.RawMessage(attrs))
		if err != nil {
			return fmt.Errorf("digesting attrs of %s: %w", n.ID, err)
		}
		header.Entries = append(header.Entries, Entry{
			Path:   path,
			Kind:   n.Kind().Name,
			Offset: int64(data.Len()),
			Length: int64(len(attrs)),
			Digest: digest,
		})
		data.Write(attrs)
		for i, c := range n.Children() {
			cp, err := tree.ChildPath(path, i+1)
			if err != nil {
				return err
			}
			if err := add(c, cp); err != nil {
				return err
			}
		}
		return nil
	}
	if err := add(root, tree.FirstChildPath("")); err != nil {
		return nil, err
	}
	header.Nodes = len(header.Entries)
	header.Checksum = cas.Blake3HashHex(data.Bytes())

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}

	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	headerLen := make([]byte, HeaderLengthSize)
	binary.BigEndian.PutUint32(headerLen, uint32(len(headerJSON)))
	for _, part := range [][]byte{headerLen, headerJSON, data.Bytes()} {
		if _, err := encoder.Write(part); err != nil {
			encoder.Close()
			return nil, fmt.Errorf("compressing: %w", err)
		}
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("closing encoder: %w", err)
	}
	return header, nil
}

// Read decompresses an archive of at most MaxArchiveSize bytes and rebuilds
// its tree as detached nodes, resolving kinds against kinds. The data
// section and every entry must match their checksums, and the rebuilt tree
// must hash to the fingerprint recorded in the header.
func Read(r io.Reader, kinds *tree.Registry) (*tree.Node, *Header, error) {
	decoder, err := zstd.NewReader(r, zstd.WithDecoderMaxMemory(MaxArchiveSize))
	if err != nil {
		return nil, nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	raw, err := io.ReadAll(io.LimitReader(decoder, maxArchiveSize+1))
	if errors.Is(err, zstd.ErrWindowSizeExceeded) || errors.Is(err, zstd.ErrDecoderSizeExceeded) {
		return nil, nil, fmt.Errorf("%w: %v", ErrTooLarge, err)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing: %w", err)
	}
	if int64(len(raw)) > maxArchiveSize {
		return nil, nil, fmt.Errorf("%w: more than %d bytes decompressed", ErrTooLarge, maxArchiveSize)
	}
	if len(raw) < HeaderLengthSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrFormat, len(raw))
	}

	headerLen := binary.BigEndian.Uint32(raw[:HeaderLengthSize])
	if headerLen > MaxHeaderSize {
		return nil, nil, fmt.Errorf("%w: header too large: %d bytes", ErrFormat, headerLen)
	}
	if int(HeaderLengthSize+headerLen) > len(raw) {
		return nil, nil, fmt.Errorf("%w: header length exceeds archive size", ErrFormat)
	}

	var header Header
	if err := json.Unmarshal(raw[HeaderLengthSize:HeaderLengthSize+headerLen], &header); err != nil {
		return nil, nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatVersion {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header.Version)
	}
	if len(header.Entries) == 0 || header.Nodes != len(header.Entries) {
		return nil, nil, fmt.Errorf("%w: header lists %d of %d nodes", ErrFormat, len(header.Entries), header.Nodes)
	}
	data := raw[HeaderLengthSize+headerLen:]
	if sum := cas.Blake3HashHex(data); sum != header.Checksum {
		return nil, nil, fmt.Errorf("%w: header %s, data %s", ErrChecksumMismatch, header.Checksum, sum)
	}

	nodes := make([]*tree.Node, 0, len(header.Entries))
	for _, e := range header.Entries {
		n, err := decodeEntry(e, data, kinds)
		if err != nil {
			return nil, nil, err
		}
		nodes = append(nodes, n)
	}

	root := nodes[0]
	if !root.IsRoot() {
		return nil, nil, fmt.Errorf("%w: first entry %s is not a root", ErrFormat, root.Path)
	}
	if err := tree.Reconstruct([]*tree.Node{root}, nodes[1:]); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	for _, n := range nodes {
		n.NumChild = len(n.Children())
	}

	fp, err := tree.Fingerprint(root)
	if err != nil {
		return nil, nil, err
	}
	if fp != header.Fingerprint {
		return nil, nil, fmt.Errorf("%w: header %s, tree %s", ErrFingerprintMismatch, header.Fingerprint, fp)
	}
	return root, &header, nil
}

func decodeEntry(e Entry, data []byte, kinds *tree.Registry) (*tree.Node, error) {
	if e.Offset < 0 || e.Length < 0 || e.Offset+e.Length > int64(len(data)) {
		return nil, fmt.Errorf("%w: entry %s extends beyond data", ErrFormat, e.Path)
	}
	if err := tree.CheckPath(e.Path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	raw := data[e.Offset : e.Offset+e.Length]
	digest, err := cas.DigestHex(e.Kind, json.RawMessage(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: entry %s: %v", ErrFormat, e.Path, err)
	}
	if digest != e.Digest {
		return nil, fmt.Errorf("%w: entry %s", ErrChecksumMismatch, e.Path)
	}

	k := kinds.Resolve(e.Kind)
	attrs, err := k.DecodeAttrs(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding attrs of %s: %w", e.Path, err)
	}
	return &tree.Node{
		ID:          e.Path,
		Path:        e.Path,
		Depth:       tree.PathDepth(e.Path),
		ContentKind: e.Kind,
		Content:     &tree.Content{Kind: k, Attrs: attrs},
	}, nil
}
