package transfer

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// encodeStream copies r into w applying gzip and/or age encryption per the
// options. The returned byte count and checksum describe the source payload,
// not the encoded output.
func encodeStream(w io.Writer, r io.Reader, opts CopyOptions, enc *Encryptor) (int64, string, error) {
	var hasher io.Writer = io.Discard
	var sum func() string
	if opts.Checksum {
		h := sha256.New()
		hasher = h
		sum = func() string { return hex.EncodeToString(h.Sum(nil)) }
	}

	// Write chain, outermost last: file <- age <- gzip <- payload.
	var closers []io.Closer
	out := w
	if opts.Encrypt {
		ew, err := enc.Wrap(out)
		if err != nil {
			return 0, "", err
		}
		closers = append(closers, ew)
		out = ew
	}
	if opts.Compress {
		level := opts.CompressLevel
		if level < gzip.BestSpeed || level > gzip.BestCompression {
			level = gzip.DefaultCompression
		}
		gw, err := gzip.NewWriterLevel(out, level)
		if err != nil {
			return 0, "", err
		}
		closers = append(closers, gw)
		out = gw
	}

	n, err := io.Copy(io.MultiWriter(out, hasher), r)
	// Close innermost first so each layer flushes into the next.
	for i := len(closers) - 1; i >= 0; i-- {
		if cerr := closers[i].Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return n, "", err
	}

	checksum := ""
	if sum != nil {
		checksum = sum()
	}
	return n, checksum, nil
}

// decodeStream copies r into w reversing the encoding the name's suffixes
// imply (".age" outermost, then ".gz").
func decodeStream(w io.Writer, r io.Reader, name string, enc *Encryptor) error {
	rest := name
	if strings.HasSuffix(rest, ".age") {
		dr, err := enc.Unwrap(r)
		if err != nil {
			return fmt.Errorf("decrypt %s: %w", name, err)
		}
		r = dr
		rest = strings.TrimSuffix(rest, ".age")
	}
	if strings.HasSuffix(rest, ".gz") {
		gr, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("decompress %s: %w", name, err)
		}
		defer gr.Close()
		r = gr
	}

	_, err := io.Copy(w, r)
	return err
}
