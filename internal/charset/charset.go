// Package charset detects the text encoding of subtitle files and re-encodes them to UTF-8.
package charset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"reelstream/internal/tools"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Encoding is the family reported by the sniffing tool.
type Encoding int

const (
	Unknown Encoding = iota
	UTF8
	ASCII
	ISO8859
	ExtendedASCII
)

func (e Encoding) String() string {
	switch e {
	case UTF8:
		return "utf-8"
	case ASCII:
		return "ascii"
	case ISO8859:
		return "iso-8859"
	case ExtendedASCII:
		return "extended-ascii"
	default:
		return "unknown"
	}
}

// Classify maps a `file` description to an Encoding by substring match.
func Classify(description string) Encoding {
	switch {
	case strings.Contains(description, "UTF-8"):
		return UTF8
	case strings.Contains(description, "ISO-8859"):
		return ISO8859
	case strings.Contains(description, "Non-ISO extended-ASCII"):
		return ExtendedASCII
	case strings.Contains(description, "ASCII"):
		return ASCII
	default:
		return Unknown
	}
}

// decoder returns the decoder for encodings that need conversion, nil otherwise.
// ASCII is a subset of UTF-8 and is left as is.
func (e Encoding) decoder() *encoding.Decoder {
	switch e {
	case ISO8859:
		return charmap.ISO8859_1.NewDecoder()
	case ExtendedASCII:
		return charmap.Windows1252.NewDecoder()
	default:
		return nil
	}
}

// Normalizer converts subtitle files to UTF-8 using the `file` tool for detection.
type Normalizer struct {
	runner  tools.Runner
	fileCmd string
	logger  *logrus.Logger
}

// NewNormalizer creates a Normalizer. fileCmd defaults to "file".
func NewNormalizer(runner tools.Runner, fileCmd string, logger *logrus.Logger) *Normalizer {
	if fileCmd == "" {
		fileCmd = "file"
	}
	return &Normalizer{runner: runner, fileCmd: fileCmd, logger: logger}
}

// Detect runs the sniffing tool on path.
func (n *Normalizer) Detect(ctx context.Context, path string) (Encoding, error) {
	out, err := n.runner.Output(ctx, n.fileCmd, path)
	if err != nil {
		return Unknown, fmt.Errorf("detect charset: %w", err)
	}
	return Classify(string(out)), nil
}

// Normalize returns a UTF-8 version of path. When a conversion happens the new file is
// written to outDir as "<name>.UTF8.<ext>" and created is true; the caller owns it.
// Detection failures are not fatal: the original path is returned unchanged.
func (n *Normalizer) Normalize(ctx context.Context, path, outDir string) (string, bool, error) {
	enc, err := n.Detect(ctx, path)
	if err != nil {
		n.logger.WithError(err).WithField("path", path).Warn("Charset detection failed, using file as is")
		return path, false, nil
	}

	dec := enc.decoder()
	if dec == nil {
		return path, false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, fmt.Errorf("read subtitle: %w", err)
	}
	converted, err := dec.Bytes(data)
	if err != nil {
		return "", false, fmt.Errorf("convert %s to utf-8: %w", enc, err)
	}

	target := filepath.Join(outDir, utf8Name(filepath.Base(path)))
	if err := os.WriteFile(target, converted, 0644); err != nil {
		return "", false, fmt.Errorf("write converted subtitle: %w", err)
	}

	n.logger.WithFields(logrus.Fields{
		"path":     path,
		"encoding": enc.String(),
		"target":   target,
	}).Debug("Converted subtitle to UTF-8")
	return target, true, nil
}

// ToUTF8 returns data unchanged when it is valid UTF-8 and decodes it as ISO-8859-1
// otherwise. A leading byte order mark is dropped.
func ToUTF8(data []byte) []byte {
	data = trimBOM(data)
	if utf8.Valid(data) {
		return data
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return data
	}
	return out
}

func trimBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

func utf8Name(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return base + ".UTF8" + ext
}
