package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/rickgao/marketlake/internal/model"
)

// Options narrows a discovery walk.
type Options struct {
	Vendors   []string // Empty means every vendor
	DataTypes []string // Empty means every data type
	Hash      bool     // Compute content hashes while walking
}

// Discover walks root and returns the bronze files it finds, ordered by
// relative path. Paths that are not valid bronze files are logged and
// skipped.
func Discover(ctx context.Context, root string, opts Options, logger *slog.Logger) ([]model.BronzeFileMetadata, error) {
	if logger == nil {
		logger = slog.Default()
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat bronze root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("bronze root %s is not a directory", root)
	}

	var files []model.BronzeFileMetadata
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || FormatOf(d.Name()) == FormatUnknown {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		parts, err := ParsePath(rel)
		if err != nil {
			logger.Warn("skipping bronze file", "path", rel, "err", err)
			return nil
		}
		if !wanted(opts.Vendors, parts.Vendor) || !wanted(opts.DataTypes, parts.DataType) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", rel, err)
		}
		meta := model.BronzeFileMetadata{
			Vendor:       parts.Vendor,
			DataType:     parts.DataType,
			RelativePath: rel,
			Size:         fi.Size(),
			Mtime:        fi.ModTime().UnixMicro(),
			Date:         parts.Date,
			Exchange:     parts.Exchange,
			Symbol:       parts.Symbol,
		}
		if opts.Hash {
			if meta.ContentHash, err = HashFile(path); err != nil {
				return err
			}
		}
		files = append(files, meta)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk bronze root: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelativePath < files[j].RelativePath })
	logger.Debug("discovered bronze files", "root", root, "count", len(files))
	return files, nil
}

func wanted(filter []string, v string) bool {
	return len(filter) == 0 || slices.Contains(filter, v)
}

// HashFile returns the hex SHA-256 of the file's raw bytes.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// EnsureHash fills meta.ContentHash from the file under root if it is empty.
func EnsureHash(root string, meta *model.BronzeFileMetadata) error {
	if meta.ContentHash != "" {
		return nil
	}
	h, err := HashFile(filepath.Join(root, filepath.FromSlash(meta.RelativePath)))
	if err != nil {
		return err
	}
	meta.ContentHash = h
	return nil
}
