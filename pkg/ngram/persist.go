package ngram

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
)

// ErrCorrupt is returned when a cache file cannot be decoded.
var ErrCorrupt = errors.New("corrupt n-gram cache")

// maxFollowers bounds the follower count of one record; no vocabulary is
// larger.
const maxFollowers = 1 << 22

// Save writes the cache as a sequence of records, each the n-gram's MaxN
// tokens, the number of followers, and (token, count) pairs, all
// little-endian int32. N-grams and followers are written in ascending order.
func (c *Cache) Save(w io.Writer) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]Ngram, 0, len(c.parts))
	for ng := range c.parts {
		keys = append(keys, ng)
	}
	slices.SortFunc(keys, Ngram.compare)

	bw := bufio.NewWriter(w)
	for _, ng := range keys {
		part := sortedPart(c.parts[ng])
		if err := binary.Write(bw, binary.LittleEndian, ng); err != nil {
			return fmt.Errorf("save n-gram cache: %w", err)
		}
		if err := binary.Write(bw, binary.LittleEndian, int32(len(part))); err != nil {
			return fmt.Errorf("save n-gram cache: %w", err)
		}
		if err := binary.Write(bw, binary.LittleEndian, part); err != nil {
			return fmt.Errorf("save n-gram cache: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("save n-gram cache: %w", err)
	}
	return nil
}

// SaveFile writes the cache to path, replacing any existing file.
func (c *Cache) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save n-gram cache: %w", err)
	}
	if err := c.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads a cache written by Save.
func Load(r io.Reader) (*Cache, error) {
	br := bufio.NewReader(r)
	c := New()

	for {
		var ng Ngram
		err := binary.Read(br, binary.LittleEndian, &ng)
		if errors.Is(err, io.EOF) {
			return c, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load n-gram cache: %w: %w", ErrCorrupt, err)
		}

		var n int32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("load n-gram cache: %w: %w", ErrCorrupt, err)
		}
		if n <= 0 || n > maxFollowers {
			return nil, fmt.Errorf("load n-gram cache: %w: n-gram with %d followers", ErrCorrupt, n)
		}

		pairs := make([]TokenCount, n)
		if err := binary.Read(br, binary.LittleEndian, pairs); err != nil {
			return nil, fmt.Errorf("load n-gram cache: %w: %w", ErrCorrupt, err)
		}
		part := make(map[int32]int32, n)
		for _, tc := range pairs {
			if tc.Count <= 0 {
				return nil, fmt.Errorf("load n-gram cache: %w: token %d with count %d", ErrCorrupt, tc.Token, tc.Count)
			}
			part[tc.Token] = tc.Count
		}
		c.parts[ng] = part
	}
}

// LoadFile reads a cache from path.
func LoadFile(path string) (*Cache, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load n-gram cache: %w", err)
	}
	defer f.Close()
	return Load(f)
}
