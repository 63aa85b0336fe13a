package bridge

import (
	"fmt"

	"github.com/soypete/llamabridge/pkg/handle"
	"github.com/soypete/llamabridge/pkg/ngram"
)

// NgramCacheInit creates an empty n-gram cache.
func (b *Bridge) NgramCacheInit() handle.Handle {
	return b.ngramCaches.Insert(ngram.New())
}

// NgramCacheLoad reads a cache file written by NgramCacheSave or by
// llama.cpp's lookup tools.
func (b *Bridge) NgramCacheLoad(path string) (handle.Handle, error) {
	c, err := ngram.LoadFile(path)
	if err != nil {
		return 0, err
	}
	return b.ngramCaches.Insert(c), nil
}

func (b *Bridge) ngramCache(op string, h handle.Handle) (*ngram.Cache, error) {
	c, err := b.ngramCaches.Get(h)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// NgramCacheSave writes the cache to path.
func (b *Bridge) NgramCacheSave(h handle.Handle, path string) error {
	c, err := b.ngramCache("ngram cache save", h)
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// NgramCacheUpdate counts the n-grams completed by the last nNew tokens of inp.
func (b *Bridge) NgramCacheUpdate(h handle.Handle, ngramMin, ngramMax int, inp []int32, nNew int) error {
	c, err := b.ngramCache("ngram cache update", h)
	if err != nil {
		return err
	}
	return c.Update(ngramMin, ngramMax, inp, nNew)
}

// NgramCacheDraft extends draft from the context, dynamic and static caches.
func (b *Bridge) NgramCacheDraft(inp, draft []int32, nDraft, ngramMin, ngramMax int, context, dynamic, static handle.Handle) ([]int32, error) {
	cc, err := b.ngramCache("ngram cache draft", context)
	if err != nil {
		return draft, err
	}
	dc, err := b.ngramCache("ngram cache draft", dynamic)
	if err != nil {
		return draft, err
	}
	sc, err := b.ngramCache("ngram cache draft", static)
	if err != nil {
		return draft, err
	}
	return ngram.Draft(inp, draft, nDraft, ngramMin, ngramMax, cc, dc, sc)
}

// NgramCacheMerge adds the counts of add to target.
func (b *Bridge) NgramCacheMerge(target, add handle.Handle) error {
	tc, err := b.ngramCache("ngram cache merge", target)
	if err != nil {
		return err
	}
	ac, err := b.ngramCache("ngram cache merge", add)
	if err != nil {
		return err
	}
	tc.Merge(ac)
	return nil
}

// NgramCacheFree releases a cache.
func (b *Bridge) NgramCacheFree(h handle.Handle) error {
	if _, err := b.ngramCaches.Remove(h); err != nil {
		return fmt.Errorf("ngram cache free: %w", err)
	}
	return nil
}
