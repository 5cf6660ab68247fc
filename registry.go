package iff

import (
	"io"
	"maps"

	"github.com/Urethramancer/iff/internal/stream"
)

// registry is the per-archive table of identifier behaviour. Every chunk of
// an archive shares the same registry, so changes apply to chunks created
// before them.
type registry struct {
	containers map[ID]struct{}
	hooks      map[ID]Hook
	codecs     map[ID]Codec
	compress   []stream.Option

	// src is the archive's open file, read when a chunk changes between
	// leaf and container. It is nil while the archive is closed.
	src io.ReadSeeker
}

var defaultCodecs = map[ID]Codec{
	CompUTF8:  CodecZlib,
	CompUTF16: CodecZlib,
	CompUTF32: CodecZlib,
	ZstdUTF8:  CodecZstd,
	LZ4UTF8:   CodecLZ4,
}

func newRegistry(cfg *config) *registry {
	r := &registry{
		containers: map[ID]struct{}{Folder: {}},
		hooks:      make(map[ID]Hook),
		codecs:     maps.Clone(defaultCodecs),
	}
	for _, id := range cfg.containers {
		r.containers[id] = struct{}{}
	}
	maps.Copy(r.codecs, cfg.codecs)
	if cfg.window > 0 {
		r.compress = append(r.compress, stream.WithWindowSize(cfg.window))
	}
	if cfg.level != stream.LevelDefault {
		r.compress = append(r.compress, stream.WithLevel(cfg.level))
	}
	return r
}

func (r *registry) isContainer(id ID) bool {
	_, ok := r.containers[id]
	return ok
}

func (r *registry) hook(id ID) Hook {
	return r.hooks[id]
}

func (r *registry) codec(id ID) (Codec, bool) {
	c, ok := r.codecs[id]
	return c, ok
}

// dropHooks removes every hook, closing those that implement io.Closer.
// It returns the first close error.
func (r *registry) dropHooks() error {
	var first error
	for id, h := range r.hooks {
		if c, ok := h.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
		delete(r.hooks, id)
	}
	return first
}
