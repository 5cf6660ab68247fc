package iff

import (
	"bytes"
	"fmt"
	"io"
	"iter"

	"github.com/Urethramancer/iff/internal/sizing"
	"github.com/Urethramancer/iff/internal/stream"
)

// HeaderSize is the size of a chunk header and of the file header.
const HeaderSize = 16

// Chunk is a node of the archive tree: a leaf holding a byte payload or a
// container holding an ordered list of child chunks, never both.
//
// Chunks are not safe for concurrent use.
type Chunk struct {
	id ID

	// size caches the payload size. Leaves always keep it current;
	// containers recompute it from their children when sized is false.
	size  uint64
	sized bool

	// offset is the payload position in the backing stream, or -1 until the
	// chunk has been scanned or written.
	offset int64

	body   body
	parent *Chunk
	reg    *registry
}

// body is either *leaf or *container.
type body interface {
	isBody()
}

type leaf struct {
	data   []byte
	loaded bool

	// encoded is set when data holds the payload exactly as stored on disk.
	// Encoded leaves are written back verbatim.
	encoded bool
}

type container struct {
	children []*Chunk
}

func (*leaf) isBody()      {}
func (*container) isBody() {}

func newChunk(id ID, reg *registry, parent *Chunk) *Chunk {
	c := &Chunk{id: id, sized: true, offset: -1, parent: parent, reg: reg}
	if reg.isContainer(id) {
		c.body = &container{}
	} else {
		c.body = &leaf{loaded: true}
	}
	return c
}

// ID returns the chunk identifier.
func (c *Chunk) ID() ID {
	return c.id
}

// Size returns the payload size in bytes.
//
// For a container this is the sum of the full sizes of its non-empty
// children. For a leaf it is the length of its data, or, once the chunk
// has been scanned or saved, the size of its payload on disk. Compressed
// leaves therefore report their uncompressed length until they are saved.
func (c *Chunk) Size() uint64 {
	c.sync()
	return c.cachedSize()
}

func (c *Chunk) cachedSize() uint64 {
	if c.sized {
		return c.size
	}
	ct, ok := c.body.(*container)
	if !ok {
		return c.size
	}
	var total uint64
	for _, child := range ct.children {
		s := child.Size()
		if s == 0 {
			continue
		}
		sum, ok := sizing.Sum(total, s, HeaderSize)
		if !ok {
			// Unrepresentable; Save reports ErrSizeOverflow.
			return ^uint64(0)
		}
		total = sum
	}
	c.size, c.sized = total, true
	return total
}

// FullSize returns the payload size plus the chunk header.
func (c *Chunk) FullSize() uint64 {
	return c.Size() + HeaderSize
}

// Empty reports whether the chunk has no payload. Empty chunks are not saved.
func (c *Chunk) Empty() bool {
	return c.Size() == 0
}

// Offset returns the position of the payload in the backing file, or -1 if
// the chunk has not been scanned or saved, or has changed since.
func (c *Chunk) Offset() int64 {
	return c.offset
}

// IsContainer reports whether the chunk holds children rather than data.
// A chunk is a container when its identifier is registered as one.
func (c *Chunk) IsContainer() bool {
	c.sync()
	_, ok := c.body.(*container)
	return ok
}

// Loaded reports whether the payload is in memory. Containers are loaded
// when all their children are.
func (c *Chunk) Loaded() bool {
	c.sync()
	switch b := c.body.(type) {
	case *leaf:
		return b.loaded
	case *container:
		for _, child := range b.children {
			if !child.Empty() && !child.Loaded() {
				return false
			}
		}
	}
	return true
}

// Data returns the leaf payload, or nil for containers and unloaded leaves.
// The slice is owned by the chunk and must not be modified.
//
// For leaves loaded from disk with a registered codec, Data returns the
// compressed payload; use Decompressed for the original bytes.
func (c *Chunk) Data() []byte {
	c.sync()
	if l, ok := c.body.(*leaf); ok {
		return l.data
	}
	return nil
}

// Decompressed returns the original bytes of a leaf. Leaves loaded from disk
// whose identifier has a codec are decoded; other leaves return a copy of
// their data.
func (c *Chunk) Decompressed() ([]byte, error) {
	if err := c.settle(); err != nil {
		return nil, err
	}
	l, ok := c.body.(*leaf)
	if !ok {
		return nil, ErrNotLeaf
	}
	if !l.loaded {
		return nil, ErrNotLoaded
	}
	codec, ok := c.reg.codec(c.id)
	if !l.encoded || !ok {
		return bytes.Clone(l.data), nil
	}
	data, err := stream.Decompress(l.data, codec)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", c.id, err)
	}
	return data, nil
}

// NumChildren returns the number of children.
func (c *Chunk) NumChildren() int {
	c.sync()
	if ct, ok := c.body.(*container); ok {
		return len(ct.children)
	}
	return 0
}

// Child returns the child at index i, or nil if i is out of range.
func (c *Chunk) Child(i int) *Chunk {
	c.sync()
	ct, ok := c.body.(*container)
	if !ok || i < 0 || i >= len(ct.children) {
		return nil
	}
	return ct.children[i]
}

// Children returns an iterator over the children in order.
func (c *Chunk) Children() iter.Seq2[int, *Chunk] {
	return func(yield func(int, *Chunk) bool) {
		c.sync()
		ct, ok := c.body.(*container)
		if !ok {
			return
		}
		for i, child := range ct.children {
			if !yield(i, child) {
				return
			}
		}
	}
}

// Find returns the first child with identifier id, or nil.
func (c *Chunk) Find(id ID) *Chunk {
	for _, child := range c.Children() {
		if child.id == id {
			return child
		}
	}
	return nil
}

// SetData makes the chunk a leaf holding a copy of p. Any children are
// discarded. If the chunk's identifier is a registered container, p must
// hold encoded child chunks; they are decoded when the chunk is next used.
func (c *Chunk) SetData(p []byte) {
	data := make([]byte, len(p))
	copy(data, p)
	c.body = &leaf{data: data, loaded: true}
	c.size, c.sized = uint64(len(data)), true
	c.invalidate()
}

// AppendData appends p to the leaf payload and returns the new payload
// size. It fails for containers with children, for unloaded leaves and for
// leaves holding an encoded on-disk payload.
func (c *Chunk) AppendData(p []byte) (uint64, error) {
	c.sync()
	var old []byte
	switch b := c.body.(type) {
	case *container:
		if len(b.children) > 0 {
			return 0, ErrNotLeaf
		}
	case *leaf:
		if !b.loaded {
			return 0, ErrNotLoaded
		}
		if b.encoded {
			return 0, ErrEncoded
		}
		old = b.data
	}

	total, ok := sizing.AddUint64(uint64(len(old)), uint64(len(p)))
	if !ok {
		return 0, ErrSizeOverflow
	}
	n, err := sizing.ToInt(total, ErrSizeOverflow)
	if err != nil {
		return 0, err
	}

	data := make([]byte, n)
	copy(data, old)
	copy(data[len(old):], p)
	c.body = &leaf{data: data, loaded: true}
	c.size, c.sized = total, true
	c.invalidate()
	return total, nil
}

// AddChild appends an empty child with identifier id and returns it. A leaf
// becomes a container and its data is discarded; since containers are
// identified by their identifier, the chunk's identifier is registered as a
// container identifier.
func (c *Chunk) AddChild(id ID) *Chunk {
	c.reg.containers[c.id] = struct{}{}
	ct, ok := c.body.(*container)
	if !ok {
		ct = &container{}
		c.body = ct
	}
	child := newChunk(id, c.reg, c)
	ct.children = append(ct.children, child)
	c.invalidate()
	return child
}

// AddChildData appends a child leaf holding a copy of p and returns it.
func (c *Chunk) AddChildData(id ID, p []byte) *Chunk {
	child := c.AddChild(id)
	child.SetData(p)
	return child
}

// Clear releases the leaf payload. A chunk whose payload is unchanged since
// it was scanned or saved keeps its size and can be loaded again; any other
// chunk becomes empty.
func (c *Chunk) Clear() {
	c.sync()
	l, ok := c.body.(*leaf)
	if !ok {
		return
	}
	l.data, l.loaded, l.encoded = nil, false, false
	if c.offset < 0 {
		c.size = 0
		l.loaded = true
		c.invalidate()
	}
}

// invalidate records that c changed: the cached sizes of every container
// from c upwards are stale, and none of them matches the backing file any
// more.
func (c *Chunk) invalidate() {
	for p := c; p != nil; p = p.parent {
		p.offset = -1
		if _, ok := p.body.(*container); ok {
			p.sized = false
		}
	}
}

// resized marks the cached sizes of the containers above c stale without
// touching their offsets.
func (c *Chunk) resized() {
	for p := c.parent; p != nil; p = p.parent {
		p.sized = false
	}
}

// settleTree settles c and every descendant.
func (c *Chunk) settleTree() error {
	if err := c.settle(); err != nil {
		return err
	}
	if ct, ok := c.body.(*container); ok {
		for _, child := range ct.children {
			if err := child.settleTree(); err != nil {
				return err
			}
		}
	}
	return nil
}

// sync applies settle where no error can be returned. A failure leaves the
// chunk as it was; Load and Save report it.
func (c *Chunk) sync() {
	_ = c.settle()
}

// settle converts the body of c when the registry disagrees with it: a chunk
// is a container exactly when its identifier is registered as one.
func (c *Chunk) settle() error {
	want := c.reg.isContainer(c.id)
	switch b := c.body.(type) {
	case *leaf:
		if want {
			return c.toContainer(b)
		}
	case *container:
		if !want {
			return c.toLeaf(b)
		}
	}
	return nil
}

// toContainer decodes the payload of a leaf as child chunks, from memory when
// it is loaded and from the backing file otherwise.
func (c *Chunk) toContainer(l *leaf) error {
	switch {
	case l.loaded && len(l.data) == 0:
		c.body = &container{}
		c.size, c.sized = 0, true
		c.resized()
		return nil

	case l.loaded:
		children, err := c.parseChildren(l.data)
		if err != nil {
			return fmt.Errorf("chunk %s as container: %w", c.id, err)
		}
		// Encoded bytes are the file's bytes, so offsets map onto the file.
		onDisk := l.encoded && c.offset >= 0
		for _, child := range children {
			child.rebase(c.offset, onDisk)
		}
		c.body = &container{children: children}
		c.sized = false
		c.resized()
		return nil

	default:
		if c.reg.src == nil {
			return ErrClosed
		}
		if _, err := c.reg.src.Seek(c.offset, io.SeekStart); err != nil {
			return fmt.Errorf("seek to chunk %s: %w", c.id, err)
		}
		children, err := scanChildren(c.reg.src, c.reg, c, c.size)
		if err != nil {
			return fmt.Errorf("chunk %s as container: %w", c.id, err)
		}
		c.body = &container{children: children}
		return nil
	}
}

// toLeaf turns a container into a leaf whose payload is its encoded children.
func (c *Chunk) toLeaf(ct *container) error {
	if c.offset >= 0 {
		// The file still holds the children; load them from there on demand.
		size := c.cachedSize()
		c.body = &leaf{loaded: size == 0}
		c.size, c.sized = size, true
		return nil
	}

	for _, child := range ct.children {
		if child.Empty() || child.Loaded() {
			continue
		}
		if c.reg.src == nil {
			return ErrClosed
		}
		if err := child.load(c.reg.src); err != nil {
			return err
		}
	}
	buf := stream.NewBuffer(nil)
	n, err := writeChildren(buf, ct.children)
	if err != nil {
		return fmt.Errorf("chunk %s as leaf: %w", c.id, err)
	}
	c.body = &leaf{data: buf.Bytes(), loaded: true, encoded: true}
	c.size, c.sized = n, true
	c.resized()
	return nil
}

// parseChildren decodes p as a sequence of chunks with parent c.
func (c *Chunk) parseChildren(p []byte) ([]*Chunk, error) {
	r := bytes.NewReader(p)
	children, err := scanChildren(r, c.reg, c, uint64(len(p)))
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if child.Empty() {
			continue
		}
		if err := child.load(r); err != nil {
			return nil, err
		}
	}
	return children, nil
}

// rebase shifts the offsets of c and its descendants by base when they map
// onto the backing file, or forgets them otherwise.
func (c *Chunk) rebase(base int64, onDisk bool) {
	if onDisk {
		c.offset += base
	} else {
		c.offset = -1
	}
	if ct, ok := c.body.(*container); ok {
		for _, child := range ct.children {
			child.rebase(base, onDisk)
		}
	}
}
