package surface

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Surface is a named 2D RGBA raster with normalized float32 samples in [0,1].
// It is owned and mutated by an editor (the HTTP upload path, or an embedding
// host); the streaming pipeline only reads pixel data and observes the dirty
// flag. Dimensions are fixed for the surface's lifetime.
//
// The dirty flag is set by every mutation and cleared only through ClearDirty,
// which belongs to the editor's commit path. Readers never clear it.
type Surface struct {
	name   string
	width  int
	height int

	mu     sync.RWMutex
	pixels []float32

	dirty atomic.Bool
}

// New creates a surface of the given size, initialized to transparent black.
func New(name string, width, height int) (*Surface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid surface size: %dx%d", width, height)
	}
	return &Surface{
		name:   name,
		width:  width,
		height: height,
		pixels: make([]float32, width*height*4),
	}, nil
}

// Name returns the surface name.
func (s *Surface) Name() string {
	return s.name
}

// Size returns the surface dimensions.
func (s *Surface) Size() (width, height int) {
	return s.width, s.height
}

// Dirty reports whether the surface has been mutated since the editor last
// cleared the flag.
func (s *Surface) Dirty() bool {
	return s.dirty.Load()
}

// MarkDirty flags the surface as modified.
func (s *Surface) MarkDirty() {
	s.dirty.Store(true)
}

// ClearDirty resets the dirty flag. Editor commit path only.
func (s *Surface) ClearDirty() {
	s.dirty.Store(false)
}

// ReadPixels returns a snapshot of the pixel data, length W*H*4, ordered
// (row, column, channel) with the top row first.
func (s *Surface) ReadPixels() []float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]float32, len(s.pixels))
	copy(out, s.pixels)
	return out
}

// SetPixels replaces the full pixel buffer and marks the surface dirty.
// The slice length must be exactly W*H*4.
func (s *Surface) SetPixels(pixels []float32) error {
	if len(pixels) != s.width*s.height*4 {
		return fmt.Errorf("pixel buffer length %d, want %d", len(pixels), s.width*s.height*4)
	}

	s.mu.Lock()
	copy(s.pixels, pixels)
	s.mu.Unlock()

	s.dirty.Store(true)
	return nil
}

// Fill sets every pixel to the given RGBA sample and marks the surface dirty.
func (s *Surface) Fill(r, g, b, a float32) {
	s.mu.Lock()
	for i := 0; i < len(s.pixels); i += 4 {
		s.pixels[i] = r
		s.pixels[i+1] = g
		s.pixels[i+2] = b
		s.pixels[i+3] = a
	}
	s.mu.Unlock()

	s.dirty.Store(true)
}

// Registry holds named surfaces.
type Registry struct {
	mu       sync.RWMutex
	surfaces map[string]*Surface
}

// NewRegistry creates an empty surface registry.
func NewRegistry() *Registry {
	return &Registry{
		surfaces: make(map[string]*Surface),
	}
}

// Create adds a new surface to the registry. Creating a surface under an
// existing name is an error; surfaces are never resized in place.
func (r *Registry) Create(name string, width, height int) (*Surface, error) {
	s, err := New(name, width, height)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.surfaces[name]; exists {
		return nil, fmt.Errorf("surface already exists: %s", name)
	}
	r.surfaces[name] = s
	return s, nil
}

// Get returns the surface with the given name, or nil if absent.
func (r *Registry) Get(name string) *Surface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.surfaces[name]
}

// Remove deletes a surface from the registry.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	delete(r.surfaces, name)
	r.mu.Unlock()
}

// Names returns the names of all registered surfaces.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.surfaces))
	for name := range r.surfaces {
		names = append(names, name)
	}
	return names
}
