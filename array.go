package txcore

import "fmt"

// Array represents a named symbolic byte array: an uninterpreted function
// from 64-bit index to byte, used as a free-variable source.
type Array struct {
	ID   uint64
	Name string
	Size uint // width, in bytes
}

// NewArray returns a fresh array registered with the context.
// Each call yields a distinct identity, even for equal names.
func (c *Context) NewArray(name string, size uint) *Array {
	c.arraySeq++
	return &Array{ID: c.arraySeq, Name: name, Size: size}
}

// ShadowArray returns a fresh stand-in for a during interpolant
// extraction. The shadow shares the original's size but has its own
// identity, so substituting it renders the original existential.
func (c *Context) ShadowArray(a *Array) *Array {
	return c.NewArray(a.Name+"'", a.Size)
}

// String returns a string representation of the array.
func (a *Array) String() string {
	if a.Name != "" {
		return fmt.Sprintf("(array %s#%d %d)", a.Name, a.ID, a.Size)
	}
	return fmt.Sprintf("(array #%d %d)", a.ID, a.Size)
}

// CompareArray returns an integer comparing two arrays by identity.
// The result is 0 if a == b, -1 if a < b, and +1 if a > b.
func CompareArray(a, b *Array) int {
	if a == b {
		return 0
	}
	if a == nil {
		return -1
	} else if b == nil {
		return 1
	}

	if a.ID < b.ID {
		return -1
	} else if a.ID > b.ID {
		return 1
	}
	return 0
}
