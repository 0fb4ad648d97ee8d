// Package framebuf hands RGB565 frames between a capture producer and a
// display consumer without sharing a frame between them.
package framebuf

// Frame is an RGB565 image, two bytes per pixel, little endian.
type Frame struct {
	id     int
	width  int
	height int
	stride int
	buf    []byte
}

// NewFrame allocates a width x height frame.
func NewFrame(width, height int) *Frame {
	stride := width * 2
	return &Frame{
		width:  width,
		height: height,
		stride: stride,
		buf:    make([]byte, stride*height),
	}
}

func (f *Frame) Width() int       { return f.width }
func (f *Frame) Height() int      { return f.height }
func (f *Frame) StrideBytes() int { return f.stride }
func (f *Frame) Buffer() []byte   { return f.buf }

func (f *Frame) ClearRGB(r, g, b uint8) {
	pixel := RGB565(r, g, b)
	lo := byte(pixel)
	hi := byte(pixel >> 8)
	for i := 0; i < len(f.buf); i += 2 {
		f.buf[i] = lo
		f.buf[i+1] = hi
	}
}

// Set writes one pixel. Out-of-bounds coordinates are ignored.
func (f *Frame) Set(x, y int, pixel uint16) {
	if x < 0 || y < 0 || x >= f.width || y >= f.height {
		return
	}
	i := y*f.stride + x*2
	f.buf[i] = byte(pixel)
	f.buf[i+1] = byte(pixel >> 8)
}

// At returns the pixel at x, y, or 0 outside the frame.
func (f *Frame) At(x, y int) uint16 {
	if x < 0 || y < 0 || x >= f.width || y >= f.height {
		return 0
	}
	i := y*f.stride + x*2
	return uint16(f.buf[i]) | uint16(f.buf[i+1])<<8
}

// CopyTo copies the frame contents into dst and returns the number of bytes copied.
func (f *Frame) CopyTo(dst []byte) int {
	return copy(dst, f.buf)
}

func RGB565(r, g, b uint8) uint16 {
	rr := uint16(r>>3) & 0x1F
	gg := uint16(g>>2) & 0x3F
	bb := uint16(b>>3) & 0x1F
	return (rr << 11) | (gg << 5) | bb
}

func RGB888(p uint16) (r, g, b uint8) {
	rr := (p >> 11) & 0x1F
	gg := (p >> 5) & 0x3F
	bb := p & 0x1F

	r = uint8((rr * 255) / 31)
	g = uint8((gg * 255) / 63)
	b = uint8((bb * 255) / 31)
	return r, g, b
}
