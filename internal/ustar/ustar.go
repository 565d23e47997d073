// Package ustar wraps a byte stream as a single-entry USTAR archive
// stream (C5), shared by the Container and Pod transports so neither one
// re-implements tar framing. It is a Reader over four phases — header,
// content, pad, terminator — advancing exactly once per Read call that
// emits data.
package ustar

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/fastcopy/fastcopy/internal/errkind"
	"github.com/fastcopy/fastcopy/internal/ratelimit"
)

const blockSize = 512

type phase int

const (
	phaseHeader phase = iota
	phaseContent
	phasePad
	phaseTerminator
	phaseDone
)

// Framer implements io.Reader, emitting a valid USTAR archive for exactly
// one regular file entry of the given size, read from src.
type Framer struct {
	name  string
	size  int64
	mode  int64
	mtime int64

	src     io.Reader
	limiter *ratelimit.Limiter
	ctx     context.Context

	phase         phase
	header        []byte
	headerOff     int
	contentRemain int64
	padRemain     int64
	termOff       int
}

// Option configures a Framer.
type Option func(*Framer)

// WithRateLimit applies limiter to the content phase only, per §4.5.
func WithRateLimit(ctx context.Context, limiter *ratelimit.Limiter) Option {
	return func(f *Framer) {
		f.ctx = ctx
		f.limiter = limiter
	}
}

// WithMode overrides the header mode field (default 0644).
func WithMode(mode int64) Option {
	return func(f *Framer) { f.mode = mode }
}

// WithMtime overrides the header mtime field (default 0).
func WithMtime(mtime int64) Option {
	return func(f *Framer) { f.mtime = mtime }
}

// New wraps src as a USTAR archive stream containing one regular file
// named name with the declared size. name is truncated to 100 bytes per
// the USTAR header name field width.
func New(src io.Reader, name string, size int64, opts ...Option) *Framer {
	f := &Framer{
		name:          name,
		size:          size,
		mode:          0644,
		src:           src,
		ctx:           context.Background(),
		phase:         phaseHeader,
		contentRemain: size,
		padRemain:     padLength(size),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.header = buildHeader(f.name, f.size, f.mode, f.mtime)
	return f
}

func padLength(size int64) int64 {
	rem := size % blockSize
	if rem == 0 {
		return 0
	}
	return blockSize - rem
}

// Read implements io.Reader, advancing through the header/content/pad/
// terminator phases. It advances exactly once per call that emits data.
func (f *Framer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	switch f.phase {
	case phaseHeader:
		n := copy(p, f.header[f.headerOff:])
		f.headerOff += n
		if f.headerOff >= len(f.header) {
			f.phase = phaseContent
		}
		return n, nil

	case phaseContent:
		if f.contentRemain == 0 {
			f.phase = phasePad
			return f.Read(p)
		}
		want := int64(len(p))
		if want > f.contentRemain {
			want = f.contentRemain
		}
		n, err := f.src.Read(p[:want])
		if n > 0 {
			if f.limiter != nil {
				if werr := f.limiter.Consume(f.ctx, int64(n)); werr != nil {
					return n, werr
				}
			}
			f.contentRemain -= int64(n)
			if f.contentRemain == 0 {
				f.phase = phasePad
			}
			return n, nil
		}
		if err == io.EOF {
			return 0, fmt.Errorf("ustar: %w", errkind.ErrSourceEndedPrematurely)
		}
		return 0, err

	case phasePad:
		if f.padRemain == 0 {
			f.phase = phaseTerminator
			return f.Read(p)
		}
		want := int64(len(p))
		if want > f.padRemain {
			want = f.padRemain
		}
		for i := int64(0); i < want; i++ {
			p[i] = 0
		}
		f.padRemain -= want
		if f.padRemain == 0 {
			f.phase = phaseTerminator
		}
		return int(want), nil

	case phaseTerminator:
		total := 2 * blockSize
		remain := total - f.termOff
		if remain == 0 {
			f.phase = phaseDone
			return 0, io.EOF
		}
		n := len(p)
		if n > remain {
			n = remain
		}
		for i := 0; i < n; i++ {
			p[i] = 0
		}
		f.termOff += n
		if f.termOff >= total {
			f.phase = phaseDone
		}
		return n, nil

	default:
		return 0, io.EOF
	}
}

// TotalLen returns the total number of bytes the framer will emit:
// 512 + size + pad + 1024.
func (f *Framer) TotalLen() int64 {
	return blockSize + f.size + padLength(f.size) + 2*blockSize
}

func buildHeader(name string, size, mode, mtime int64) []byte {
	h := make([]byte, blockSize)

	nameBytes := []byte(name)
	if len(nameBytes) > 100 {
		nameBytes = nameBytes[:100]
	}
	copy(h[0:100], nameBytes)

	putOctal(h[100:108], mode, 7)
	putOctal(h[108:116], 0, 7) // uid
	putOctal(h[116:124], 0, 7) // gid
	putOctal(h[124:136], size, 11)
	putOctal(h[136:148], mtime, 11)

	for i := 148; i < 156; i++ {
		h[i] = ' '
	}

	h[156] = '0' // typeflag: regular file
	copy(h[257:263], []byte("ustar\x00"))
	copy(h[263:265], []byte("00"))

	sum := checksum(h)
	chk := strconv.FormatInt(sum, 8)
	for len(chk) < 6 {
		chk = "0" + chk
	}
	copy(h[148:154], []byte(chk))
	h[154] = 0
	h[155] = ' '

	return h
}

// putOctal writes v as a zero-padded octal string of width digits followed
// by a NUL, into field (which must be digits+1 bytes long).
func putOctal(field []byte, v int64, digits int) {
	s := strconv.FormatInt(v, 8)
	for len(s) < digits {
		s = "0" + s
	}
	if len(s) > digits {
		s = s[len(s)-digits:]
	}
	copy(field, []byte(s))
	field[digits] = 0
}

func checksum(h []byte) int64 {
	var sum int64
	for i, b := range h {
		if i >= 148 && i < 156 {
			sum += int64(' ')
			continue
		}
		sum += int64(b)
	}
	return sum
}
