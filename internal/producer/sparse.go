package producer

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/fastcopy/fastcopy/internal/job"
)

// detectSparseSegments walks SEEK_DATA/SEEK_HOLE to map out the data
// regions of a file, skipping holes instead of transferring zeroes.
// Returns a single whole-file segment if the filesystem doesn't support
// sparse detection.
//
//nolint:revive // cognitive-complexity: SEEK_DATA/SEEK_HOLE state machine with error recovery
func detectSparseSegments(fd *os.File, fileSize int64) ([]job.Segment, error) {
	if fileSize == 0 {
		return nil, nil
	}

	rawFd := int(fd.Fd())
	var segments []job.Segment
	offset := int64(0)

	for offset < fileSize {
		dataStart, err := unix.Seek(rawFd, offset, unix.SEEK_DATA)
		if err != nil {
			if isENXIO(err) {
				break
			}
			if isEINVAL(err) {
				return wholeFileSegment(fileSize), nil
			}
			return nil, err
		}

		holeStart, err := unix.Seek(rawFd, dataStart, unix.SEEK_HOLE)
		if err != nil {
			switch {
			case isENXIO(err):
				holeStart = fileSize
			case isEINVAL(err):
				return wholeFileSegment(fileSize), nil
			default:
				return nil, err
			}
		}
		if holeStart > fileSize {
			holeStart = fileSize
		}

		segments = append(segments, job.Segment{Offset: dataStart, Length: holeStart - dataStart})
		offset = holeStart
	}

	if len(segments) == 0 {
		return wholeFileSegment(fileSize), nil
	}
	return segments, nil
}

func wholeFileSegment(size int64) []job.Segment {
	return []job.Segment{{Offset: 0, Length: size}}
}

func isENXIO(err error) bool {
	return err == syscall.ENXIO
}

func isEINVAL(err error) bool {
	return err == syscall.EINVAL
}
