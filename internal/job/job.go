// Package job holds the core data model types shared across the producer,
// worker pool, registry, and recovery store: CopyJob and ActiveTransfer,
// per the spec's data model section.
package job

// UnknownSize marks a CopyJob whose size could not be determined up
// front (e.g. an external job-list entry before the source is stat'd).
const UnknownSize = int64(-1)

// Kind classifies the directory-entry taxonomy the Job Producer walked,
// mirroring the teacher's FileType but narrowed to what a job needs to
// carry downstream.
type Kind int

const (
	Regular Kind = iota
	Directory
	Symlink
	Hardlink
)

func (k Kind) String() string {
	switch k {
	case Regular:
		return "regular"
	case Directory:
		return "directory"
	case Symlink:
		return "symlink"
	case Hardlink:
		return "hardlink"
	default:
		return "unknown"
	}
}

// Segment marks a byte range of a regular file that holds real data, as
// opposed to a hole; used to skip sparse regions during copy.
type Segment struct {
	Offset int64
	Length int64
}

// Metadata carries the source's permission/ownership/time bits for
// optional preservation by the transport, independent of transport's own
// wire-level MetadataOpts so the producer never needs to import transport.
type Metadata struct {
	Mode    uint32
	UID     uint32
	GID     uint32
	ModTime int64 // unix nanoseconds
	AccTime int64 // unix nanoseconds
}

// CopyJob is an immutable value created by the Job Producer, moved exactly
// once through the job channel, never mutated. SourceURI/DestinationURI/
// KnownSizeBytes are the core triple the data model names; the remaining
// fields are supplemental (file-type taxonomy, hardlink/symlink targets,
// sparse segment lists, metadata) and are zero-valued for plain jobs.
type CopyJob struct {
	SourceURI      string
	DestinationURI string
	KnownSizeBytes int64

	Kind       Kind
	LinkTarget string // symlink target or hardlink's first-seen path
	DevIno     DevIno
	Segments   []Segment
	Metadata   *Metadata
}

// DevIno identifies an inode for hardlink detection across a directory walk.
type DevIno struct {
	Dev uint64
	Ino uint64
}

// Status is one of the ActiveTransfer lifecycle states.
type Status int

const (
	Pending Status = iota
	Copying
	Paused
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Copying:
		return "copying"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ActiveTransfer is mutable; its exclusive writer is the worker executing
// it, readers are the UI via a registry snapshot.
type ActiveTransfer struct {
	SourceURI        string
	DestinationURI   string
	TotalBytes       int64
	BytesTransferred int64
	BytesPerSecond   float64
	Status           Status
}
