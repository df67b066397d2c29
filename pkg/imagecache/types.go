package imagecache

// Status of a processed image as reported to callers.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
)

// Format constants for transform output
const (
	FormatWebP = "webp"
	FormatJPEG = "jpeg"
)

// Defaults applied during parameter canonicalization
const (
	DefaultQuality = 82
	DefaultFormat  = FormatWebP
)

// CropParams represents a client-supplied crop request. Quality and Format
// are optional; zero Quality and empty Format take the canonical defaults.
type CropParams struct {
	X       int    `json:"x"`
	Y       int    `json:"y"`
	W       int    `json:"w"`
	H       int    `json:"h"`
	Quality int    `json:"quality,omitempty"`
	Format  string `json:"format,omitempty"`
}

// NormalizedCrop is a CropParams with defaults resolved and the format
// alias normalized. All equivalence decisions (signature derivation,
// pipeline input) operate on this form.
type NormalizedCrop struct {
	X       int    `json:"x"`
	Y       int    `json:"y"`
	W       int    `json:"w"`
	H       int    `json:"h"`
	Quality int    `json:"quality"`
	Format  string `json:"format"`
}

// Normalize resolves defaults and the jpg alias. It does not bounds-check;
// that requires the decoded image dimensions and happens in the facade.
func (p CropParams) Normalize() NormalizedCrop {
	quality := p.Quality
	if quality == 0 {
		quality = DefaultQuality
	}
	format := p.Format
	if format == "jpg" {
		format = FormatJPEG
	}
	if format == "" {
		format = DefaultFormat
	}
	return NormalizedCrop{
		X:       p.X,
		Y:       p.Y,
		W:       p.W,
		H:       p.H,
		Quality: quality,
		Format:  format,
	}
}

// MIME returns the content type for the crop's output format.
func (c NormalizedCrop) MIME() string {
	if c.Format == FormatWebP {
		return "image/webp"
	}
	return "image/jpeg"
}

// Result is the caller-visible outcome of a submit or lookup. A processing
// result carries only Status, Hash, Sig and Key; a ready result carries the
// full payload. The same shape is stored verbatim as the cache entry.
type Result struct {
	Status         Status `json:"status"`
	ID             int64  `json:"id,omitempty"`
	Bucket         string `json:"bucket,omitempty"`
	Key            string `json:"key,omitempty"`
	Hash           string `json:"hash,omitempty"`
	Sig            string `json:"sig,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	MIME           string `json:"mime,omitempty"`
	Size           int64  `json:"size,omitempty"`
	Version        int    `json:"version,omitempty"`
	URL            string `json:"url,omitempty"`
	LastVerifiedAt int64  `json:"last_verified_at,omitempty"`
}

// Mode selects whether submit waits for the pipeline to finish.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// DedupMode names the synchronous-mode behavior when the lock cannot be
// acquired within the polling budget. Lenient proceeds anyway (favoring
// availability over strict dedup); Strict fails with ErrLockBusy.
type DedupMode string

const (
	DedupLenient DedupMode = "lenient"
	DedupStrict  DedupMode = "strict"
)
