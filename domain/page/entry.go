package page

// Status is the render state of a page entry.
type Status string

// Status values.
const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// Entry maps a rendered page to the bitmap holding its raster.
type Entry struct {
	number   int
	bitmapID string
	status   Status
}

// NewEntry creates an Entry.
func NewEntry(number int, bitmapID string, status Status) Entry {
	return Entry{
		number:   number,
		bitmapID: bitmapID,
		status:   status,
	}
}

// Number returns the 1-based page number.
func (e Entry) Number() int { return e.number }

// BitmapID returns the id of the bitmap in the bitmap store.
func (e Entry) BitmapID() string { return e.bitmapID }

// Status returns the render status.
func (e Entry) Status() Status { return e.status }

// Ready reports whether the page has a displayable bitmap.
func (e Entry) Ready() bool { return e.status == StatusReady && e.bitmapID != "" }
