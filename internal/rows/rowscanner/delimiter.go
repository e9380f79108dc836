package rowscanner

// Delimiter delimits a contiguous range of rows in a result set: a chunk,
// a record batch in a chunk, or the whole result.
type Delimiter interface {
	// row number of the first row in the range
	Start() int64

	// row number of the last row in the range, Start()-1 for an empty range
	End() int64

	// number of rows in the range
	Count() int64

	// true if the row number falls inside the range
	Contains(int64) bool

	// where a row number lies relative to the range
	Direction(int64) Direction
}

// Define directions for seeking in a result
type Direction int

const (
	DirUnknown Direction = iota
	DirNone
	DirForward
	DirBack
)

var directionNames []string = []string{"Unknown", "None", "Forward", "Back"}

func (d Direction) String() string {
	return directionNames[d]
}

func NewDelimiter(start, count int64) Delimiter {
	if count < 0 {
		count = 0
	}
	return delimiter{
		start: start,
		count: count,
		end:   start + count - 1,
	}
}

type delimiter struct {
	start int64
	count int64
	end   int64
}

func (d delimiter) Start() int64 { return d.start }
func (d delimiter) End() int64   { return d.end }
func (d delimiter) Count() int64 { return d.count }

func (d delimiter) Contains(i int64) bool {
	return d.count > 0 && i >= d.start && i <= d.end
}

func (d delimiter) Direction(i int64) Direction {
	if d.Contains(i) {
		return DirNone
	} else if i < d.start {
		return DirBack
	} else if i > d.end {
		return DirForward
	}

	return DirUnknown
}
