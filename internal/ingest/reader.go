package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
)

// chunkReader streams CSV records in bounded batches. It tolerates ragged
// rows and stray quotes; records the csv package still rejects are skipped
// and their line numbers reported back.
type chunkReader struct {
	r *csv.Reader
}

func newChunkReader(src io.Reader) *chunkReader {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return &chunkReader{r: r}
}

// header reads the first record. An empty input returns io.EOF.
func (c *chunkReader) header() ([]string, error) {
	return c.r.Read()
}

// next returns up to size records. It returns io.EOF only once no record is
// left; a short final chunk comes back with a nil error.
func (c *chunkReader) next(ctx context.Context, size int) (rows [][]string, malformed []int, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	rows = make([][]string, 0, min(size, 4096))
	for len(rows) < size {
		rec, err := c.r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				malformed = append(malformed, perr.Line)
				continue
			}
			return nil, malformed, err
		}
		rows = append(rows, rec)
	}
	if len(rows) == 0 && len(malformed) == 0 {
		return nil, nil, io.EOF
	}
	return rows, malformed, nil
}
