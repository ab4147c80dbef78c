package httpclient

import (
	"errors"
	"fmt"
	"io"
)

// ErrBodyTooLarge is wrapped by ReadBody when a response outgrows its cap.
var ErrBodyTooLarge = errors.New("response body too large")

// ReadBody drains r, refusing bodies longer than max bytes. A non-positive
// max reads everything.
func ReadBody(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	switch {
	case err != nil:
		return nil, err
	case int64(len(data)) > max:
		return nil, fmt.Errorf("%w: cap is %d bytes", ErrBodyTooLarge, max)
	}
	return data, nil
}
