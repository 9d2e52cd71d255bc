package objectstore_test

import (
	"io"
	"strings"
)

func bytesReader(s string) io.ReadSeeker { return strings.NewReader(s) }
