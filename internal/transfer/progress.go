package transfer

import "io"

// progressReader wraps an io.Reader and reports cumulative bytes via a
// callback every reportInterval bytes and once when the stream ends.
type progressReader struct {
	reader         io.Reader
	total          int64
	onProgress     func(read int64, total int64)
	totalRead      int64
	lastReport     int64
	reportInterval int64
}

func newProgressReader(r io.Reader, total int64, interval int64, cb func(read int64, total int64)) *progressReader {
	return &progressReader{
		reader:         r,
		total:          total,
		onProgress:     cb,
		reportInterval: interval,
	}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.lastReport += int64(n)

		if pr.lastReport >= pr.reportInterval {
			pr.onProgress(pr.totalRead, pr.total)
			pr.lastReport = 0
		}
	}

	if err == io.EOF && pr.lastReport > 0 {
		pr.onProgress(pr.totalRead, pr.total)
		pr.lastReport = 0
	}

	return n, err
}
