package trackerhttp

import (
	"bytes"
	"io"
	"net"
)

func newByteReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// splitHostPort extracts the host from addr ("ip:port"), falling back to
// addr itself if it carries no port (e.g. under some test harnesses).
func splitHostPort(addr string) (host, port string, err error) {
	host, port, err = net.SplitHostPort(addr)
	if err != nil {
		return addr, "", nil
	}
	return host, port, nil
}
