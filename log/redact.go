package log

import (
	"bytes"
	"io"
	"net"
	"net/url"
	"regexp"
	"sync"
)

// keyNamePattern matches SGX key names as issued by the remote signer.
var keyNamePattern = regexp.MustCompile(`NEK:[0-9a-fA-F_]+`)

const (
	keyNameToken = "[SGX_KEY]"
	hostToken    = "[REDACTED_HOST]"
)

var (
	redactMu    sync.RWMutex
	redactHosts []string
)

// RedactHosts registers remote endpoints whose host parts must never appear
// in log output. Raw URLs, host:port pairs and bare hosts are all accepted;
// an entry that does not parse as a URL is used as given, minus any port.
// Empty entries are skipped.
func RedactHosts(endpoints ...string) {
	hosts := []string{}
	for _, e := range endpoints {
		if e == "" {
			continue
		}
		host := e
		if u, err := url.Parse(e); err == nil && u.Host != "" {
			host = u.Host
		}
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if host != "" {
			hosts = append(hosts, host)
		}
	}
	redactMu.Lock()
	redactHosts = hosts
	redactMu.Unlock()
}

// redactBytes applies the key-name and host substitutions to a log line.
func redactBytes(p []byte) []byte {
	out := keyNamePattern.ReplaceAll(p, []byte(keyNameToken))
	redactMu.RLock()
	hosts := redactHosts
	redactMu.RUnlock()
	for _, h := range hosts {
		out = bytes.ReplaceAll(out, []byte(h), []byte(hostToken))
	}
	return out
}

type redactWriter struct {
	w io.Writer
}

func (r *redactWriter) Write(p []byte) (int, error) {
	if _, err := r.w.Write(redactBytes(p)); err != nil {
		return 0, err
	}
	// Report the original length so upstream writers do not see a short write.
	return len(p), nil
}

func redacted(w io.Writer) io.Writer {
	return &redactWriter{w: w}
}
