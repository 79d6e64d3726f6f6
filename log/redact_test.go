package log

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestRedactKeyNames(t *testing.T) {
	c := qt.New(t)

	line := []byte(`signing with key NEK:aaff00_1 done`)
	got := string(redactBytes(line))
	c.Assert(got, qt.Equals, "signing with key [SGX_KEY] done")
}

func TestRedactHosts(t *testing.T) {
	c := qt.New(t)
	RedactHosts("https://10.0.0.5:1026", "http://geth.internal:8545", "")
	defer RedactHosts()

	got := string(redactBytes([]byte("dialing 10.0.0.5:1026 and geth.internal")))
	c.Assert(got, qt.Equals, "dialing [REDACTED_HOST]:1026 and [REDACTED_HOST]")
}

func TestRedactLeavesOtherTextAlone(t *testing.T) {
	c := qt.New(t)
	RedactHosts()

	line := "transaction 0xabc confirmed"
	c.Assert(string(redactBytes([]byte(line))), qt.Equals, line)
}
